package config

import (
	"context"
	"errors"
	"sync"
	"time"
)

var _ IConfig = (*InternalConfig)(nil)
var ErrNotFound = errors.New("not found")

// InternalConfig implements all configuration interfaces with in-memory storage
type InternalConfig struct {
	mu                          sync.RWMutex
	ServerAddress               string
	ServerNameValue             string
	ServerVersionValue          string
	ServerInstructionsValue     string
	AuthorizationTypeValue      AuthorizationType
	LogLevelValue               string
	PathPrefixValue             string
	SessionTimeoutValue         time.Duration
	SessionCleanupIntervalValue time.Duration
	OutboundRequestTimeoutValue time.Duration
	EventRetentionValue         int
	AllowedOriginsValue         []string
	UserKeyHashes               map[string]string            // keyHash -> userID
	userParams                  map[string]map[string]string // userID -> paramName -> paramValue

	SSLEnabledValue      bool
	SSLModeValue         string
	SSLCertFileValue     string
	SSLKeyFileValue      string
	SSLAcmeDomainsValue  []string
	SSLAcmeEmailValue    string
	SSLAcmeCacheDirValue string
}

// NewInternalConfig creates a new in-memory configuration
func NewInternalConfig() *InternalConfig {
	return &InternalConfig{
		ServerAddress:               ":8080",
		ServerNameValue:             "Unknown",
		ServerVersionValue:          "0.0.0",
		AuthorizationTypeValue:      NotAuthorizedEverywhere,
		LogLevelValue:               "info",
		PathPrefixValue:             DefaultPathPrefix,
		SessionTimeoutValue:         DefaultSessionTimeout,
		SessionCleanupIntervalValue: DefaultSessionCleanupInterval,
		OutboundRequestTimeoutValue: DefaultOutboundRequestTimeout,
		EventRetentionValue:         DefaultEventRetention,
		AllowedOriginsValue:         []string{"*"},
		SSLModeValue:                "manual",
		SSLAcmeCacheDirValue:        "./.autocert-cache",

		UserKeyHashes: make(map[string]string),
		userParams:    make(map[string]map[string]string),
	}
}

// ServerConfig implementation

func (c *InternalConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerAddress, nil
}

func (c *InternalConfig) SetListenAddr(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerAddress = addr
}

func (c *InternalConfig) AuthorizationType() (AuthorizationType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AuthorizationTypeValue, nil
}

func (c *InternalConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerNameValue, nil
}

func (c *InternalConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerVersionValue, nil
}

func (c *InternalConfig) ServerInstructions() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerInstructionsValue, nil
}

func (c *InternalConfig) SetServerInfo(name, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerNameValue = name
	c.ServerVersionValue = version
}

func (c *InternalConfig) SetServerInstructions(instructions string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerInstructionsValue = instructions
}

// LogLevel returns the configured log level
func (c *InternalConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevelValue, nil
}

func (c *InternalConfig) SetLogLevel(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogLevelValue = level
}

// PathPrefix returns the URL prefix the protocol endpoints are mounted under
func (c *InternalConfig) PathPrefix() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PathPrefixValue, nil
}

func (c *InternalConfig) SetPathPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PathPrefixValue = prefix
}

// Session & outbound settings

func (c *InternalConfig) SessionTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionTimeoutValue, nil
}

func (c *InternalConfig) SetSessionTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionTimeoutValue = d
}

func (c *InternalConfig) SessionCleanupInterval() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionCleanupIntervalValue, nil
}

func (c *InternalConfig) SetSessionCleanupInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionCleanupIntervalValue = d
}

func (c *InternalConfig) OutboundRequestTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.OutboundRequestTimeoutValue, nil
}

func (c *InternalConfig) SetOutboundRequestTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OutboundRequestTimeoutValue = d
}

// Transport settings

func (c *InternalConfig) EventRetention() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EventRetentionValue, nil
}

func (c *InternalConfig) SetEventRetention(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EventRetentionValue = n
}

func (c *InternalConfig) AllowedOrigins() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	originsCopy := make([]string, len(c.AllowedOriginsValue))
	copy(originsCopy, c.AllowedOriginsValue)
	return originsCopy, nil
}

func (c *InternalConfig) SetAllowedOrigins(origins []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	originsCopy := make([]string, len(origins))
	copy(originsCopy, origins)
	c.AllowedOriginsValue = originsCopy
}

// UsersConfig implementation

func (c *InternalConfig) GetUserIDByKeyHash(keyHash string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// If empty key hash, return empty user ID
	if keyHash == "" {
		return "", nil
	}

	return c.UserKeyHashes[keyHash], nil
}

func (c *InternalConfig) SetUserKeyHash(keyHash, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UserKeyHashes[keyHash] = userID
}

func (c *InternalConfig) GetUserParams(userID string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	params, exists := c.userParams[userID]
	if !exists {
		return make(map[string]string), nil
	}

	// Return a copy to prevent concurrent modification
	paramsCopy := make(map[string]string, len(params))
	for k, v := range params {
		paramsCopy[k] = v
	}
	return paramsCopy, nil
}

func (c *InternalConfig) SetUserParam(userID, paramName, paramValue string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	params, exists := c.userParams[userID]
	if !exists {
		params = make(map[string]string)
		c.userParams[userID] = params
	}

	params[paramName] = paramValue
}

// SSL settings

func (c *InternalConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLEnabledValue, nil
}

func (c *InternalConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLModeValue, nil
}

func (c *InternalConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLCertFileValue, nil
}

func (c *InternalConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLKeyFileValue, nil
}

func (c *InternalConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	domainsCopy := make([]string, len(c.SSLAcmeDomainsValue))
	copy(domainsCopy, c.SSLAcmeDomainsValue)
	return domainsCopy, nil
}

func (c *InternalConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeEmailValue, nil
}

func (c *InternalConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeCacheDirValue, nil
}

func (c *InternalConfig) Close() error {
	return nil
}

func (c *InternalConfig) Status(ctx context.Context) error {
	return nil
}
