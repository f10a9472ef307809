package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vecmcp/vecmcp/server/extra"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
	"go.uber.org/zap"
)

const (
	SessionIDQueryParam = "session_id"     // Query parameter carrying the session ID on the legacy endpoints
	AuthKeyQueryParam   = "key"            // Query parameter fallback for the authentication key
	MCPSessionHeader    = "Mcp-Session-Id" // Header carrying the session ID on the streamable endpoint
	LastEventIDHeader   = "Last-Event-ID"  // Header carrying the resume position on the streamable GET stream

	SSEPathSuffix     = "/sse"     // Legacy stream endpoint under the prefix
	MessagePathSuffix = "/message" // Legacy post endpoint under the prefix

	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
)

// ISessionManager is the slice of the session manager the transports consume.
// Declaring it on the consumer side keeps the transport and server packages
// free of a dependency cycle.
type ISessionManager interface {
	GetOrCreateSession(userID string, id string, params *sync.Map, reqCtx *shared.RequestContext) shared.ISession
	GetSession(id string) (shared.ISession, error)
	CloseSession(id string) error
	SessionCount() int
}

// Transport serves the MCP HTTP endpoints: the streamable endpoint at the
// configured prefix and the legacy SSE pair underneath it.
type Transport struct {
	sessionManager    ISessionManager
	logger            *zap.Logger
	authManager       AuthenticationManager
	config            config.IConfig
	events            *EventStore
	pathPrefix        string
	allowedOrigins    []string      // When set, takes precedence over the config allow-list
	responseWait      time.Duration // How long a POST waits for handler responses
	heartbeatInterval time.Duration // Idle heartbeat period on the streamable GET stream
	ssePingInterval   time.Duration // Keepalive ping period on the legacy stream
}

// TransportOption defines a function type for configuring the Transport.
type TransportOption func(*Transport) error

// WithResponseWait sets how long a streamable POST waits for its responses.
func WithResponseWait(timeout time.Duration) TransportOption {
	return func(t *Transport) error {
		if timeout <= 0 {
			return errors.New("response wait must be positive")
		}
		t.responseWait = timeout
		return nil
	}
}

// WithHeartbeatInterval sets the idle heartbeat period for streamable GET streams.
func WithHeartbeatInterval(interval time.Duration) TransportOption {
	return func(t *Transport) error {
		if interval <= 0 {
			return errors.New("heartbeat interval must be positive")
		}
		t.heartbeatInterval = interval
		return nil
	}
}

// WithSSEPingInterval sets the keepalive ping period for legacy SSE streams.
func WithSSEPingInterval(interval time.Duration) TransportOption {
	return func(t *Transport) error {
		if interval <= 0 {
			return errors.New("ping interval must be positive")
		}
		t.ssePingInterval = interval
		return nil
	}
}

// WithPathPrefix overrides the endpoint prefix from the config. Must be
// applied before RegisterHandlers.
func WithPathPrefix(prefix string) TransportOption {
	return func(t *Transport) error {
		t.pathPrefix = normalizePrefix(prefix)
		return nil
	}
}

// WithEventRetention overrides the resumption buffer size from the config.
func WithEventRetention(retention int) TransportOption {
	return func(t *Transport) error {
		if retention <= 0 {
			return errors.New("event retention must be positive")
		}
		t.events.SetRetention(retention)
		return nil
	}
}

// WithAllowedOrigins overrides the origin allow-list from the config.
func WithAllowedOrigins(origins []string) TransportOption {
	return func(t *Transport) error {
		t.allowedOrigins = append([]string(nil), origins...)
		return nil
	}
}

// New creates a new MCP HTTP transport handler.
func New(sessionManager ISessionManager, logger *zap.Logger, cfg config.IConfig, options ...TransportOption) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionManager == nil {
		return nil, errors.New("session manager cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	pathPrefix, err := cfg.PathPrefix()
	if err != nil {
		return nil, fmt.Errorf("failed to get path prefix from config: %w", err)
	}
	retention, err := cfg.EventRetention()
	if err != nil {
		return nil, fmt.Errorf("failed to get event retention from config: %w", err)
	}

	transport := &Transport{
		sessionManager:    sessionManager,
		logger:            logger.Named("transport"),
		authManager:       NewAuthenticator(cfg, logger),
		config:            cfg,
		events:            NewEventStore(retention, logger),
		pathPrefix:        normalizePrefix(pathPrefix),
		responseWait:      30 * time.Second,
		heartbeatInterval: 30 * time.Second,
		ssePingInterval:   30 * time.Second,
	}

	for _, option := range options {
		if err := option(transport); err != nil {
			return nil, fmt.Errorf("failed to apply transport option: %w", err)
		}
	}

	logger.Info("MCP HTTP transport created",
		zap.String("pathPrefix", transport.pathPrefix),
		zap.Int("eventRetention", retention),
	)

	return transport, nil
}

// SetAuthManager allows changing the authentication manager.
func (t *Transport) SetAuthManager(authManager AuthenticationManager) {
	t.authManager = authManager
}

// PathPrefix returns the normalized endpoint prefix.
func (t *Transport) PathPrefix() string {
	return t.pathPrefix
}

// EventStore returns the transport's event store.
func (t *Transport) EventStore() *EventStore {
	return t.events
}

// RegisterHandlers registers the MCP endpoints with the HTTP mux.
func (t *Transport) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc(t.pathPrefix, t.HandleStreamable())
	mux.HandleFunc(t.pathPrefix+SSEPathSuffix, t.HandleSSE())
	mux.HandleFunc(t.pathPrefix+MessagePathSuffix, t.HandleMessage())
	mux.HandleFunc("/status", extra.StatusHandler(t.config, t.sessionManager, t.logger))
	mux.HandleFunc("/", t.HandleHealth())
	t.logger.Info("Registered MCP handlers",
		zap.String("streamable", t.pathPrefix),
		zap.String("sse", t.pathPrefix+SSEPathSuffix),
		zap.String("message", t.pathPrefix+MessagePathSuffix),
	)
}

// HandleStreamable serves the single streamable endpoint.
func (t *Transport) HandleStreamable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := t.logger

		logger.Debug("Received request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remoteAddr", r.RemoteAddr),
		)

		if !t.checkOrigin(w, r, logger) {
			return
		}

		switch r.Method {
		case http.MethodPost:
			t.handleStreamablePOST(w, r, logger)
		case http.MethodGet:
			t.handleStreamableGET(w, r, logger)
		case http.MethodDelete:
			t.handleStreamableDELETE(w, r, logger)
		case http.MethodOptions:
			w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+MCPSessionHeader+", "+LastEventIDHeader)
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Warn("Method not allowed", zap.String("method", r.Method))
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}

// HandleSSE serves the legacy stream endpoint.
func (t *Transport) HandleSSE() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := t.logger

		logger.Debug("Received request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remoteAddr", r.RemoteAddr),
		)

		if !t.checkOrigin(w, r, logger) {
			return
		}

		switch r.Method {
		case http.MethodGet:
			t.handleSSEGET(w, r, logger)
		case http.MethodOptions:
			w.Header().Set("Allow", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Warn("Method not allowed", zap.String("method", r.Method))
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}

// HandleMessage serves the legacy post endpoint.
func (t *Transport) HandleMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := t.logger

		logger.Debug("Received request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remoteAddr", r.RemoteAddr),
			zap.String("query", r.URL.RawQuery),
		)

		if !t.checkOrigin(w, r, logger) {
			return
		}

		switch r.Method {
		case http.MethodPost:
			t.handleMessagePOST(w, r, logger)
		case http.MethodOptions:
			w.Header().Set("Allow", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Warn("Method not allowed", zap.String("method", r.Method))
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}

// HandleHealth serves the plaintext health check at the root path.
func (t *Transport) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	}
}

// checkOrigin enforces the configured origin allow-list. A request without
// an Origin header always passes; a listed origin passes and gets the
// matching CORS header; everything else is rejected with 403.
func (t *Transport) checkOrigin(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := t.allowedOrigins
	if allowed == nil {
		var err error
		allowed, err = t.config.AllowedOrigins()
		if err != nil {
			logger.Warn("Failed to read allowed origins from config, allowing any", zap.Error(err))
			allowed = []string{"*"}
		}
	}

	for _, candidate := range allowed {
		if candidate == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			return true
		}
		if candidate == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			return true
		}
	}

	logger.Warn("Rejected request from disallowed origin",
		zap.String("origin", origin),
		zap.String("remoteAddr", r.RemoteAddr),
	)
	http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
	return false
}

// authenticate resolves the caller identity from the request credentials.
func (t *Transport) authenticate(r *http.Request) (string, *sync.Map, error) {
	return t.authManager.Authenticate(extractAuthKey(r), r.RemoteAddr)
}

// extractAuthKey tries to get the auth key from the Authorization header or
// the query string.
func extractAuthKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get(AuthKeyQueryParam)
}

// normalizePrefix guarantees a leading slash and no trailing slash; an empty
// or root prefix falls back to the default.
func normalizePrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return config.DefaultPathPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(prefix, "/")
}

// sendJSONResponse writes data as a JSON body with the given status.
func sendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error("Failed to encode JSON response", zap.Error(err))
		}
	}
}

// sendJSONRPCErrorResponse writes a JSON-RPC error envelope with the given
// HTTP status. Protocol-level failures ride 4xx here; handler-level errors
// flow through the normal response path and stay HTTP 200.
func sendJSONRPCErrorResponse(w http.ResponseWriter, statusCode int, id *schema.RequestID, rpcErr *shared.JSONRPCError, logger *zap.Logger) {
	errResp := shared.JSONRPCErrorResponse{
		JSONRPC: shared.JSONRPCVersion,
		ID:      id, // Can be nil when no id could be recovered
		Error:   rpcErr,
	}
	logger.Warn("Sending JSON-RPC error",
		zap.Int("httpStatus", statusCode),
		zap.Int("code", rpcErr.Code),
		zap.String("message", rpcErr.Message),
		zap.Any("reqID", id),
	)
	sendJSONResponse(w, statusCode, errResp, logger)
}
