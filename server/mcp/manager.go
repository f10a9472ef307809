package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager handles all active sessions
type Manager struct {
	sessions        map[string]*Session
	mu              sync.RWMutex
	logger          *zap.Logger
	ServerInfo      schema.Implementation
	Instructions    string
	inputProcessor  *shared.Input
	outboundTimeout time.Duration
	sessionTimeout  time.Duration // Idle cutoff for the sweeper, guarded by mu
}

// NewManager creates a new session manager. The message processing loop and
// the idle-session sweeper run until ctx is cancelled.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.IConfig) (*Manager, error) {
	serverName, err := cfg.ServerName()
	if err != nil {
		return nil, err
	}
	serverVersion, err := cfg.ServerVersion()
	if err != nil {
		return nil, err
	}
	instructions, err := cfg.ServerInstructions()
	if err != nil {
		return nil, err
	}
	outboundTimeout, err := cfg.OutboundRequestTimeout()
	if err != nil {
		return nil, err
	}
	cleanupInterval, err := cfg.SessionCleanupInterval()
	if err != nil {
		return nil, err
	}
	sessionTimeout, err := cfg.SessionTimeout()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		sessions:        make(map[string]*Session),
		logger:          logger,
		inputProcessor:  shared.NewInput(logger),
		Instructions:    instructions,
		outboundTimeout: outboundTimeout,
		sessionTimeout:  sessionTimeout,
		ServerInfo: schema.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
	}
	go m.inputProcessor.Process(ctx)
	m.startCleanupLoop(ctx, cleanupInterval)
	return m, nil
}

// SetSessionTimeout overrides the idle cutoff the sweeper works with.
func (m *Manager) SetSessionTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	m.sessionTimeout = timeout
	m.mu.Unlock()
}

// Input returns the manager's input processor.
func (m *Manager) Input() *shared.Input {
	return m.inputProcessor
}

func (m *Manager) GetLogger() *zap.Logger {
	return m.logger
}

func (m *Manager) GetServerInfo() *schema.Implementation {
	return &m.ServerInfo
}

// GetServerInstructions returns the optional instructions text advertised
// during the initialize handshake.
func (m *Manager) GetServerInstructions() string {
	return m.Instructions
}

// AddCapability registers one or more capabilities with the input processor.
func (m *Manager) AddCapability(capabilities ...shared.ICapability) {
	for _, cap := range capabilities {
		if serverCap, ok := cap.(shared.IServerCapability); ok {
			m.inputProcessor.AddServerCapability(serverCap)
		} else if clientCap, ok := cap.(shared.IClientCapability); ok {
			m.inputProcessor.AddClientCapability(clientCap)
		} else {
			m.logger.Warn("Unknown capability type, cannot add", zap.String("type", fmt.Sprintf("%T", cap)))
		}
	}
}

// GetOrCreateSession resolves the session for an inbound frame. An empty id
// mints a fresh one. An id that is unknown, including the id of a session
// that has already been swept, produces a brand-new session in the
// uninitialized state; the client is expected to redo the handshake. For an
// existing session the request context is replaced and the activity clock
// touched, but session parameters are left alone.
func (m *Manager) GetOrCreateSession(userID string, id string, params *sync.Map, reqCtx *shared.RequestContext) shared.ISession {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	session, exists := m.sessions[id]
	if !exists {
		session = NewSession(m, userID, id, m.inputProcessor, params)
		session.SetDefaultOutboundTimeout(m.outboundTimeout)
		m.sessions[id] = session
	}
	m.mu.Unlock()

	if !exists {
		m.logger.Debug("Created new session",
			zap.String("sessionID", id),
			zap.String("userID", userID),
		)
	}
	if reqCtx != nil {
		session.SetRequestContext(reqCtx)
	}
	session.UpdateLastActivity()
	return session
}

// SessionCount reports how many sessions are currently tracked.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetSession retrieves a session by its ID
func (m *Manager) GetSession(id string) (shared.ISession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// CloseSession removes a session and cleans up resources. The stdio session
// is bound to the process and refuses termination.
func (m *Manager) CloseSession(id string) error {
	if id == shared.StdioSessionID {
		return fmt.Errorf("session %s lives with the process and cannot be closed", id)
	}

	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		m.logger.Warn("Attempted to close non-existent session", zap.String("sessionID", id))
		return ErrSessionNotFound
	}
	if err := session.Close(); err != nil {
		m.logger.Error("Error closing session resources", zap.String("sessionID", id), zap.Error(err))
	}
	m.logger.Info("Closed session", zap.String("sessionID", id))
	return nil
}

// CloseAllSessions tears down every session at shutdown, the stdio one
// included.
func (m *Manager) CloseAllSessions() {
	m.mu.Lock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessionsToClose = append(sessionsToClose, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock() // Release lock before closing

	var wg sync.WaitGroup
	for _, session := range sessionsToClose {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(); err != nil {
				m.logger.Error("Error closing session resources", zap.String("sessionID", s.GetID()), zap.Error(err))
			}
		}(session)
	}
	wg.Wait() // Wait for all sessions to be closed
	m.logger.Info("Closed all sessions")
}

func (m *Manager) startCleanupLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.RLock()
				timeout := m.sessionTimeout
				m.mu.RUnlock()
				m.CleanupIdleSessions(timeout)
			}
		}
	}()
}

// CleanupIdleSessions closes every session whose last activity is older
// than timeout. The stdio session is exempt; it lives with the process.
func (m *Manager) CleanupIdleSessions(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)

	m.mu.RLock()
	expired := make([]string, 0)
	for id, session := range m.sessions {
		if id == shared.StdioSessionID {
			continue
		}
		if session.GetLastActivity().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.logger.Info("Closing idle session", zap.String("sessionID", id))
		m.CloseSession(id)
	}
}

// NotifyEligibleSessions broadcasts a notification to every initialized
// session that currently has a writer attached, and reports how many
// sessions received it.
func (m *Manager) NotifyEligibleSessions(method string, params map[string]any) int {
	m.mu.RLock()
	// Create a slice of sessions to notify to avoid holding the lock during SendNotification
	sessionsToNotify := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if session.GetStatus() == shared.StatusConnected && session.CanAcceptOutbound() {
			sessionsToNotify = append(sessionsToNotify, session)
		}
	}
	m.mu.RUnlock() // Release lock before sending notifications

	sent := 0
	for _, session := range sessionsToNotify {
		if err := session.SendNotification(method, params); err != nil {
			m.logger.Debug("Session skipped during broadcast",
				zap.String("sessionID", session.GetID()),
				zap.String("method", method),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	if sent > 0 {
		m.logger.Debug("Sent notification to eligible sessions",
			zap.String("method", method),
			zap.Int("count", sent),
		)
	}
	return sent
}

func (m *Manager) AddValidator(validators ...shared.MessageValidator) {
	m.inputProcessor.AddValidator(validators...)
}
