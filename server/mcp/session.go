package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

type IDownstreamSession interface {
	shared.ISession
	SetClientInfo(info schema.Implementation, caps schema.ClientCapabilities)
}

var _ IDownstreamSession = (*Session)(nil)

// Session represents a client connection session
type Session struct {
	*shared.BaseSession
	manager *Manager
	UserID  string // User identifier for the session

	ClientCapabilities *schema.ClientCapabilities `json:"-"` // Capabilities reported by the client
	ClientInfo         schema.Implementation      `json:"-"` // Info about the client implementation
}

// NewSession creates a new session with the given parameters
func NewSession(manager *Manager, userID string, id string, inputProcessor *shared.Input, params *sync.Map) *Session {
	// ClientCapabilities and ClientInfo are set during initialization
	return &Session{
		BaseSession: shared.NewBaseSession(manager.GetLogger(), id, inputProcessor, params),
		manager:     manager,
		UserID:      userID,
	}
}

func (s *Session) Close() error {
	logger := s.BaseSession.Logger
	logger.Debug("Closing server session")
	err := s.BaseSession.Close()
	if err != nil {
		logger.Error("Error while closing base session", zap.Error(err))
	}
	return err
}

// SetClientInfo stores the client's capabilities and implementation info.
func (s *Session) SetClientInfo(info schema.Implementation, caps schema.ClientCapabilities) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.ClientInfo = info
	s.ClientCapabilities = &caps
}

// GetClientInfo retrieves the client's implementation info.
func (s *Session) GetClientInfo() schema.Implementation {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.ClientInfo
}

// GetClientCapabilities retrieves the client's reported capabilities.
func (s *Session) GetClientCapabilities() *schema.ClientCapabilities {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.ClientCapabilities
}

// CreateMessage asks the connected client to run a model inference on the
// server's behalf. It blocks until the client answers, the request times
// out, or ctx is cancelled.
func (s *Session) CreateMessage(ctx context.Context, params *schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error) {
	if caps := s.GetClientCapabilities(); caps == nil || caps.Sampling == nil {
		return nil, errors.New("client did not advertise sampling capability")
	}

	raw, err := s.SendRequestSync(ctx, "sampling/createMessage", params, 0)
	if err != nil {
		return nil, err
	}
	var result schema.CreateMessageResult
	if err := json.Unmarshal(*raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse sampling result: %w", err)
	}
	return &result, nil
}
