package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

var _ shared.IServerCapability = (*SamplingCapability)(nil)

// SamplingCapability lets server-side code ask a connected client to run a
// model inference. It registers no inbound methods; its presence only
// advertises sampling in the handshake and provides the typed entry point.
type SamplingCapability struct {
	logger  *zap.Logger
	manager *mcp.Manager
}

// NewSamplingCapability creates a new SamplingCapability.
func NewSamplingCapability(logger *zap.Logger, manager *mcp.Manager) *SamplingCapability {
	return &SamplingCapability{
		logger:  logger,
		manager: manager,
	}
}

func (sc *SamplingCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){}
}

func (sc *SamplingCapability) SetCapabilities(s *schema.ServerCapabilities) {
	sc.logger.Debug("SetCapabilities called on SamplingCapability")
	s.Sampling = &struct{}{}
}

// CreateMessage sends a sampling/createMessage request to the session's
// client and waits for the answer.
func (sc *SamplingCapability) CreateMessage(ctx context.Context, session shared.ISession, params *schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error) {
	if mcpSession, ok := session.(*mcp.Session); ok {
		return mcpSession.CreateMessage(ctx, params)
	}

	raw, err := session.SendRequestSync(ctx, "sampling/createMessage", params, 0)
	if err != nil {
		return nil, err
	}
	var result schema.CreateMessageResult
	if err := json.Unmarshal(*raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse sampling result: %w", err)
	}
	return &result, nil
}

// CreateMessageForSession resolves the session by id before sending the
// sampling request.
func (sc *SamplingCapability) CreateMessageForSession(ctx context.Context, sessionID string, params *schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error) {
	session, err := sc.manager.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return sc.CreateMessage(ctx, session, params)
}
