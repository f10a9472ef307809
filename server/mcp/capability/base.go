package capability

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

var _ shared.IServerCapability = (*BaseCapability)(nil)

// BaseCapability provides handlers for the protocol handshake: initialize,
// ping, and the initialized notification.
type BaseCapability struct {
	logger   *zap.Logger
	manager  *mcp.Manager
	handlers map[string]func(*shared.Message) (interface{}, error)
}

// NewBase creates a new BaseCapability.
func NewBase(logger *zap.Logger, manager *mcp.Manager) *BaseCapability {
	bc := &BaseCapability{
		logger:  logger,
		manager: manager,
	}
	bc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"ping":       bc.handlePing,
		"initialize": bc.handleInitialize,
		// Clients of different generations send the initialized
		// notification with and without the notifications/ prefix.
		"initialized":               bc.handleNotificationInitialized,
		"notifications/initialized": bc.handleNotificationInitialized,
	}

	return bc
}

// GetHandlers returns a map of method names to handler functions
// This satisfies the shared.ICapability interface
func (bc *BaseCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return bc.handlers
}

// SetCapabilities sets the server capabilities for this capability
// This satisfies the shared.IServerCapability interface
func (bc *BaseCapability) SetCapabilities(s *schema.ServerCapabilities) {
	// The base capability doesn't have specific capability options
	// It's implicitly required for the protocol handshake.
	bc.logger.Debug("SetCapabilities called on BaseCapability")
}

// handleInitialize handles the 'initialize' request from the client.
func (bc *BaseCapability) handleInitialize(msg *shared.Message) (interface{}, error) {
	sessionID := msg.Session.GetID()
	logger := bc.logger.With(zap.String("sessionID", sessionID), zap.String("method", "initialize"))
	logger.Debug("Handling initialize request")

	var params schema.InitializeRequestParams
	if msg.Params == nil {
		logger.Warn("Received initialize request with missing params")
		return nil, shared.NewInvalidParamsError("missing params")
	}
	err := json.Unmarshal(*msg.Params, &params)
	if err != nil {
		logger.Error("Failed to unmarshal initialize params", zap.Error(err), zap.ByteString("params", *msg.Params))
		return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
	}

	requestedVersion := params.ProtocolVersion
	clientCaps := params.Capabilities
	clientInfo := params.ClientInfo

	logger.Info("Received initialize request",
		zap.String("requestedVersion", requestedVersion),
		zap.String("clientName", clientInfo.Name),
		zap.String("clientVersion", clientInfo.Version),
	)
	logger.Debug("Client reported capabilities", zap.Any("clientCaps", clientCaps))

	// The server speaks exactly one protocol revision. If the client asked
	// for something else we answer with ours; a client that cannot work
	// with it is expected to disconnect.
	if requestedVersion != schema.PROTOCOL_VERSION {
		logger.Warn("Client requested a different protocol version, responding with the server's",
			zap.String("requestedVersion", requestedVersion),
			zap.String("serverVersion", schema.PROTOCOL_VERSION))
	}

	session, ok := msg.Session.(mcp.IDownstreamSession)
	if !ok {
		logger.Error("Session type assertion failed in handleInitialize")
		return nil, shared.NewInternalError("initialize")
	}
	session.SetNegotiatedVersion(schema.PROTOCOL_VERSION)
	session.SetClientInfo(clientInfo, clientCaps)

	// Collect server capabilities from every registered capability.
	capabilities := schema.ServerCapabilities{}
	msg.Session.Input().SetCapabilities(&capabilities)

	response := schema.InitializeResult{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		Capabilities:    capabilities,
		ServerInfo:      *bc.manager.GetServerInfo(),
		Instructions:    bc.manager.GetServerInstructions(),
	}

	logger.Debug("Sending initialize response", zap.Any("serverInfo", response.ServerInfo))
	// Set session status to Connecting *after* successfully preparing response
	session.SetStatus(shared.StatusConnecting)
	return response, nil
}

// handleNotificationInitialized handles the 'initialized' notification from the client.
func (bc *BaseCapability) handleNotificationInitialized(msg *shared.Message) (interface{}, error) {
	session := msg.Session
	logger := bc.logger.With(zap.String("sessionID", session.GetID()), zap.String("method", "initialized"))
	logger.Debug("Handling initialized notification")

	currentStatus := session.GetStatus()
	if currentStatus == shared.StatusConnected {
		logger.Debug("Received initialized notification for already connected session. Ignoring.")
		return nil, nil
	}
	if currentStatus != shared.StatusConnecting {
		logger.Warn("Received initialized notification for session not in connecting state",
			zap.Int("status", int(currentStatus)))
		// Allow transition to connected anyway, might recover from race condition.
	}

	// A missing negotiated version means initialize never completed.
	negotiatedVersion := session.GetNegotiatedVersion()
	if negotiatedVersion == "" {
		logger.Error("Received initialized notification before successful initialize handshake")
		return nil, shared.NewInvalidRequestError("received initialized notification before successful initialize")
	}

	session.SetStatus(shared.StatusConnected)

	if mcpSession, ok := session.(*mcp.Session); ok {
		clientInfo := mcpSession.GetClientInfo()
		logger.Info("Session initialized and connected",
			zap.String("negotiatedVersion", negotiatedVersion),
			zap.String("clientName", clientInfo.Name),
			zap.String("clientVersion", clientInfo.Version),
		)
	} else {
		logger.Info("Session initialized and connected", zap.String("negotiatedVersion", negotiatedVersion))
	}

	return nil, nil // Notifications expect no response content
}

// handlePing handles the 'ping' request from the client or server.
func (bc *BaseCapability) handlePing(msg *shared.Message) (interface{}, error) {
	logger := bc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "ping"))
	logger.Debug("Received ping request, sending pong")
	// Respond with an empty object as per JSON-RPC and MCP specs
	return map[string]interface{}{}, nil
}
