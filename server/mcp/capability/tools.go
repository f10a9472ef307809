package capability

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// ToolHandler defines the function signature for handling tool calls.
// It receives the message (containing session and arguments) and returns metadata, result content, and error.
type ToolHandler func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error)

// ToolsCapability handles tool registration and invocation.
type ToolsCapability struct {
	manager  *mcp.Manager
	logger   *zap.Logger
	mu       sync.RWMutex
	tools    map[string]*Tool                                      // Map tool name -> Tool
	handlers map[string]func(*shared.Message) (interface{}, error) // Map method -> handler function
}

// Tool represents a tool entity.
type Tool struct {
	schema.Tool // Embedded definition (Name, Description, InputSchema, Annotations)
	Handler     ToolHandler
}

// NewToolsCapability creates a new ToolsCapability.
func NewToolsCapability(manager *mcp.Manager, logger *zap.Logger) *ToolsCapability {
	tc := &ToolsCapability{
		manager: manager,
		logger:  logger,
		tools:   make(map[string]*Tool),
	}
	tc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"tools/list": tc.handleToolsList,
		"tools/call": tc.handleToolsCall,
	}

	return tc
}

func (tc *ToolsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return tc.handlers
}

func (tc *ToolsCapability) SetCapabilities(s *schema.ServerCapabilities) {
	tc.logger.Debug("SetCapabilities called on ToolsCapability")
	s.Tools = &schema.Capability{}
}

// AddTool adds a new tool with the specified details.
func (tc *ToolsCapability) AddTool(name string, description string, inputSchema *schema.JSONSchemaProperty, annotations *schema.ToolAnnotations, handler ToolHandler) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, exists := tc.tools[name]; exists {
		return fmt.Errorf("tool with name '%s' already exists", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for tool '%s'", name)
	}

	tc.tools[name] = &Tool{
		Tool: schema.Tool{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
			Annotations: annotations,
		},
		Handler: handler,
	}

	tc.logger.Info("Added tool", zap.String("name", name))
	go tc.broadcastToolsChanged()
	return nil
}

// UpdateTool updates an existing tool.
func (tc *ToolsCapability) UpdateTool(name string, description string, inputSchema *schema.JSONSchemaProperty, annotations *schema.ToolAnnotations, handler ToolHandler) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tool, exists := tc.tools[name]
	if !exists {
		return fmt.Errorf("tool with name '%s' does not exist", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for tool '%s'", name)
	}

	// The name is the map key and stays as is.
	tool.Description = description
	tool.InputSchema = inputSchema
	tool.Annotations = annotations
	tool.Handler = handler

	tc.logger.Info("Updated tool", zap.String("name", name))
	go tc.broadcastToolsChanged()
	return nil
}

// DeleteTool removes a tool by name.
func (tc *ToolsCapability) DeleteTool(name string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, exists := tc.tools[name]; !exists {
		return fmt.Errorf("tool with name '%s' does not exist", name)
	}

	delete(tc.tools, name)
	tc.logger.Info("Deleted tool", zap.String("name", name))
	go tc.broadcastToolsChanged()
	return nil
}

// broadcastToolsChanged sends a "notifications/tools/list_changed" notification to eligible sessions.
func (tc *ToolsCapability) broadcastToolsChanged() {
	if tc.manager == nil {
		tc.logger.Error("Cannot broadcast tool list changed: manager not set")
		return
	}
	sent := tc.manager.NotifyEligibleSessions("notifications/tools/list_changed", nil)
	tc.logger.Debug("Broadcasted tools list changed notification", zap.Int("sessions", sent))
}

// handleToolsList handles the "tools/list" request from the client.
func (tc *ToolsCapability) handleToolsList(msg *shared.Message) (interface{}, error) {
	logger := tc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "tools/list"))
	logger.Debug("Handling tools list request")

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	// The cursor is accepted for wire compatibility; the full list always
	// fits in one page.
	var params schema.ListToolsRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal pagination params", zap.Error(err))
			return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
		}
	}

	toolsList := make([]schema.Tool, 0, len(tc.tools))
	for _, tool := range tc.tools {
		toolsList = append(toolsList, tool.Tool)
	}

	result := schema.ListToolsResult{
		Tools: toolsList,
		PaginatedResult: schema.PaginatedResult{
			NextCursor: nil,
		},
	}

	logger.Debug("Returning tool list", zap.Int("count", len(result.Tools)))
	return result, nil
}

// handleToolsCall handles the "tools/call" request from the client.
func (tc *ToolsCapability) handleToolsCall(msg *shared.Message) (interface{}, error) {
	logger := tc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "tools/call"))

	var params schema.CallToolRequestParams
	if msg.Params == nil {
		logger.Warn("Missing parameters in tools/call request")
		return nil, shared.NewInvalidParamsError("missing params")
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal tools/call params", zap.Error(err))
		return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
	}
	logger = logger.With(zap.String("toolName", params.Name))
	logger.Debug("Handling tool call request")

	tc.mu.RLock()
	tool, exists := tc.tools[params.Name]
	tc.mu.RUnlock()

	if !exists {
		logger.Warn("Tool not found")
		return nil, shared.NewInvalidParamsError(fmt.Sprintf("unknown tool: %s", params.Name))
	}

	logger.Debug("Calling tool handler", zap.Any("arguments", params.Arguments))

	startTime := time.Now()
	meta, content, err := tool.Handler(msg, params.Arguments)
	duration := time.Since(startTime)

	// A failing tool is an in-band outcome, not a protocol error: the
	// response is a normal result with isError set and the failure text as
	// content.
	if err != nil {
		logger.Error("Tool handler returned an error", zap.Error(err), zap.Duration("duration", duration))
		if len(content) == 0 {
			content = schema.NewTextContent(err.Error())
		}
		return schema.CallToolResult{
			Meta:    meta,
			Content: content,
			IsError: true,
		}, nil
	}

	logger.Info("Tool call successful", zap.Duration("duration", duration))
	return schema.CallToolResult{
		Meta:    meta,
		Content: content,
	}, nil
}
