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

// PromptHandler is a function that processes a prompt request and returns content
// It receives the message (containing session and parameters) and returns metadata, prompt messages, and error.
type PromptHandler func(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error)

var _ shared.IServerCapability = (*PromptsCapability)(nil)

// PromptsCapability handles prompt management and related requests.
type PromptsCapability struct {
	logger           *zap.Logger
	manager          *mcp.Manager
	mu               sync.RWMutex
	prompts          map[string]*Prompt                                    // Map name -> Prompt
	handlers         map[string]func(*shared.Message) (interface{}, error) // Map method -> handler function
	changedSinceList bool                                                  // Registration since the last prompts/list
}

// Prompt represents a prompt entity. Prompts with arguments act as
// templates; the handler renders them against the arguments carried in the
// get request.
type Prompt struct {
	schema.Prompt // Embedded definition (name, description, arguments)
	Handler       PromptHandler
	LastModified  time.Time
}

// NewPromptsCapability creates a new PromptsCapability.
func NewPromptsCapability(logger *zap.Logger, manager *mcp.Manager) *PromptsCapability {
	pc := &PromptsCapability{
		logger:  logger.Named("prompts-capability"),
		manager: manager,
		prompts: make(map[string]*Prompt),
	}
	pc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"prompts/list": pc.handlePromptsList,
		"prompts/get":  pc.handlePromptsGet,
	}

	return pc
}

func (pc *PromptsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return pc.handlers
}

func (pc *PromptsCapability) SetCapabilities(s *schema.ServerCapabilities) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	// Only advertise the capability when prompts are registered
	if len(pc.prompts) > 0 {
		pc.logger.Debug("Setting Prompts capability in ServerCapabilities")
		s.Prompts = &schema.Capability{
			ListChanged: pc.changedSinceList,
		}
	}
}

// AddPrompt adds a new prompt with the specified details. A nil arguments
// slice registers a static prompt.
func (pc *PromptsCapability) AddPrompt(name string, description string, arguments []schema.PromptArgument, handler PromptHandler) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if _, exists := pc.prompts[name]; exists {
		return fmt.Errorf("prompt '%s' already exists", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for prompt '%s'", name)
	}

	pc.prompts[name] = &Prompt{
		Prompt: schema.Prompt{
			Name:        name,
			Description: description,
			Arguments:   arguments,
		},
		Handler:      handler,
		LastModified: time.Now(),
	}
	pc.changedSinceList = true
	pc.logger.Info("Added prompt", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

// UpdatePrompt updates an existing prompt.
func (pc *PromptsCapability) UpdatePrompt(name string, description string, arguments []schema.PromptArgument, handler PromptHandler) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	prompt, exists := pc.prompts[name]
	if !exists {
		return fmt.Errorf("prompt '%s' not found", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for prompt '%s'", name)
	}
	prompt.Description = description
	prompt.Arguments = arguments
	prompt.Handler = handler
	prompt.LastModified = time.Now()
	pc.changedSinceList = true
	pc.logger.Info("Updated prompt", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

// DeletePrompt removes a prompt by name.
func (pc *PromptsCapability) DeletePrompt(name string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if _, exists := pc.prompts[name]; !exists {
		return fmt.Errorf("prompt '%s' not found", name)
	}
	delete(pc.prompts, name)
	pc.changedSinceList = true
	pc.logger.Info("Deleted prompt", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

// broadcastPromptsChanged sends notification (kept internal).
func (pc *PromptsCapability) broadcastPromptsChanged() {
	if pc.manager == nil {
		pc.logger.Error("Manager not set for broadcast")
		return
	}
	sent := pc.manager.NotifyEligibleSessions("notifications/prompts/list_changed", nil)
	pc.logger.Debug("Broadcasted prompts list changed notification", zap.Int("sessions", sent))
}

// handlePromptsList handles the "prompts/list" request.
func (pc *PromptsCapability) handlePromptsList(msg *shared.Message) (interface{}, error) {
	logger := pc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "prompts/list"))
	logger.Debug("Handling prompts list request")

	// Write lock: listing acknowledges the registrations made so far.
	pc.mu.Lock()
	defer pc.mu.Unlock()

	var params schema.ListPromptsRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal list params", zap.Error(err))
			return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
		}
	}

	allPrompts := make([]schema.Prompt, 0, len(pc.prompts))
	for _, prompt := range pc.prompts {
		allPrompts = append(allPrompts, prompt.Prompt)
	}
	pc.changedSinceList = false

	result := schema.ListPromptsResult{
		Prompts:         allPrompts,
		PaginatedResult: schema.PaginatedResult{NextCursor: nil},
	}
	logger.Debug("Returning prompt list", zap.Int("count", len(result.Prompts)))
	return result, nil
}

// handlePromptsGet handles the "prompts/get" request.
func (pc *PromptsCapability) handlePromptsGet(msg *shared.Message) (interface{}, error) {
	logger := pc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "prompts/get"))

	var params schema.GetPromptRequestParams
	if msg.Params == nil {
		return nil, shared.NewInvalidParamsError("missing params")
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal get params", zap.Error(err))
		return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
	}
	logger = logger.With(zap.String("promptName", params.Name))
	logger.Debug("Handling get prompt request")

	pc.mu.RLock()
	prompt, exists := pc.prompts[params.Name]
	pc.mu.RUnlock()

	if !exists {
		logger.Warn("Prompt not found")
		return nil, shared.NewInvalidParamsError(fmt.Sprintf("unknown prompt: %s", params.Name))
	}

	logger.Debug("Calling handler")
	meta, messages, err := prompt.Handler(msg)
	if err != nil {
		logger.Error("Prompt handler error", zap.Error(err))
		return nil, fmt.Errorf("handler for prompt '%s' failed: %w", params.Name, err)
	}

	result := schema.GetPromptResult{
		Meta:        meta,
		Description: prompt.Description,
		Messages:    messages,
	}
	logger.Debug("Successfully generated prompt content")
	return result, nil
}
