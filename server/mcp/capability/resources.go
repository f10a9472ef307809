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

// ResourceHandler is a function that processes a resource read request.
// It receives the message (containing session and URI) and returns metadata, resource contents, and error.
type ResourceHandler func(msg *shared.Message) (schema.Meta, []schema.ResourceContent, error)

var _ shared.IServerCapability = (*ResourcesCapability)(nil)

// ResourcesCapability handles resource registration and reads.
type ResourcesCapability struct {
	logger    *zap.Logger
	manager   *mcp.Manager // To reach sessions for notifications
	mu        sync.RWMutex
	resources map[string]*Resource                                  // Map URI -> Resource
	handlers  map[string]func(*shared.Message) (interface{}, error) // Map method -> handler function
}

// Resource represents a resource entity.
type Resource struct {
	schema.Resource // Embedded definition (URI, Name, Description, MimeType)
	Handler         ResourceHandler
	LastModified    time.Time
}

// NewResourcesCapability creates a new ResourcesCapability.
func NewResourcesCapability(manager *mcp.Manager, logger *zap.Logger) *ResourcesCapability {
	rc := &ResourcesCapability{
		manager:   manager,
		logger:    logger,
		resources: make(map[string]*Resource),
	}
	rc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"resources/list": rc.handleResourcesList,
		"resources/read": rc.handleResourcesRead,
	}

	return rc
}

// GetHandlers returns a map of method names to handler functions
// This satisfies the shared.ICapability interface
func (rc *ResourcesCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return rc.handlers
}

// SetCapabilities sets the server capabilities for this capability
func (rc *ResourcesCapability) SetCapabilities(s *schema.ServerCapabilities) {
	rc.logger.Debug("SetCapabilities called on ResourcesCapability")
	s.Resources = &schema.CapabilityWithSubscribe{}
}

// AddResource adds a new resource with the specified details.
func (rc *ResourcesCapability) AddResource(uri string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.resources[uri]; exists {
		return fmt.Errorf("resource with URI '%s' already exists", uri)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for resource '%s'", uri)
	}

	rc.resources[uri] = &Resource{
		Resource: schema.Resource{
			URI:         uri,
			Name:        name,
			Description: description,
			MimeType:    mimeType,
		},
		Handler:      handler,
		LastModified: time.Now(),
	}

	rc.logger.Info("Added resource", zap.String("uri", uri))
	go rc.broadcastResourcesListChanged()
	return nil
}

// UpdateResource updates an existing resource.
func (rc *ResourcesCapability) UpdateResource(uri string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()

	resource, exists := rc.resources[uri]
	if !exists {
		rc.mu.Unlock()
		return fmt.Errorf("resource with URI '%s' does not exist", uri)
	}

	resource.Name = name
	resource.Description = description
	resource.MimeType = mimeType
	resource.Handler = handler
	resource.LastModified = time.Now()

	rc.mu.Unlock() // Unlock before notifying

	rc.logger.Info("Updated resource", zap.String("uri", uri))
	go rc.broadcastResourcesListChanged()
	return nil
}

// DeleteResource removes a resource by URI.
func (rc *ResourcesCapability) DeleteResource(uri string) error {
	rc.mu.Lock()

	if _, exists := rc.resources[uri]; !exists {
		rc.mu.Unlock()
		return fmt.Errorf("resource with URI '%s' does not exist", uri)
	}

	delete(rc.resources, uri)
	rc.mu.Unlock() // Unlock before notifying

	rc.logger.Info("Deleted resource", zap.String("uri", uri))
	go rc.broadcastResourcesListChanged()
	return nil
}

// broadcastResourcesListChanged sends a "notifications/resources/list_changed" notification.
func (rc *ResourcesCapability) broadcastResourcesListChanged() {
	if rc.manager == nil {
		rc.logger.Error("Cannot broadcast resource list changed: manager not set")
		return
	}
	sent := rc.manager.NotifyEligibleSessions("notifications/resources/list_changed", nil)
	rc.logger.Debug("Broadcasted resources list changed notification", zap.Int("sessions", sent))
}

// handleResourcesList handles the "resources/list" request.
func (rc *ResourcesCapability) handleResourcesList(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/list"))
	logger.Debug("Handling resources list request")

	rc.mu.RLock()
	defer rc.mu.RUnlock()

	// The cursor is accepted for wire compatibility; the full list always
	// fits in one page.
	var params schema.ListResourcesRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal pagination params", zap.Error(err))
			return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
		}
	}

	resourcesList := make([]schema.Resource, 0, len(rc.resources))
	for _, resource := range rc.resources {
		resourcesList = append(resourcesList, resource.Resource)
	}

	result := schema.ListResourcesResult{
		Resources: resourcesList,
		PaginatedResult: schema.PaginatedResult{
			NextCursor: nil,
		},
	}

	logger.Debug("Returning resource list", zap.Int("count", len(result.Resources)))
	return result, nil
}

// handleResourcesRead handles the "resources/read" request.
func (rc *ResourcesCapability) handleResourcesRead(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/read"))

	var params schema.ReadResourceRequestParams
	if msg.Params == nil {
		logger.Warn("Missing parameters in resources/read request")
		return nil, shared.NewInvalidParamsError("missing params")
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal resources/read params", zap.Error(err))
		return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
	}
	logger = logger.With(zap.String("uri", params.URI))
	logger.Debug("Handling resource read request")

	rc.mu.RLock()
	resource, exists := rc.resources[params.URI]
	rc.mu.RUnlock()

	if !exists {
		logger.Warn("Resource not found")
		return nil, shared.NewNotFoundError(fmt.Sprintf("resource not found: %s", params.URI))
	}

	logger.Debug("Calling resource handler")
	meta, contents, err := resource.Handler(msg)
	if err != nil {
		logger.Error("Resource handler returned an error", zap.Error(err))
		return nil, fmt.Errorf("handler for resource '%s' failed: %w", params.URI, err)
	}

	result := schema.ReadResourceResult{
		Meta:     meta,
		Contents: contents,
	}

	logger.Debug("Successfully read resource", zap.Int("contentParts", len(result.Contents)))
	return result, nil
}
