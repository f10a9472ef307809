package capability

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

var _ shared.IServerCapability = (*RootsCapability)(nil)

// RootsCapability exposes the directories and files the server operates
// over. The set is registered by the embedding application and served to
// clients via roots/list.
type RootsCapability struct {
	logger           *zap.Logger
	manager          *mcp.Manager
	mu               sync.RWMutex
	roots            map[string]*schema.Root                               // Map URI -> Root
	handlers         map[string]func(*shared.Message) (interface{}, error) // Map method -> handler function
	changedSinceList bool                                                  // Registration since the last roots/list
}

// NewRootsCapability creates a new RootsCapability.
func NewRootsCapability(manager *mcp.Manager, logger *zap.Logger) *RootsCapability {
	rc := &RootsCapability{
		manager: manager,
		logger:  logger,
		roots:   make(map[string]*schema.Root),
	}
	rc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"roots/list": rc.handleRootsList,
	}

	return rc
}

func (rc *RootsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return rc.handlers
}

func (rc *RootsCapability) SetCapabilities(s *schema.ServerCapabilities) {
	rc.logger.Debug("SetCapabilities called on RootsCapability")
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	s.Roots = &schema.Capability{
		ListChanged: rc.changedSinceList,
	}
}

// AddRoot registers a root. The URI must use the file:// scheme or another
// scheme the embedding application understands.
func (rc *RootsCapability) AddRoot(uri string, name string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.roots[uri]; exists {
		return fmt.Errorf("root with URI '%s' already exists", uri)
	}

	rc.roots[uri] = &schema.Root{
		URI:  uri,
		Name: name,
	}
	rc.changedSinceList = true

	rc.logger.Info("Added root", zap.String("uri", uri))
	go rc.broadcastRootsChanged()
	return nil
}

// DeleteRoot removes a root by URI.
func (rc *RootsCapability) DeleteRoot(uri string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.roots[uri]; !exists {
		return fmt.Errorf("root with URI '%s' does not exist", uri)
	}

	delete(rc.roots, uri)
	rc.changedSinceList = true
	rc.logger.Info("Deleted root", zap.String("uri", uri))
	go rc.broadcastRootsChanged()
	return nil
}

// broadcastRootsChanged sends a "notifications/roots/list_changed" notification to eligible sessions.
func (rc *RootsCapability) broadcastRootsChanged() {
	if rc.manager == nil {
		rc.logger.Error("Cannot broadcast roots list changed: manager not set")
		return
	}
	sent := rc.manager.NotifyEligibleSessions("notifications/roots/list_changed", nil)
	rc.logger.Debug("Broadcasted roots list changed notification", zap.Int("sessions", sent))
}

// handleRootsList handles the "roots/list" request.
func (rc *RootsCapability) handleRootsList(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "roots/list"))
	logger.Debug("Handling roots list request")

	// Write lock: listing acknowledges the registrations made so far.
	rc.mu.Lock()
	defer rc.mu.Unlock()

	var params schema.ListRootsRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal list params", zap.Error(err))
			return nil, shared.NewInvalidParamsError(fmt.Sprintf("invalid parameters: %v", err))
		}
	}

	rootsList := make([]schema.Root, 0, len(rc.roots))
	for _, root := range rc.roots {
		rootsList = append(rootsList, *root)
	}
	rc.changedSinceList = false

	result := schema.ListRootsResult{
		Roots: rootsList,
	}

	logger.Debug("Returning roots list", zap.Int("count", len(result.Roots)))
	return result, nil
}
