package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/server/mcp/capability"
	"github.com/vecmcp/vecmcp/server/transport"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
)

type ServerBuilder struct {
	ctx          context.Context
	logger       *zap.Logger
	cfg          config.IConfig
	listenAddr   string
	manager      *mcp.Manager
	transport    *transport.Transport
	mux          *http.ServeMux
	capabilities []shared.ICapability // Store generic capabilities

	// Capability instances (created lazily)
	baseCap      *capability.BaseCapability
	toolsCap     *capability.ToolsCapability
	resourcesCap *capability.ResourcesCapability
	promptsCap   *capability.PromptsCapability
	rootsCap     *capability.RootsCapability
	samplingCap  *capability.SamplingCapability

	// Set by WithStdio; Start attaches the stdio transport when true
	serveStdio bool
}

// EnsureMCPBaseCapability creates the BaseCapability if it doesn't exist.
func (b *ServerBuilder) EnsureMCPBaseCapability() error {
	if b.baseCap == nil {
		b.logger.Debug("Initializing BaseCapability")
		b.baseCap = capability.NewBase(b.logger, b.manager)
		b.capabilities = append(b.capabilities, b.baseCap)
	}
	return nil
}

// EnsureToolsCapability creates the ToolsCapability if it doesn't exist.
func (b *ServerBuilder) EnsureToolsCapability() (*capability.ToolsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.toolsCap == nil {
		b.logger.Debug("Initializing ToolsCapability")
		b.toolsCap = capability.NewToolsCapability(b.manager, b.logger)
		b.capabilities = append(b.capabilities, b.toolsCap)
	}
	return b.toolsCap, nil
}

// EnsurePromptsCapability creates the PromptsCapability if it doesn't exist.
func (b *ServerBuilder) EnsurePromptsCapability() (*capability.PromptsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.promptsCap == nil {
		b.logger.Debug("Initializing PromptsCapability")
		b.promptsCap = capability.NewPromptsCapability(b.logger, b.manager)
		b.capabilities = append(b.capabilities, b.promptsCap)
	}
	return b.promptsCap, nil
}

// EnsureResourcesCapability creates the ResourcesCapability if it doesn't exist.
func (b *ServerBuilder) EnsureResourcesCapability() (*capability.ResourcesCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.resourcesCap == nil {
		b.logger.Debug("Initializing ResourcesCapability")
		b.resourcesCap = capability.NewResourcesCapability(b.manager, b.logger)
		b.capabilities = append(b.capabilities, b.resourcesCap)
	}
	return b.resourcesCap, nil
}

// EnsureRootsCapability creates the RootsCapability if it doesn't exist.
func (b *ServerBuilder) EnsureRootsCapability() (*capability.RootsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.rootsCap == nil {
		b.logger.Debug("Initializing RootsCapability")
		b.rootsCap = capability.NewRootsCapability(b.manager, b.logger)
		b.capabilities = append(b.capabilities, b.rootsCap)
	}
	return b.rootsCap, nil
}

// EnsureSamplingCapability creates the SamplingCapability if it doesn't exist.
func (b *ServerBuilder) EnsureSamplingCapability() (*capability.SamplingCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.samplingCap == nil {
		b.logger.Debug("Initializing SamplingCapability")
		b.samplingCap = capability.NewSamplingCapability(b.logger, b.manager)
		b.capabilities = append(b.capabilities, b.samplingCap)
	}
	return b.samplingCap, nil
}

// ServerOption defines a function type for configuring the ServerBuilder.
type ServerOption func(*ServerBuilder) error
