package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/server/mcp/validators"
	"github.com/vecmcp/vecmcp/server/transport"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
)

// ServeStdio runs an MCP server on stdin and stdout, with no HTTP listener.
// It blocks until the peer closes stdin or ctx is cancelled. Options that
// configure the HTTP transport return an error here.
func ServeStdio(ctx context.Context, logger *zap.Logger, cfg config.IConfig, options ...ServerOption) error {
	if logger == nil {
		return errors.New("logger cannot be nil")
	}
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	sessionManager, err := mcp.NewManager(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	builder := &ServerBuilder{
		ctx:          ctx,
		logger:       logger,
		cfg:          cfg,
		manager:      sessionManager,
		capabilities: make([]shared.ICapability, 0),
	}

	for _, option := range options {
		if err := option(builder); err != nil {
			return fmt.Errorf("failed to apply server option: %w", err)
		}
	}

	sessionManager.AddValidator(validators.CreateDefaultValidators()...)

	if err := builder.EnsureMCPBaseCapability(); err != nil {
		return err
	}
	builder.manager.AddCapability(builder.capabilities...)

	defer sessionManager.CloseAllSessions()
	return transport.NewStdio(sessionManager, logger).Serve(ctx)
}
