package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/server/mcp/validators"
	"github.com/vecmcp/vecmcp/server/transport"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
)

// Start starts the MCP server with the provided options.
// It returns a listener error channel and an error.
func Start(ctx context.Context, logger *zap.Logger, cfg config.IConfig, options ...ServerOption) (
	<-chan error, // Listener error channel
	error,
) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	// --- 1. Initialize ServerBuilder ---
	listenAddr, err := cfg.ListenAddr()
	if err != nil {
		return nil, fmt.Errorf("failed to get listen address: %w", err)
	}

	sessionManager, err := mcp.NewManager(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	transportInstance, err := transport.New(sessionManager, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	builder := &ServerBuilder{
		ctx:          ctx,
		logger:       logger,
		cfg:          cfg,
		listenAddr:   listenAddr, // Initial address from config
		manager:      sessionManager,
		transport:    transportInstance,
		mux:          http.NewServeMux(),
		capabilities: make([]shared.ICapability, 0),
	}

	// --- 2. Apply Server Options ---
	logger.Info("Applying server configuration options...")
	for _, option := range options {
		if err := option(builder); err != nil {
			return nil, fmt.Errorf("failed to apply server option: %w", err)
		}
	}
	logger.Info("Server options applied successfully.")

	// --- 3. Finalize Setup based on Builder State ---
	// Add default validators
	sessionManager.AddValidator(validators.CreateDefaultValidators()...)

	// A server with no registered tools still answers the handshake.
	if err := builder.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	logger.Info("Registering capabilities with session manager", zap.Int("count", len(builder.capabilities)))
	builder.manager.AddCapability(builder.capabilities...)

	builder.transport.RegisterHandlers(builder.mux)

	// --- Start HTTP Server using Shared Utility ---
	serverInstance, listenerErrChan, startErr := transport.StartHTTPServer(
		ctx,
		logger,
		cfg,
		builder.mux,
		builder.listenAddr, // Use the potentially overridden address
	)
	if startErr != nil {
		return nil, fmt.Errorf("failed to start HTTP server: %w", startErr)
	}

	if builder.serveStdio {
		stdio := transport.NewStdio(sessionManager, logger)
		go func() {
			if err := stdio.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Stdio transport stopped", zap.Error(err))
			}
		}()
	}

	// --- Goroutine to handle listener errors and graceful shutdown ---
	go func() {
		select {
		case err, ok := <-listenerErrChan:
			if ok && err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Server listener failed", zap.Error(err))
				return
			}
			logger.Info("Server listener stopped.")
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			sessionManager.CloseAllSessions()
			transport.ShutdownHTTPServer(shutdownCtx, logger, serverInstance)
			logger.Info("Server stopped.")
		}
	}()

	return listenerErrChan, nil
}

// --- Server Options ---

// WithListenAddr overrides the listen address from the config.
func WithListenAddr(addr string) ServerOption {
	return func(b *ServerBuilder) error {
		// Allow empty addr to mean "use config default"
		if addr != "" {
			b.listenAddr = addr
			b.logger.Info("Overriding listen address", zap.String("newAddress", addr))
		}
		return nil
	}
}

// WithPathPrefix overrides the endpoint prefix from the config.
func WithPathPrefix(prefix string) ServerOption {
	return func(b *ServerBuilder) error {
		if b.transport == nil {
			return errors.New("transport not initialized in builder, cannot set path prefix")
		}
		return transport.WithPathPrefix(prefix)(b.transport)
	}
}

// WithSessionTimeout configures the idle session timeout.
func WithSessionTimeout(timeout time.Duration) ServerOption {
	return func(b *ServerBuilder) error {
		if b.manager == nil {
			return errors.New("session manager not initialized in builder, cannot set session timeout")
		}
		b.logger.Info("Configuring session timeout", zap.Duration("timeout", timeout))
		b.manager.SetSessionTimeout(timeout)
		return nil
	}
}

// WithEventRetention configures how many stream frames are kept for resumption.
func WithEventRetention(retention int) ServerOption {
	return func(b *ServerBuilder) error {
		if b.transport == nil {
			return errors.New("transport not initialized in builder, cannot set event retention")
		}
		return transport.WithEventRetention(retention)(b.transport)
	}
}

// WithAllowedOrigins restricts browser access to the given origins ("*" allows any).
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(b *ServerBuilder) error {
		if b.transport == nil {
			return errors.New("transport not initialized in builder, cannot set allowed origins")
		}
		return transport.WithAllowedOrigins(origins)(b.transport)
	}
}

// WithStdio attaches the stdio transport next to the HTTP endpoints.
// For a server that talks stdio only, use ServeStdio instead.
func WithStdio() ServerOption {
	return func(b *ServerBuilder) error {
		b.serveStdio = true
		return nil
	}
}
