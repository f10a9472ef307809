package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vecmcp/vecmcp/server"
	"github.com/vecmcp/vecmcp/server/cmd/vecmcp-example-server/exampleCapability"
	"github.com/vecmcp/vecmcp/shared/config"
)

func main() {
	logerConfig := zap.NewProductionConfig()
	logerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := logerConfig.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Parse command-line arguments
	port := flag.Int("port", 0, "Port to run the server on")
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	stdio := flag.Bool("stdio", false, "Serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	cfg := loadConfig(*configPath, logger)
	defer cfg.Close()

	// Create a context that cancels on SIGINT or SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		logger.Info("Received shutdown signal, stopping server...")
		cancel()
	}()

	serverOptions := exampleCapability.BuildOptions(logger)

	if *stdio {
		// Stdout carries the protocol; zap already writes to stderr.
		if err := server.ServeStdio(ctx, logger, cfg, serverOptions...); err != nil && ctx.Err() == nil {
			logger.Fatal("Stdio server failed", zap.Error(err))
		}
		logger.Info("Server stopped")
		return
	}

	if *port != 0 {
		serverOptions = append(serverOptions, server.WithListenAddr(fmt.Sprintf(":%d", *port)))
	}

	errChan, err := server.Start(ctx, logger, cfg, serverOptions...)
	if err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// --- Wait for Termination ---
	select {
	case startErr := <-errChan:
		if startErr != nil {
			logger.Fatal("Server encountered an error", zap.Error(startErr))
		} else {
			logger.Info("Server shutdown initiated cleanly")
		}
	case <-ctx.Done(): // Handle external cancellation
		logger.Info("Server context done")
	}

	logger.Info("Server stopped")
}

// loadConfig reads the YAML config, falling back to built-in defaults when
// the file is absent so the example runs out of the box.
func loadConfig(configPath string, logger *zap.Logger) config.IConfig {
	if _, err := os.Stat(configPath); err == nil {
		cfg, err := config.NewYamlConfig(configPath, logger)
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		return cfg
	}

	logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	cfg := config.NewInternalConfig()
	cfg.SetServerInfo("vecmcp-example-server", "1.0.0")
	return cfg
}
