package extra

import (
	"encoding/json"
	"net/http"

	"github.com/vecmcp/vecmcp/shared/config"
	"go.uber.org/zap"
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	SessionCount() int
}

// StatusResponse represents the response structure for the status endpoint
type StatusResponse struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
	Config   string `json:"config"`
}

// StatusHandler creates an HTTP handler for checking system status
func StatusHandler(cfg config.IConfig, sessions SessionCounter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handlerLogger := logger.With(zap.String("handler", "StatusHandler"))
		w.Header().Set("Content-Type", "application/json")

		// Always 200; a degraded backend shows up in the body
		w.WriteHeader(http.StatusOK)

		response := StatusResponse{Config: "ok"}

		if name, err := cfg.ServerName(); err == nil {
			response.Name = name
		} else {
			handlerLogger.Error("Failed to get server name", zap.Error(err))
			response.Config = "error"
		}
		if version, err := cfg.ServerVersion(); err == nil {
			response.Version = version
		} else {
			handlerLogger.Error("Failed to get server version", zap.Error(err))
			response.Config = "error"
		}
		if err := cfg.Status(r.Context()); err != nil {
			handlerLogger.Error("Failed to get config status", zap.Error(err))
			response.Config = "error"
		}
		if sessions != nil {
			response.Sessions = sessions.SessionCount()
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			handlerLogger.Error("Failed to encode status response", zap.Error(err))
		}
	}
}
