package transport

import (
	"net/http"

	"go.uber.org/zap"
)

// handleStreamableDELETE terminates a session on client request.
func (t *Transport) handleStreamableDELETE(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionID := r.Header.Get(MCPSessionHeader)
	if sessionID == "" {
		logger.Warn("Missing session header for DELETE request")
		http.Error(w, "Bad Request: Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}

	if _, err := t.sessionManager.GetSession(sessionID); err != nil {
		logger.Warn("Session not found for DELETE request", zap.String("sessionID", sessionID), zap.Error(err))
		http.Error(w, "Not Found: Session expired or invalid", http.StatusNotFound)
		return
	}

	logger.Info("Received DELETE request, closing session", zap.String("sessionID", sessionID))
	if err := t.sessionManager.CloseSession(sessionID); err != nil {
		logger.Warn("Failed to close session for DELETE request", zap.String("sessionID", sessionID), zap.Error(err))
		http.Error(w, "Not Found: Session expired or invalid", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
