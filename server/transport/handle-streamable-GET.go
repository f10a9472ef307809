package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vecmcp/vecmcp/shared"
	"go.uber.org/zap"
)

// handleStreamableGET opens the server-to-client SSE stream for an existing
// session. Frames written here are also retained in the event store so a
// reconnect with Last-Event-ID can be caught up without loss.
func (t *Transport) handleStreamableGET(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionID := r.Header.Get(MCPSessionHeader)
	if sessionID == "" {
		logger.Warn("Missing session header for GET stream")
		http.Error(w, "Bad Request: Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}

	session, err := t.sessionManager.GetSession(sessionID)
	if err != nil {
		logger.Warn("Session not found for GET stream", zap.String("sessionID", sessionID), zap.Error(err))
		http.Error(w, "Not Found: Session expired or invalid", http.StatusNotFound)
		return
	}
	logger = logger.With(zap.String("sessionID", sessionID))
	session.SetRequestContext(shared.NewHTTPRequestContext("streamable", r))
	session.UpdateLastActivity()

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("Streaming unsupported for SSE")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	output, ok := session.AcquireOutput()
	if !ok {
		logger.Warn("Session already has an active stream")
		http.Error(w, "Conflict: session already has an active stream", http.StatusConflict)
		return
	}
	defer session.ReleaseOutput()

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Proxies must not buffer the stream
	w.WriteHeader(http.StatusOK)

	// Opening frame, deliberately not stored: it identifies this very
	// connection and is useless on a replay.
	if frame := notificationFrame("connection/established", map[string]any{
		"sessionId": sessionID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); frame != nil {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventMessage, frame)
		flusher.Flush()
	}

	// Catch up on frames the client missed before going live.
	if lastEventID := r.Header.Get(LastEventIDHeader); lastEventID != "" {
		replayed := t.events.ReplayAfter(sessionID, lastEventID)
		for _, ev := range replayed {
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Event, ev.Data)
		}
		if len(replayed) > 0 {
			flusher.Flush()
			logger.Debug("Replayed events after reconnect",
				zap.String("lastEventID", lastEventID),
				zap.Int("count", len(replayed)),
			)
		}
	}

	heartbeat := time.NewTicker(t.heartbeatInterval)
	defer heartbeat.Stop()
	logger.Info("Streamable GET stream opened")
	defer logger.Info("Streamable GET stream closed")

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("Streamable GET client disconnected")
			return
		case msg, ok := <-output:
			if !ok {
				// Session terminated; the stream dies with it.
				return
			}
			if msg == nil {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("Failed to marshal frame for SSE", zap.Error(err), zap.Any("msgId", msg.ID))
				continue
			}
			if !t.writeStoredEvent(w, flusher, sessionID, data, logger) {
				return
			}
			session.UpdateLastActivity()
			heartbeat.Reset(t.heartbeatInterval)
		case <-heartbeat.C:
			frame := notificationFrame("heartbeat", map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			if frame == nil {
				continue
			}
			if !t.writeStoredEvent(w, flusher, sessionID, frame, logger) {
				return
			}
		}
	}
}

// writeStoredEvent appends the frame to the event store and writes it to the
// stream tagged with the assigned id. Returns false when the stream is gone.
func (t *Transport) writeStoredEvent(w http.ResponseWriter, flusher http.Flusher, sessionID string, data []byte, logger *zap.Logger) bool {
	id := t.events.Append(sessionID, sseEventMessage, data)
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, sseEventMessage, data); err != nil {
		logger.Warn("Write to SSE stream failed", zap.Error(err))
		return false
	}
	flusher.Flush()
	return true
}

// notificationFrame builds the wire form of a transport-level notification.
func notificationFrame(method string, params map[string]any) []byte {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	rawParams := json.RawMessage(raw)
	frame, err := json.Marshal(&shared.Message{Method: &method, Params: &rawParams})
	if err != nil {
		return nil
	}
	return frame
}
