package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vecmcp/vecmcp/shared"
	"go.uber.org/zap"
)

const (
	sseEventEndpoint = "endpoint"
	sseEventMessage  = "message"
	sseEventPing     = "ping"
)

// handleSSEGET opens a legacy event stream. Every GET mints a fresh session
// and announces the post URL for it in the mandatory endpoint event; the
// JSON-RPC handshake then flows through the message endpoint with responses
// delivered over this stream.
func (t *Transport) handleSSEGET(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	userID, params, err := t.authenticate(r)
	if err != nil {
		logger.Warn("Authentication failed for SSE connection",
			zap.String("remoteAddr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}

	session := t.sessionManager.GetOrCreateSession(userID, "", params, shared.NewHTTPRequestContext("sse", r))
	logger = logger.With(zap.String("sessionID", session.GetID()))

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("Streaming unsupported for SSE")
		t.sessionManager.CloseSession(session.GetID())
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	output, ok := session.AcquireOutput()
	if !ok {
		logger.Error("Failed to acquire output channel for SSE stream")
		t.sessionManager.CloseSession(session.GetID())
		http.Error(w, "Failed to acquire output channel", http.StatusInternalServerError)
		return
	}
	defer session.ReleaseOutput()

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The mandatory endpoint event tells the client where to post.
	endpointPath := t.pathPrefix + MessagePathSuffix + "?" + SessionIDQueryParam + "=" + session.GetID()
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventEndpoint, endpointPath)
	flusher.Flush()
	logger.Debug("Sent endpoint event", zap.String("endpoint", endpointPath))

	ping := time.NewTicker(t.ssePingInterval)
	defer ping.Stop()
	logger.Info("SSE stream opened")
	defer logger.Info("SSE stream closed")

	for {
		select {
		case <-r.Context().Done():
			// The stream is gone but the session stays; an idle session is
			// eventually reclaimed by the sweeper.
			logger.Debug("SSE client disconnected")
			return
		case msg, ok := <-output:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("Failed to marshal frame for SSE", zap.Error(err), zap.Any("msgId", msg.ID), zap.Stringp("method", msg.Method))
				continue
			}
			if _, werr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventMessage, data); werr != nil {
				logger.Warn("Write to SSE stream failed", zap.Error(werr))
				return
			}
			flusher.Flush()
			session.UpdateLastActivity()
		case <-ping.C:
			if _, werr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventPing, `{}`); werr != nil {
				logger.Warn("Write to SSE stream failed", zap.Error(werr))
				return
			}
			flusher.Flush()
		}
	}
}
