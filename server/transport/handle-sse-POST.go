package transport

import (
	"io"
	"net/http"
	"time"

	"github.com/vecmcp/vecmcp/shared"
	"go.uber.org/zap"
)

// handleMessagePOST accepts frames for a session established via the legacy
// stream. The HTTP reply is only an acknowledgement; JSON-RPC responses
// travel over the session's SSE stream.
func (t *Transport) handleMessagePOST(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionID := r.URL.Query().Get(SessionIDQueryParam)
	session, err := t.sessionManager.GetSession(sessionID)
	if err != nil {
		logger.Warn("Session not found for message POST", zap.String("sessionID", sessionID), zap.Error(err))
		sendJSONRPCErrorResponse(w, http.StatusNotFound, nil,
			shared.NewNotFoundError("session not found: "+sessionID), logger)
		return
	}
	logger = logger.With(zap.String("sessionID", sessionID))
	session.SetRequestContext(shared.NewHTTPRequestContext("sse", r))
	session.UpdateLastActivity()

	bodyBytes, bodyErr := io.ReadAll(r.Body)
	if bodyErr != nil {
		logger.Error("Failed to read request body for message POST", zap.Error(bodyErr))
		sendJSONRPCErrorResponse(w, http.StatusBadRequest, nil, shared.NewParseError(), logger)
		return
	}
	defer r.Body.Close()

	msgs, err := shared.ParseMessages(session, bodyBytes)
	if err != nil {
		logger.Warn("Failed to parse JSON-RPC message(s) for message POST", zap.Error(err), zap.ByteString("body", bodyBytes))
		sendJSONRPCErrorResponse(w, http.StatusBadRequest, shared.RecoverRequestID(bodyBytes), shared.NewParseError(), logger)
		return
	}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		msg.Session = session
		msg.Timestamp = time.Now()
		if putErr := session.Input().Put(msg); putErr != nil {
			// The dispatcher already replied over the stream where the
			// protocol asks for it; the POST stays an acknowledgement.
			logger.Warn("Failed to enqueue message from message POST", zap.Error(putErr), zap.Any("msgId", msg.ID))
		}
	}

	w.WriteHeader(http.StatusAccepted)
	logger.Debug("Message POST processed, returning 202 Accepted", zap.Int("messageCount", len(msgs)))
}
