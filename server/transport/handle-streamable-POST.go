package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
	"go.uber.org/zap"
)

// handleStreamablePOST processes POST requests on the streamable endpoint.
// Requests are answered in the HTTP response body; notifications and
// response frames are acknowledged with 202.
func (t *Transport) handleStreamablePOST(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	reqCtx := shared.NewHTTPRequestContext("streamable", r)
	sessionID := r.Header.Get(MCPSessionHeader)

	var session shared.ISession
	if existing, err := t.sessionManager.GetSession(sessionID); err == nil {
		session = existing
		session.SetRequestContext(reqCtx)
		session.UpdateLastActivity()
	} else {
		// Unknown or absent id. A swept id is deliberately revived as a
		// fresh uninitialized session; the client redoes the handshake.
		userID, params, authErr := t.authenticate(r)
		if authErr != nil {
			logger.Warn("Authentication failed for POST",
				zap.String("remoteAddr", r.RemoteAddr),
				zap.Error(authErr),
			)
			http.Error(w, "Unauthorized: "+authErr.Error(), http.StatusUnauthorized)
			return
		}
		session = t.sessionManager.GetOrCreateSession(userID, sessionID, params, reqCtx)
	}

	logger = logger.With(zap.String("sessionID", session.GetID()))
	// Every POST response carries the session id, including errors, so the
	// client can pick it up from the first exchange.
	w.Header().Set(MCPSessionHeader, session.GetID())

	bodyBytes, bodyErr := io.ReadAll(r.Body)
	if bodyErr != nil {
		logger.Error("Failed to read request body", zap.Error(bodyErr))
		sendJSONRPCErrorResponse(w, http.StatusBadRequest, nil, shared.NewParseError(), logger)
		return
	}
	defer r.Body.Close()

	msgs, err := shared.ParseMessages(session, bodyBytes)
	if err != nil {
		logger.Warn("Failed to parse JSON-RPC message(s)", zap.Error(err), zap.ByteString("body", bodyBytes))
		sendJSONRPCErrorResponse(w, http.StatusBadRequest, shared.RecoverRequestID(bodyBytes), shared.NewParseError(), logger)
		return
	}
	isBatch := len(bodyBytes) > 0 && bytes.TrimLeft(bodyBytes, " \t\r\n")[0] == '['

	type pendingResponse struct {
		id     *schema.RequestID
		waiter <-chan *shared.Message
	}
	var pending []pendingResponse
	var prefilled []interface{}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		msg.Session = session
		msg.Timestamp = time.Now()

		switch msg.Type() {
		case shared.MessageTypeResponse:
			// Answers to server-initiated requests go straight to the
			// registry. An unknown id is logged and still acknowledged;
			// the request it answered has already timed out.
			if !session.GetRequestManager().ProcessResponse(msg) {
				logger.Debug("Response for unknown or timed-out request", zap.Any("msgId", msg.ID))
			}
		case shared.MessageTypeRequest:
			// The waiter must exist before the message enters the queue;
			// rejections from validation flow back through it as well.
			waiter := session.RegisterResponseWaiter(msg.ID)
			pending = append(pending, pendingResponse{id: msg.ID, waiter: waiter})
			if putErr := session.Input().Put(msg); putErr != nil {
				logger.Warn("Request rejected before dispatch", zap.Error(putErr), zap.Any("msgId", msg.ID))
			}
		case shared.MessageTypeInvalid:
			if !isBatch {
				sendJSONRPCErrorResponse(w, http.StatusBadRequest, msg.ID,
					shared.NewInvalidRequestError("message is neither request, notification nor response"), logger)
				return
			}
			if !msg.ID.IsEmpty() {
				prefilled = append(prefilled, shared.JSONRPCErrorResponse{
					JSONRPC: shared.JSONRPCVersion,
					ID:      msg.ID,
					Error:   shared.NewInvalidRequestError("message is neither request, notification nor response"),
				})
			} else {
				logger.Warn("Dropping invalid frame without id from batch")
			}
		default:
			if putErr := session.Input().Put(msg); putErr != nil {
				logger.Warn("Failed to enqueue notification", zap.Error(putErr), zap.Stringp("method", msg.Method))
			}
		}
	}

	if len(pending) == 0 && len(prefilled) == 0 {
		w.WriteHeader(http.StatusAccepted)
		logger.Debug("POST processed, returning 202 Accepted", zap.Int("messageCount", len(msgs)))
		return
	}

	responses := make([]interface{}, 0, len(pending)+len(prefilled))
	responses = append(responses, prefilled...)

	timer := time.NewTimer(t.responseWait)
	defer timer.Stop()

collectLoop:
	for i, p := range pending {
		select {
		case respMsg := <-p.waiter:
			responses = append(responses, responseEnvelope(respMsg))
		case <-timer.C:
			logger.Warn("Timeout waiting for response(s)", zap.Int("outstanding", len(pending)-i))
			for _, rest := range pending[i:] {
				session.ReleaseResponseWaiter(rest.id)
				responses = append(responses, shared.JSONRPCErrorResponse{
					JSONRPC: shared.JSONRPCVersion,
					ID:      rest.id,
					Error: &shared.JSONRPCError{
						Code:    shared.JSONRPCErrorInternal,
						Message: "Timeout waiting for handler response",
					},
				})
			}
			break collectLoop
		case <-r.Context().Done():
			logger.Warn("Client disconnected while waiting for response")
			for _, rest := range pending[i:] {
				session.ReleaseResponseWaiter(rest.id)
			}
			return
		}
	}

	w.Header().Set("Cache-Control", "no-cache")
	if isBatch {
		sendJSONResponse(w, http.StatusOK, responses, logger)
	} else {
		sendJSONResponse(w, http.StatusOK, responses[0], logger)
	}
}

// responseEnvelope shapes a handler response message into its wire form.
func responseEnvelope(msg *shared.Message) interface{} {
	if msg.Error != nil {
		return shared.JSONRPCErrorResponse{
			JSONRPC: shared.JSONRPCVersion,
			ID:      msg.ID,
			Error:   msg.Error,
		}
	}
	result := msg.Result
	if result == nil {
		null := json.RawMessage("null")
		result = &null
	}
	return shared.JSONRPCResponse{
		JSONRPC: shared.JSONRPCVersion,
		ID:      msg.ID,
		Result:  result,
	}
}
