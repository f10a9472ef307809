package transport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecmcp/vecmcp/server/transport"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// The streamable endpoint is a single path answering POST, GET and DELETE.
func Test_STRM_POS_01_SingleEndpointAnswersPostGetDelete(t *testing.T) {
	env := setupServerTest(t)

	req, _ := http.NewRequest(http.MethodOptions, env.StreamURL(), nil)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	allowHeader := resp.Header.Get("Allow")
	assert.Contains(t, allowHeader, "POST")
	assert.Contains(t, allowHeader, "GET")
	assert.Contains(t, allowHeader, "DELETE")

	putReq, _ := http.NewRequest(http.MethodPut, env.StreamURL(), nil)
	putResp, err := client.Do(putReq)
	require.NoError(t, err)
	defer putResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, putResp.StatusCode)
}

// A POST carrying the initialize request is answered in the HTTP response
// body and the assigned session id rides the Mcp-Session-Id header.
func Test_STRM_POS_02_InitializeAssignsSessionAndAdvertisesServer(t *testing.T) {
	env := setupServerTest(t)

	initBody := createJsonRpcRequestBody(1, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      schema.Implementation{Name: "test-client", Version: "1.0"},
		Capabilities:    schema.ClientCapabilities{},
	})
	resp, err := makePostRequest(t, env.StreamURL(), initBody, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	sessionID := resp.Header.Get(transport.MCPSessionHeader)
	require.NotEmpty(t, sessionID)

	raw := assertJsonRpcSuccess(t, resp.Body, json.Number("1"))
	var result schema.InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, schema.PROTOCOL_VERSION, result.ProtocolVersion)
	assert.Equal(t, "TestServer", result.ServerInfo.Name)
	assert.Equal(t, "1.2.3", result.ServerInfo.Version)
	assert.NotNil(t, result.Capabilities.Tools, "tools capability missing from handshake")

	session, err := env.Manager.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusConnecting, session.GetStatus())
}

// After the full handshake a tool call round-trips through the POST body
// with its numeric id intact.
func Test_STRM_POS_03_ToolCallRoundTripsThroughPostBody(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	result := callTool(t, env, sessionID, json.Number("2"), "echo", schema.Arguments{"message": "hello"})
	require.Len(t, result.Content, 1)
	require.NotNil(t, result.Content[0].Text)
	assert.Equal(t, "Echo: hello", *result.Content[0].Text)
	assert.False(t, result.IsError)
}

// An unknown method is rejected with -32601 and the string id of the request
// comes back as a string, not a number.
func Test_STRM_POS_04_UnknownMethodErrorPreservesStringId(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	body := createJsonRpcRequestBody("x", "bogus/method", nil)
	resp, err := makePostRequest(t, env.StreamURL(), body, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp.Body.Close()

	// Validator rejections are handler-level outcomes, not transport
	// failures, so the HTTP status stays 200.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rpcErr := assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorMethodNotFound, "x")
	assert.Equal(t, "Method not found", rpcErr.Message)
}

// A batch mixing requests and a notification yields exactly one response per
// request, in request order.
func Test_STRM_POS_05_BatchYieldsOneResponsePerRequest(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	batch := createJsonRpcBatchBody(
		createJsonRpcRequestBody(5, "tools/call", schema.CallToolRequestParams{
			Name: "echo", Arguments: schema.Arguments{"message": "first"},
		}),
		createJsonRpcNotificationBody("notifications/cancelled", map[string]interface{}{"requestId": 999}),
		createJsonRpcRequestBody(6, "tools/call", schema.CallToolRequestParams{
			Name: "echo", Arguments: schema.Arguments{"message": "second"},
		}),
	)
	resp, err := makePostRequest(t, env.StreamURL(), batch, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelopes []shared.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelopes))
	require.Len(t, envelopes, 2, "notification must not produce a response")
	require.NotNil(t, envelopes[0].ID)
	require.NotNil(t, envelopes[1].ID)
	assert.Equal(t, json.Number("5"), envelopes[0].ID.Value)
	assert.Equal(t, json.Number("6"), envelopes[1].ID.Value)
}

// A POST containing only notifications or responses is acknowledged with 202
// and an empty body.
func Test_STRM_POS_06_NotificationOnlyPostAcknowledgedWith202(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	body := createJsonRpcNotificationBody("notifications/cancelled", map[string]interface{}{"requestId": 1})
	resp, err := makePostRequest(t, env.StreamURL(), body, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// A response frame answering nothing the server asked is dropped, not
	// failed: the request it answers has long timed out on our side.
	unknown := schema.RequestID_FromString("never-sent")
	respBody := createJsonRpcResponseBody(&unknown, map[string]string{"ok": "true"})
	resp2, err := makePostRequest(t, env.StreamURL(), respBody, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp2.StatusCode)
}

// A server-initiated request travels out over the GET stream and its answer
// arrives in a later POST; the blocked caller is released with the result.
func Test_STRM_POS_07_ServerRequestAnsweredViaPost(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	streamResp, cancelStream, err := openStream(t, env.StreamURL(), map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer cancelStream()
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	require.Equal(t, "text/event-stream", streamResp.Header.Get("Content-Type"))

	reader := bufio.NewReader(streamResp.Body)
	_, data, id := readSseEventWithTimeout(t, reader, 2*time.Second)
	assert.Contains(t, data, "connection/established")
	assert.Empty(t, id, "the connection frame must not carry a resume id")

	session, err := env.Manager.GetSession(sessionID)
	require.NoError(t, err)

	type syncResult struct {
		raw *json.RawMessage
		err error
	}
	done := make(chan syncResult, 1)
	go func() {
		raw, err := session.SendRequestSync(context.Background(), "sampling/createMessage", &schema.CreateMessageRequestParams{
			Messages: []schema.SamplingMessage{
				{Role: schema.RoleUser, Content: schema.NewTextContent("say hi")[0]},
			},
			MaxTokens: 100,
		}, 3*time.Second)
		done <- syncResult{raw, err}
	}()

	// The request frame must reach the stream with a fresh id.
	_, data, id = readSseEventWithTimeout(t, reader, 2*time.Second)
	var outbound shared.Message
	require.NoError(t, json.Unmarshal([]byte(data), &outbound))
	require.NotNil(t, outbound.Method)
	assert.Equal(t, "sampling/createMessage", *outbound.Method)
	require.False(t, outbound.ID.IsEmpty(), "server request must carry an id")
	assert.NotEmpty(t, id, "stream frames carry resume ids")

	answer := createJsonRpcResponseBody(outbound.ID, schema.CreateMessageResult{
		Role:    schema.RoleAssistant,
		Content: schema.NewTextContent("hi")[0],
		Model:   "test-model",
	})
	postResp, err := makePostRequest(t, env.StreamURL(), answer, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer postResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, postResp.StatusCode)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.NotNil(t, got.raw)
		var result schema.CreateMessageResult
		require.NoError(t, json.Unmarshal(*got.raw, &result))
		assert.Equal(t, schema.RoleAssistant, result.Role)
		assert.Equal(t, "test-model", result.Model)
	case <-time.After(4 * time.Second):
		t.Fatal("SendRequestSync never returned")
	}
}

// A reconnect with Last-Event-ID replays every retained frame after that id,
// oldest first, with ids strictly increasing.
func Test_STRM_POS_08_ReconnectReplaysEventsAfterLastEventId(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	streamResp, cancelStream, err := openStream(t, env.StreamURL(), map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	reader := bufio.NewReader(streamResp.Body)
	readSseEventWithTimeout(t, reader, 2*time.Second) // connection/established

	session, err := env.Manager.GetSession(sessionID)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, session.SendNotification("notifications/tools/list_changed", nil))
	}

	ids := make([]uint64, 0, 5)
	for i := 0; i < 5; i++ {
		_, data, id := readSseEventWithTimeout(t, reader, 2*time.Second)
		assert.Contains(t, data, "notifications/tools/list_changed")
		parsed, parseErr := strconv.ParseUint(id, 10, 64)
		require.NoError(t, parseErr, "frame id is not numeric: %q", id)
		ids = append(ids, parsed)
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "frame ids must be strictly increasing")
	}

	cancelStream()
	streamResp.Body.Close()
	require.Eventually(t, func() bool {
		return !session.CanAcceptOutbound()
	}, 2*time.Second, 5*time.Millisecond, "stream slot never released")

	resumeFrom := ids[1]
	streamResp2, cancelStream2, err := openStream(t, env.StreamURL(), map[string]string{
		transport.MCPSessionHeader:  sessionID,
		transport.LastEventIDHeader: strconv.FormatUint(resumeFrom, 10),
	})
	require.NoError(t, err)
	defer cancelStream2()
	defer streamResp2.Body.Close()
	require.Equal(t, http.StatusOK, streamResp2.StatusCode)

	reader2 := bufio.NewReader(streamResp2.Body)
	_, data, _ := readSseEventWithTimeout(t, reader2, 2*time.Second)
	assert.Contains(t, data, "connection/established")

	for _, want := range ids[2:] {
		_, data, id := readSseEventWithTimeout(t, reader2, 2*time.Second)
		assert.Contains(t, data, "notifications/tools/list_changed")
		assert.Equal(t, strconv.FormatUint(want, 10), id)
	}
}

// A failing tool produces a normal result with isError set, never a protocol
// error.
func Test_STRM_POS_09_ToolFailureStaysInBand(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	result := callTool(t, env, sessionID, json.Number("3"), "fail", schema.Arguments{})
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	require.NotNil(t, result.Content[0].Text)
	assert.Equal(t, "intentional failure", *result.Content[0].Text)
}

// A cancellation notification interrupts the in-flight handler; the original
// request is answered promptly instead of running to completion.
func Test_STRM_POS_10_CancelNotificationInterruptsHandler(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	headers := map[string]string{transport.MCPSessionHeader: sessionID}
	slowBody := createJsonRpcRequestBody(9, "tools/call", schema.CallToolRequestParams{
		Name: "slow", Arguments: schema.Arguments{"seconds": 10.0},
	})

	type postResult struct {
		resp *http.Response
		err  error
	}
	done := make(chan postResult, 1)
	start := time.Now()
	go func() {
		resp, err := makePostRequest(t, env.StreamURL(), slowBody, headers)
		done <- postResult{resp, err}
	}()

	// Give the dispatcher time to start the handler before cancelling it.
	time.Sleep(150 * time.Millisecond)
	cancelBody := createJsonRpcNotificationBody("$/cancelRequest", map[string]interface{}{"requestId": 9})
	cancelResp, err := makePostRequest(t, env.StreamURL(), cancelBody, headers)
	require.NoError(t, err)
	cancelResp.Body.Close()
	require.Equal(t, http.StatusAccepted, cancelResp.StatusCode)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		defer got.resp.Body.Close()
		require.Equal(t, http.StatusOK, got.resp.StatusCode)
		assertJsonRpcError(t, got.resp.Body, shared.JSONRPCErrorInternal, json.Number("9"))
		assert.Less(t, time.Since(start), 5*time.Second, "cancelled handler should answer well before its own duration")
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled request never answered")
	}
}

// A truncated frame is a parse error: HTTP 400, code -32700, and the integer
// id recovered from the broken bytes.
func Test_STRM_NEG_01_TruncatedFrameRecoversIntegerId(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)

	resp, err := makePostRequest(t, env.StreamURL(), `{"jsonrpc":"2.0","id":42,"method":`,
		map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorParseError, json.Number("42"))
}

// An empty body cannot be parsed and no id can be recovered from it.
func Test_STRM_NEG_02_EmptyBodyIsParseErrorWithoutId(t *testing.T) {
	env := setupServerTest(t)

	resp, err := makePostRequest(t, env.StreamURL(), "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errResp shared.JSONRPCErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.NotNil(t, errResp.Error)
	assert.Equal(t, shared.JSONRPCErrorParseError, errResp.Error.Code)
	assert.Nil(t, errResp.ID)
}

// A frame that is neither request, notification nor response is rejected
// with -32600; inside a batch the rejection is folded into the batch reply.
func Test_STRM_NEG_03_InvalidFrameRejectedWith32600(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)
	headers := map[string]string{transport.MCPSessionHeader: sessionID}

	resp, err := makePostRequest(t, env.StreamURL(), `{"jsonrpc":"2.0","id":7}`, headers)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorInvalidRequest, json.Number("7"))

	batch := createJsonRpcBatchBody(
		`{"jsonrpc":"2.0","id":7}`,
		createJsonRpcRequestBody(8, "tools/call", schema.CallToolRequestParams{
			Name: "echo", Arguments: schema.Arguments{"message": "still works"},
		}),
	)
	batchResp, err := makePostRequest(t, env.StreamURL(), batch, headers)
	require.NoError(t, err)
	defer batchResp.Body.Close()
	require.Equal(t, http.StatusOK, batchResp.StatusCode)

	var envelopes []json.RawMessage
	require.NoError(t, json.NewDecoder(batchResp.Body).Decode(&envelopes))
	require.Len(t, envelopes, 2)

	var errEnvelope shared.JSONRPCErrorResponse
	require.NoError(t, json.Unmarshal(envelopes[0], &errEnvelope))
	require.NotNil(t, errEnvelope.Error)
	assert.Equal(t, shared.JSONRPCErrorInvalidRequest, errEnvelope.Error.Code)
	assert.Equal(t, json.Number("7"), errEnvelope.ID.Value)

	var okEnvelope shared.JSONRPCResponse
	require.NoError(t, json.Unmarshal(envelopes[1], &okEnvelope))
	require.NotNil(t, okEnvelope.Result)
	assert.Equal(t, json.Number("8"), okEnvelope.ID.Value)
}

// Methods other than initialize and ping are rejected until the handshake
// completes, and initialize is rejected once it has.
func Test_STRM_NEG_04_InitializationGateOrdersHandshake(t *testing.T) {
	env := setupServerTest(t)

	// tools/call before initialize
	body := createJsonRpcRequestBody(1, "tools/call", schema.CallToolRequestParams{
		Name: "echo", Arguments: schema.Arguments{"message": "too early"},
	})
	resp, err := makePostRequest(t, env.StreamURL(), body, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rpcErr := assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorInitialization, json.Number("1"))
	assert.Equal(t, "Server not initialized", rpcErr.Message)

	// Second initialize after the handshake
	sessionID := doInitialize(t, env)
	initBody := createJsonRpcRequestBody(2, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      schema.Implementation{Name: "test-client", Version: "1.0"},
	})
	resp2, err := makePostRequest(t, env.StreamURL(), initBody, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	rpcErr2 := assertJsonRpcError(t, resp2.Body, shared.JSONRPCErrorInitialization, json.Number("2"))
	assert.Equal(t, "Server already initialized", rpcErr2.Message)
}

// A GET without a session header is malformed; a GET for an unknown session
// finds nothing to attach to.
func Test_STRM_NEG_05_GetStreamRequiresKnownSession(t *testing.T) {
	env := setupServerTest(t)

	resp, cancel, err := openStream(t, env.StreamURL(), nil)
	require.NoError(t, err)
	defer cancel()
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, cancel2, err := openStream(t, env.StreamURL(), map[string]string{transport.MCPSessionHeader: "no-such-session"})
	require.NoError(t, err)
	defer cancel2()
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

// A session carries at most one live stream; a second GET conflicts.
func Test_STRM_NEG_06_SecondStreamOnSameSessionConflicts(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)
	headers := map[string]string{transport.MCPSessionHeader: sessionID}

	first, cancelFirst, err := openStream(t, env.StreamURL(), headers)
	require.NoError(t, err)
	defer cancelFirst()
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, cancelSecond, err := openStream(t, env.StreamURL(), headers)
	require.NoError(t, err)
	defer cancelSecond()
	second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

// DELETE terminates the session; a second DELETE has nothing left to delete.
func Test_STRM_NEG_07_DeleteIsTerminal(t *testing.T) {
	env := setupServerTest(t)
	sessionID := doInitialize(t, env)
	headers := map[string]string{transport.MCPSessionHeader: sessionID}

	resp, err := makeDeleteRequest(t, env.StreamURL(), headers)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = env.Manager.GetSession(sessionID)
	assert.Error(t, err)

	resp2, err := makeDeleteRequest(t, env.StreamURL(), headers)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)

	resp3, err := makeDeleteRequest(t, env.StreamURL(), nil)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

// Browser requests from origins outside the allow-list are refused before
// any frame is parsed.
func Test_STRM_NEG_08_DisallowedOriginForbidden(t *testing.T) {
	env := setupServerTest(t, transport.WithAllowedOrigins([]string{"https://app.example.com"}))

	body := createJsonRpcRequestBody(1, "ping", nil)
	resp, err := makePostRequest(t, env.StreamURL(), body, map[string]string{"Origin": "https://evil.example.com"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp2, err := makePostRequest(t, env.StreamURL(), body, map[string]string{"Origin": "https://app.example.com"})
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEqual(t, http.StatusForbidden, resp2.StatusCode)
	assert.Equal(t, "https://app.example.com", resp2.Header.Get("Access-Control-Allow-Origin"))
}

// A handler that outlives the POST wait is answered with -32603 and the
// request slot is reclaimed.
func Test_STRM_EDGE_01_PostTimeoutAnswersWithInternalError(t *testing.T) {
	env := setupServerTest(t, transport.WithResponseWait(300*time.Millisecond))
	sessionID := doInitialize(t, env)

	body := createJsonRpcRequestBody(4, "tools/call", schema.CallToolRequestParams{
		Name: "slow", Arguments: schema.Arguments{"seconds": 2.0},
	})
	start := time.Now()
	resp, err := makePostRequest(t, env.StreamURL(), body, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	rpcErr := assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorInternal, json.Number("4"))
	assert.Equal(t, "Timeout waiting for handler response", rpcErr.Message)
	assert.Less(t, time.Since(start), 3*time.Second)
}

// A swept session id is revived as a fresh uninitialized session: the POST
// is accepted, the old id is reused, and the handshake must be redone.
func Test_STRM_EDGE_02_SweptSessionIdRevivesUninitialized(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "TestServer"
	cfg.ServerVersionValue = "1.2.3"
	// Long enough for the handshake to finish, short enough to sweep fast.
	cfg.SessionTimeoutValue = 150 * time.Millisecond
	cfg.SessionCleanupIntervalValue = 50 * time.Millisecond
	env := setupServerTestWithConfig(t, cfg)

	sessionID := doInitialize(t, env)
	require.Eventually(t, func() bool {
		_, err := env.Manager.GetSession(sessionID)
		return err != nil
	}, 3*time.Second, 10*time.Millisecond, "idle session never swept")

	body := createJsonRpcRequestBody(1, "tools/call", schema.CallToolRequestParams{
		Name: "echo", Arguments: schema.Arguments{"message": "after sweep"},
	})
	resp, err := makePostRequest(t, env.StreamURL(), body, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, resp.Header.Get(transport.MCPSessionHeader), "revived session keeps the presented id")
	rpcErr := assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorInitialization, json.Number("1"))
	assert.Equal(t, "Server not initialized", rpcErr.Message)
}

// An idle stream carries periodic heartbeats so proxies do not reap it.
func Test_STRM_EDGE_03_IdleStreamHeartbeats(t *testing.T) {
	env := setupServerTest(t, transport.WithHeartbeatInterval(100*time.Millisecond))
	sessionID := doInitialize(t, env)

	streamResp, cancelStream, err := openStream(t, env.StreamURL(), map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer cancelStream()
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)

	reader := bufio.NewReader(streamResp.Body)
	readSseEventWithTimeout(t, reader, 2*time.Second) // connection/established

	_, data, id := readSseEventWithTimeout(t, reader, 2*time.Second)
	assert.Contains(t, data, "heartbeat")
	assert.NotEmpty(t, id, "heartbeats participate in resumption")
}
