package transport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/vecmcp/vecmcp/server/mcp"
	"github.com/vecmcp/vecmcp/server/mcp/capability"
	"github.com/vecmcp/vecmcp/server/mcp/validators"
	"github.com/vecmcp/vecmcp/server/transport"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// --- Test Environment ---

// testEnv wires a real session manager, the base and tools capabilities and
// the HTTP transport behind an httptest server, the same stack Start builds
// in production.
type testEnv struct {
	Transport *transport.Transport
	Manager   *mcp.Manager
	Tools     *capability.ToolsCapability
	Cfg       *config.InternalConfig
	Server    *httptest.Server
}

// StreamURL returns the URL of the streamable endpoint.
func (e *testEnv) StreamURL() string {
	return e.Server.URL + e.Transport.PathPrefix()
}

// SSEURL returns the URL of the legacy stream endpoint.
func (e *testEnv) SSEURL() string {
	return e.Server.URL + e.Transport.PathPrefix() + transport.SSEPathSuffix
}

func setupServerTest(t *testing.T, options ...transport.TransportOption) *testEnv {
	t.Helper()
	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "TestServer"
	cfg.ServerVersionValue = "1.2.3"
	cfg.SetUserKeyHash(config.HashAPIKey("valid-key"), "test-user")
	return setupServerTestWithConfig(t, cfg, options...)
}

func setupServerTestWithConfig(t *testing.T, cfg *config.InternalConfig, options ...transport.TransportOption) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	manager, err := mcp.NewManager(ctx, logger, cfg)
	require.NoError(t, err)
	manager.AddValidator(validators.CreateDefaultValidators()...)

	baseCap := capability.NewBase(logger, manager)
	toolsCap := capability.NewToolsCapability(manager, logger)
	registerTestTools(t, toolsCap)
	manager.AddCapability(baseCap, toolsCap)

	tp, err := transport.New(manager, logger, cfg, options...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	tp.RegisterHandlers(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		// Closing the sessions first unblocks any stream handler still
		// draining an output channel, so server.Close does not hang.
		manager.CloseAllSessions()
		server.Close()
		cancel()
	})

	return &testEnv{Transport: tp, Manager: manager, Tools: toolsCap, Cfg: cfg, Server: server}
}

// registerTestTools adds the tools the scenarios call: an echo tool, a tool
// that waits so cancellation and timeouts have something to interrupt, and a
// tool that always fails.
func registerTestTools(t *testing.T, tools *capability.ToolsCapability) {
	t.Helper()

	err := tools.AddTool("echo", "Echoes back the input message",
		&schema.JSONSchemaProperty{
			Type: "object",
			Properties: map[string]schema.JSONSchemaProperty{
				"message": {Type: "string", Description: "Message to echo"},
			},
			Required: []string{"message"},
		}, nil,
		func(msg *shared.Message, args schema.Arguments) (*schema.Meta, []schema.Content, error) {
			message, _ := args["message"].(string)
			return nil, schema.NewTextContent("Echo: " + message), nil
		})
	require.NoError(t, err)

	err = tools.AddTool("slow", "Waits before responding",
		&schema.JSONSchemaProperty{
			Type: "object",
			Properties: map[string]schema.JSONSchemaProperty{
				"seconds": {Type: "number", Description: "How long to wait"},
			},
		}, nil,
		func(msg *shared.Message, args schema.Arguments) (*schema.Meta, []schema.Content, error) {
			wait := 200 * time.Millisecond
			if seconds, ok := args["seconds"].(float64); ok {
				wait = time.Duration(seconds * float64(time.Second))
			}
			select {
			case <-time.After(wait):
				return nil, schema.NewTextContent("done"), nil
			case <-msg.Context().Done():
				return nil, nil, msg.Context().Err()
			}
		})
	require.NoError(t, err)

	err = tools.AddTool("fail", "Always returns an error", nil, nil,
		func(msg *shared.Message, args schema.Arguments) (*schema.Meta, []schema.Content, error) {
			return nil, nil, fmt.Errorf("intentional failure")
		})
	require.NoError(t, err)
}

// --- Client Interaction Helpers ---

func makePostRequest(t *testing.T, url string, body string, headers map[string]string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}

func makeDeleteRequest(t *testing.T, url string, headers map[string]string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}

// openStream issues the GET that attaches a server-to-client event stream.
// The returned cancel aborts the stream; callers defer both it and the body
// close.
func openStream(t *testing.T, url string, headers map[string]string) (*http.Response, context.CancelFunc, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, func() {}, err
	}
	return resp, cancel, nil
}

// doInitialize performs the full handshake over the streamable endpoint and
// returns the session id the server assigned. It waits until the session has
// actually reached the connected state, since the initialized notification is
// only acknowledged with 202 before it is dispatched.
func doInitialize(t *testing.T, env *testEnv) string {
	t.Helper()

	initBody := createJsonRpcRequestBody(1, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      schema.Implementation{Name: "test-client", Version: "1.0"},
		Capabilities:    schema.ClientCapabilities{},
	})
	resp, err := makePostRequest(t, env.StreamURL(), initBody, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessionID := resp.Header.Get(transport.MCPSessionHeader)
	require.NotEmpty(t, sessionID, "Mcp-Session-Id header missing in initialize response")
	assertJsonRpcSuccess(t, resp.Body, json.Number("1"))

	notifyBody := createJsonRpcNotificationBody("notifications/initialized", nil)
	resp2, err := makePostRequest(t, env.StreamURL(), notifyBody, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)

	require.Eventually(t, func() bool {
		session, err := env.Manager.GetSession(sessionID)
		return err == nil && session.GetStatus() == shared.StatusConnected
	}, 2*time.Second, 5*time.Millisecond, "session never reached connected state")

	return sessionID
}

// readNextSseEvent blocks until one complete event has been read from the
// stream. The default event type is "message" per the SSE format.
func readNextSseEvent(t *testing.T, reader *bufio.Reader) (event, data, id string, err error) {
	t.Helper()
	event = "message"
	var dataBuilder strings.Builder

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			if readErr == io.EOF && dataBuilder.Len() > 0 {
				return event, dataBuilder.String(), id, nil
			}
			return event, dataBuilder.String(), id, readErr
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if dataBuilder.Len() > 0 {
				return event, dataBuilder.String(), id, nil
			}
			// Empty event, keep reading.
			event = "message"
			id = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		field := parts[0]
		value := strings.TrimPrefix(parts[1], " ")
		switch field {
		case "event":
			event = value
		case "data":
			if dataBuilder.Len() > 0 {
				dataBuilder.WriteString("\n")
			}
			dataBuilder.WriteString(value)
		case "id":
			id = value
		}
	}
}

// readSseEventWithTimeout wraps readNextSseEvent so a stalled stream fails
// the test instead of hanging it.
func readSseEventWithTimeout(t *testing.T, reader *bufio.Reader, timeout time.Duration) (event, data, id string) {
	t.Helper()
	type sseEvent struct {
		event, data, id string
		err             error
	}
	result := make(chan sseEvent, 1)
	go func() {
		ev, d, i, err := readNextSseEvent(t, reader)
		result <- sseEvent{ev, d, i, err}
	}()
	select {
	case got := <-result:
		require.NoError(t, got.err, "reading SSE event")
		return got.event, got.data, got.id
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for SSE event", timeout)
		return "", "", ""
	}
}

// --- JSON-RPC Body Builders ---

func createJsonRpcRequestBody(id interface{}, method string, params interface{}) string {
	var rawParams *json.RawMessage
	if params != nil {
		pBytes, err := json.Marshal(params)
		if err == nil {
			raw := json.RawMessage(pBytes)
			rawParams = &raw
		}
	}
	req := shared.JSONRPCMessage{
		JSONRPC: shared.JSONRPCVersion,
		ID:      &schema.RequestID{Value: id},
		Method:  &method,
		Params:  rawParams,
	}
	reqBytes, _ := json.Marshal(req)
	return string(reqBytes)
}

func createJsonRpcNotificationBody(method string, params interface{}) string {
	var rawParams *json.RawMessage
	if params != nil {
		pBytes, err := json.Marshal(params)
		if err == nil {
			raw := json.RawMessage(pBytes)
			rawParams = &raw
		}
	}
	req := shared.JSONRPCNotification{
		JSONRPC: shared.JSONRPCVersion,
		Method:  &method,
		Params:  rawParams,
	}
	reqBytes, _ := json.Marshal(req)
	return string(reqBytes)
}

func createJsonRpcResponseBody(id *schema.RequestID, result interface{}) string {
	var rawResult *json.RawMessage
	if result != nil {
		pBytes, err := json.Marshal(result)
		if err == nil {
			raw := json.RawMessage(pBytes)
			rawResult = &raw
		}
	}
	resp := shared.JSONRPCResponse{
		JSONRPC: shared.JSONRPCVersion,
		ID:      id,
		Result:  rawResult,
	}
	respBytes, _ := json.Marshal(resp)
	return string(respBytes)
}

func createJsonRpcBatchBody(messages ...string) string {
	rawMessages := make([]json.RawMessage, len(messages))
	for i, msg := range messages {
		rawMessages[i] = json.RawMessage(msg)
	}
	batchBytes, _ := json.Marshal(rawMessages)
	return string(batchBytes)
}

// --- Assertions ---

// assertJsonRpcError checks the body for a JSON-RPC error envelope with the
// given code. When expectedID is non-nil the envelope id must match it with
// its wire type intact.
func assertJsonRpcError(t *testing.T, body io.Reader, expectedCode int, expectedID interface{}) *shared.JSONRPCError {
	t.Helper()
	bodyBytes, err := io.ReadAll(body)
	require.NoError(t, err)

	var errResp shared.JSONRPCErrorResponse
	err = json.Unmarshal(bodyBytes, &errResp)
	require.NoError(t, err, "body is not a JSON-RPC error response: %s", string(bodyBytes))
	require.NotNil(t, errResp.Error, "response has no error object: %s", string(bodyBytes))
	assert.Equal(t, expectedCode, errResp.Error.Code, "error code mismatch")
	if expectedID != nil {
		require.NotNil(t, errResp.ID, "expected an id on the error envelope")
		assert.Equal(t, expectedID, errResp.ID.Value, "error envelope id mismatch")
	}
	return errResp.Error
}

// assertJsonRpcSuccess checks the body for a success envelope with the given
// id and returns the raw result for further decoding.
func assertJsonRpcSuccess(t *testing.T, body io.Reader, expectedID interface{}) json.RawMessage {
	t.Helper()
	bodyBytes, err := io.ReadAll(body)
	require.NoError(t, err)

	var resp shared.JSONRPCResponse
	err = json.Unmarshal(bodyBytes, &resp)
	require.NoError(t, err, "body is not a JSON-RPC success response: %s", string(bodyBytes))
	require.NotNil(t, resp.Result, "response has no result field: %s", string(bodyBytes))
	if expectedID != nil {
		require.NotNil(t, resp.ID, "expected an id on the response envelope")
		require.Equal(t, expectedID, resp.ID.Value, "response id does not match request id")
	}
	return *resp.Result
}

// callTool posts a tools/call for the given session and returns the decoded
// result, asserting the id round-trips.
func callTool(t *testing.T, env *testEnv, sessionID string, id interface{}, tool string, args schema.Arguments) schema.CallToolResult {
	t.Helper()
	body := createJsonRpcRequestBody(id, "tools/call", schema.CallToolRequestParams{
		Name:      tool,
		Arguments: args,
	})
	resp, err := makePostRequest(t, env.StreamURL(), body, map[string]string{transport.MCPSessionHeader: sessionID})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw := assertJsonRpcSuccess(t, resp.Body, id)
	var result schema.CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

// --- Mock Authenticator ---

// staticAuthenticator maps keys to user ids without touching the config,
// for tests that need full control over authentication outcomes.
type staticAuthenticator struct {
	Users       map[string]string
	AllowAnon   bool
	ReturnError error
}

var _ transport.AuthenticationManager = (*staticAuthenticator)(nil)

func (a *staticAuthenticator) Authenticate(authKey string, remoteAddr string) (string, *sync.Map, error) {
	if a.ReturnError != nil {
		return "", nil, a.ReturnError
	}
	params := &sync.Map{}
	if remoteAddr != "" {
		transport.SaveRemoteAddr(params, remoteAddr)
	}
	if userID, ok := a.Users[authKey]; ok && authKey != "" {
		transport.SaveAuthKey(params, authKey)
		transport.SaveUserId(params, userID)
		return userID, params, nil
	}
	if a.AllowAnon {
		transport.SaveAuthKey(params, "")
		transport.SaveUserId(params, "")
		return "", params, nil
	}
	return "", nil, fmt.Errorf("unauthorized")
}

// quietLogger returns a logger that only surfaces errors, for tests that
// produce a lot of expected warning noise.
func quietLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.ErrorLevel))
}
