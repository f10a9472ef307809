package transport_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecmcp/vecmcp/server/transport"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/config"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// sessionIDFromEndpoint extracts the session id from the path announced in
// the endpoint event.
func sessionIDFromEndpoint(t *testing.T, endpointPath string) string {
	t.Helper()
	parsed, err := url.Parse(endpointPath)
	require.NoError(t, err)
	sessionID := parsed.Query().Get(transport.SessionIDQueryParam)
	require.NotEmpty(t, sessionID, "endpoint event carries no session id: %q", endpointPath)
	return sessionID
}

// Every GET on the legacy endpoint mints a fresh session and announces its
// post URL in the mandatory endpoint event.
func Test_SSE_POS_01_EndpointEventAnnouncesPostURL(t *testing.T) {
	env := setupServerTest(t)

	resp, cancel, err := openStream(t, env.SSEURL(), nil)
	require.NoError(t, err)
	defer cancel()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, data, id := readSseEventWithTimeout(t, reader, 2*time.Second)
	require.Equal(t, "endpoint", event)
	assert.Empty(t, id, "legacy stream frames carry no resume ids")
	assert.True(t, strings.HasPrefix(data, env.Transport.PathPrefix()+transport.MessagePathSuffix),
		"endpoint path %q not under the message endpoint", data)

	sessionID := sessionIDFromEndpoint(t, data)
	_, err = env.Manager.GetSession(sessionID)
	assert.NoError(t, err, "announced session does not exist")

	// A second connection gets its own session.
	resp2, cancel2, err := openStream(t, env.SSEURL(), nil)
	require.NoError(t, err)
	defer cancel2()
	defer resp2.Body.Close()
	_, data2, _ := readSseEventWithTimeout(t, bufio.NewReader(resp2.Body), 2*time.Second)
	assert.NotEqual(t, sessionID, sessionIDFromEndpoint(t, data2))
}

// POSTs to the message endpoint are only acknowledged; the JSON-RPC
// responses arrive over the stream, in order.
func Test_SSE_POS_02_ResponsesRideTheStream(t *testing.T) {
	env := setupServerTest(t)

	resp, cancel, err := openStream(t, env.SSEURL(), nil)
	require.NoError(t, err)
	defer cancel()
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	event, data, _ := readSseEventWithTimeout(t, reader, 2*time.Second)
	require.Equal(t, "endpoint", event)
	sessionID := sessionIDFromEndpoint(t, data)
	messageURL := env.Server.URL + data

	initBody := createJsonRpcRequestBody(1, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      schema.Implementation{Name: "legacy-client", Version: "1.0"},
		Capabilities:    schema.ClientCapabilities{},
	})
	postResp, err := makePostRequest(t, messageURL, initBody, nil)
	require.NoError(t, err)
	postResp.Body.Close()
	require.Equal(t, http.StatusAccepted, postResp.StatusCode)

	event, data, id := readSseEventWithTimeout(t, reader, 2*time.Second)
	require.Equal(t, "message", event)
	assert.Empty(t, id)
	var initReply shared.Message
	require.NoError(t, json.Unmarshal([]byte(data), &initReply))
	require.False(t, initReply.ID.IsEmpty())
	assert.Equal(t, "1", initReply.ID.String())
	require.NotNil(t, initReply.Result)
	var initResult schema.InitializeResult
	require.NoError(t, json.Unmarshal(*initReply.Result, &initResult))
	assert.Equal(t, schema.PROTOCOL_VERSION, initResult.ProtocolVersion)

	notifyResp, err := makePostRequest(t, messageURL, createJsonRpcNotificationBody("notifications/initialized", nil), nil)
	require.NoError(t, err)
	notifyResp.Body.Close()
	require.Equal(t, http.StatusAccepted, notifyResp.StatusCode)

	require.Eventually(t, func() bool {
		session, err := env.Manager.GetSession(sessionID)
		return err == nil && session.GetStatus() == shared.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	pingResp, err := makePostRequest(t, messageURL, createJsonRpcRequestBody(2, "ping", nil), nil)
	require.NoError(t, err)
	pingResp.Body.Close()
	require.Equal(t, http.StatusAccepted, pingResp.StatusCode)

	event, data, _ = readSseEventWithTimeout(t, reader, 2*time.Second)
	require.Equal(t, "message", event)
	var pingReply shared.Message
	require.NoError(t, json.Unmarshal([]byte(data), &pingReply))
	assert.Equal(t, "2", pingReply.ID.String())
	require.NotNil(t, pingReply.Result)
	assert.Equal(t, "{}", string(*pingReply.Result))
}

// An idle legacy stream is kept alive with ping events.
func Test_SSE_POS_03_IdleStreamPings(t *testing.T) {
	env := setupServerTest(t, transport.WithSSEPingInterval(100*time.Millisecond))

	resp, cancel, err := openStream(t, env.SSEURL(), nil)
	require.NoError(t, err)
	defer cancel()
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	event, _, _ := readSseEventWithTimeout(t, reader, 2*time.Second)
	require.Equal(t, "endpoint", event)

	event, data, _ := readSseEventWithTimeout(t, reader, 2*time.Second)
	assert.Equal(t, "ping", event)
	assert.Equal(t, "{}", data)
}

// A message POST for a session that does not exist is 404: the legacy flow
// never creates sessions on the post path.
func Test_SSE_NEG_01_MessagePostRequiresExistingSession(t *testing.T) {
	env := setupServerTest(t)

	messageURL := env.Server.URL + env.Transport.PathPrefix() + transport.MessagePathSuffix +
		"?" + transport.SessionIDQueryParam + "=no-such-session"
	resp, err := makePostRequest(t, messageURL, createJsonRpcRequestBody(1, "ping", nil), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	rpcErr := assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorNotFound, nil)
	assert.Contains(t, rpcErr.Message, "no-such-session")
}

// A body that does not parse is answered with -32700 on the post itself.
func Test_SSE_NEG_02_ParseErrorOnMessagePost(t *testing.T) {
	env := setupServerTest(t)

	resp, cancel, err := openStream(t, env.SSEURL(), nil)
	require.NoError(t, err)
	defer cancel()
	defer resp.Body.Close()
	_, data, _ := readSseEventWithTimeout(t, bufio.NewReader(resp.Body), 2*time.Second)
	messageURL := env.Server.URL + data

	postResp, err := makePostRequest(t, messageURL, `{"jsonrpc":"2.0","id":13,`, nil)
	require.NoError(t, err)
	defer postResp.Body.Close()

	require.Equal(t, http.StatusBadRequest, postResp.StatusCode)
	assertJsonRpcError(t, postResp.Body, shared.JSONRPCErrorParseError, json.Number("13"))
}

// When the configuration demands authorized users, an anonymous stream GET
// is refused and a valid key is accepted from header or query.
func Test_SSE_NEG_03_AuthRequiredRefusesAnonymous(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "TestServer"
	cfg.ServerVersionValue = "1.2.3"
	cfg.AuthorizationTypeValue = config.AuthorizedUsersOnly
	cfg.SetUserKeyHash(config.HashAPIKey("valid-key"), "test-user")
	env := setupServerTestWithConfig(t, cfg)

	resp, cancel, err := openStream(t, env.SSEURL(), nil)
	require.NoError(t, err)
	defer cancel()
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, cancel2, err := openStream(t, env.SSEURL()+"?"+transport.AuthKeyQueryParam+"=valid-key", nil)
	require.NoError(t, err)
	defer cancel2()
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	event, _, _ := readSseEventWithTimeout(t, bufio.NewReader(resp2.Body), 2*time.Second)
	assert.Equal(t, "endpoint", event)

	resp3, cancel3, err := openStream(t, env.SSEURL(), map[string]string{"Authorization": "Bearer valid-key"})
	require.NoError(t, err)
	defer cancel3()
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}
