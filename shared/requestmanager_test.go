package shared_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

func TestNextOutboundID_UniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := shared.NextOutboundID()
		s := id.String()
		assert.True(t, strings.HasPrefix(s, `"vecmcp_`), "outbound ids are strings with the process prefix, got %s", s)
		assert.False(t, seen[s], "id %s minted twice", s)
		seen[s] = true
	}
}

func TestRequestManager_ProcessResponse(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))
	id := shared.NextOutboundID()

	var received *shared.Message
	rm.RegisterRequest(&id, func(msg *shared.Message) { received = msg })
	require.Equal(t, 1, rm.PendingCount())

	raw := json.RawMessage(`{"ok":true}`)
	response := &shared.Message{ID: &id, Result: &raw}
	assert.True(t, rm.ProcessResponse(response))
	require.NotNil(t, received)
	assert.Equal(t, &raw, received.Result)
	assert.True(t, response.Processed)
	assert.Equal(t, 0, rm.PendingCount())

	// The slot is one-shot: a duplicate response finds nothing.
	assert.False(t, rm.ProcessResponse(response))
}

func TestRequestManager_ProcessResponseUnknownID(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))

	unknown := schema.RequestID_FromString("never-registered")
	assert.False(t, rm.ProcessResponse(&shared.Message{ID: &unknown}))
	assert.False(t, rm.ProcessResponse(&shared.Message{}), "a response without an id matches nothing")
}

func TestRequestManager_Release(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))
	id := shared.NextOutboundID()

	called := false
	rm.RegisterRequest(&id, func(msg *shared.Message) { called = true })
	rm.Release(&id)

	assert.Equal(t, 0, rm.PendingCount())
	assert.False(t, rm.ProcessResponse(&shared.Message{ID: &id}))
	assert.False(t, called)
}

func TestRequestManager_WaitForResponse(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))
	id := shared.NextOutboundID()

	go func() {
		// Simulate the client answering shortly after the wait begins.
		time.Sleep(20 * time.Millisecond)
		raw := json.RawMessage(`"answer"`)
		rm.ProcessResponse(&shared.Message{ID: &id, Result: &raw})
	}()

	result, err := rm.WaitForResponse(context.Background(), &id, time.Second)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, `"answer"`, string(*result))
	assert.Equal(t, 0, rm.PendingCount())
}

func TestRequestManager_WaitForResponseErrorFrame(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))
	id := shared.NextOutboundID()

	go func() {
		time.Sleep(20 * time.Millisecond)
		rm.ProcessResponse(&shared.Message{
			ID:    &id,
			Error: &shared.JSONRPCError{Code: -1, Message: "client refused"},
		})
	}()

	_, err := rm.WaitForResponse(context.Background(), &id, time.Second)
	require.Error(t, err)
	var samplingErr *shared.SamplingError
	require.ErrorAs(t, err, &samplingErr)
	assert.Equal(t, -1, samplingErr.Code)
	assert.Equal(t, "client refused", samplingErr.Message)
}

func TestRequestManager_WaitForResponseTimeout(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))
	id := shared.NextOutboundID()

	start := time.Now()
	_, err := rm.WaitForResponse(context.Background(), &id, 50*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *shared.SamplingTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, id.String(), timeoutErr.RequestID)
	assert.Less(t, time.Since(start), time.Second)

	// The slot must be gone so abandoned ids never accumulate.
	assert.Equal(t, 0, rm.PendingCount())
}

func TestRequestManager_WaitForResponseContextCancelled(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))
	id := shared.NextOutboundID()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rm.WaitForResponse(ctx, &id, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rm.PendingCount())
}

func TestRequestManager_SequentialTimeoutsDoNotLeak(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))

	for i := 0; i < 10000; i++ {
		id := shared.NextOutboundID()
		rm.RegisterRequest(&id, func(msg *shared.Message) {})
		rm.Release(&id)
	}
	assert.Equal(t, 0, rm.PendingCount())

	// A slice of real waits through the timeout path.
	for i := 0; i < 25; i++ {
		id := shared.NextOutboundID()
		_, err := rm.WaitForResponse(context.Background(), &id, time.Millisecond)
		require.Error(t, err)
	}
	assert.Equal(t, 0, rm.PendingCount())
}

func TestRequestManager_CancelAllLeavesSlots(t *testing.T) {
	rm := shared.NewRequestManager(zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		id := shared.NextOutboundID()
		rm.RegisterRequest(&id, func(msg *shared.Message) {})
	}

	// Shutdown reporting must not synthesize responses; each waiter fails
	// through its own timeout instead.
	assert.Equal(t, 3, rm.CancelAll())
	assert.Equal(t, 3, rm.PendingCount())
}
