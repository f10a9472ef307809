package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// DefaultOutboundTimeout bounds how long a server-initiated request waits
// for the client's response unless the caller overrides it.
const DefaultOutboundTimeout = 30 * time.Second

var (
	outboundCounter atomic.Uint64
	outboundTag     = newOutboundTag()
)

func newOutboundTag() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "0000"
	}
	return hex.EncodeToString(b)
}

// NextOutboundID mints a process-unique string id for a server-initiated
// request. The pid and random tag keep ids from colliding with anything a
// client could plausibly have sent.
func NextOutboundID() schema.RequestID {
	return schema.RequestID_FromString(
		fmt.Sprintf("vecmcp_%d_%s_%d", os.Getpid(), outboundTag, outboundCounter.Add(1)))
}

// RequestCallback is a function that handles response messages.
type RequestCallback func(msg *Message)

// Request holds information about a sent request.
type Request struct {
	Callback  RequestCallback
	Timestamp time.Time
}

// RequestManager correlates server-initiated requests with the client
// responses that answer them. Each registered id owns a one-shot slot: the
// first response claims it, later duplicates are dropped.
type RequestManager struct {
	requests map[string]Request
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRequestManager creates a new RequestManager instance.
func NewRequestManager(logger *zap.Logger) *RequestManager {
	return &RequestManager{
		requests: make(map[string]Request),
		logger:   logger,
	}
}

// RegisterRequest registers a request with its callback for later processing.
func (rm *RequestManager) RegisterRequest(id *schema.RequestID, callback RequestCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.requests[id.String()] = Request{
		Callback:  callback,
		Timestamp: time.Now(),
	}
	rm.logger.Debug("RegisterRequest", zap.String("message_id", id.String()), zap.Int("requests_len", len(rm.requests)))
}

// Release drops the slot for an id without invoking its callback. Timed-out
// waiters call this so abandoned ids never accumulate.
func (rm *RequestManager) Release(id *schema.RequestID) {
	rm.mu.Lock()
	delete(rm.requests, id.String())
	rm.mu.Unlock()
}

// PendingCount reports how many requests still await a response.
func (rm *RequestManager) PendingCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.requests)
}

// ProcessResponse claims the slot for the response's id and invokes its
// callback. Returns false when no slot exists, which covers both unknown
// ids and duplicates; the frame is dropped either way.
func (rm *RequestManager) ProcessResponse(msg *Message) bool {
	if msg.ID == nil {
		rm.logger.Error("No message ID found")
		return false
	}

	rm.mu.Lock()
	request, exists := rm.requests[msg.ID.String()]
	if exists {
		delete(rm.requests, msg.ID.String())
	}
	rm.mu.Unlock()

	if !exists || request.Callback == nil {
		rm.logger.Warn("No callback found for message, dropping response",
			zap.String("message_id", msg.ID.String()))
		return false
	}

	request.Callback(msg)
	msg.Processed = true
	return true
}

// WaitForResponse registers the id and blocks until the client answers, the
// timeout elapses or ctx is cancelled. The slot is released on every exit
// path. A client error frame surfaces as *SamplingError, an elapsed timer
// as *SamplingTimeoutError.
func (rm *RequestManager) WaitForResponse(ctx context.Context, id *schema.RequestID, timeout time.Duration) (*json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultOutboundTimeout
	}

	done := make(chan *Message, 1)
	rm.RegisterRequest(id, func(msg *Message) {
		done <- msg
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-done:
		if msg.Error != nil {
			return nil, &SamplingError{Code: msg.Error.Code, Message: msg.Error.Message}
		}
		if msg.Result == nil {
			return nil, &SamplingError{Message: "missing result field"}
		}
		return msg.Result, nil
	case <-timer.C:
		rm.Release(id)
		return nil, &SamplingTimeoutError{RequestID: id.String(), Timeout: timeout}
	case <-ctx.Done():
		rm.Release(id)
		return nil, ctx.Err()
	}
}

// CancelAll reports outstanding requests at shutdown. Slots are left in
// place so each waiting caller fails through its own timeout rather than
// receiving a synthesized error.
func (rm *RequestManager) CancelAll() int {
	rm.mu.RLock()
	pending := len(rm.requests)
	rm.mu.RUnlock()
	if pending > 0 {
		rm.logger.Debug("Requests still pending at shutdown, leaving them to time out",
			zap.Int("pending", pending))
	}
	return pending
}
