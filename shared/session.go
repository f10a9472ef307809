package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// SessionStatus represents the current state of a session
type SessionStatus int

const (
	StatusNew        SessionStatus = iota // created, initialize not yet received
	StatusConnecting                      // initialize answered, waiting for the initialized notification
	StatusConnected                       // handshake complete, all methods available
)

// StdioSessionID is the fixed id of the session backing the stdio
// transport. It is bound to the process lifetime and never swept as idle.
const StdioSessionID = "stdio-global"

type ISession interface {
	GetID() string

	AcquireOutput() (<-chan *Message, bool)
	ReleaseOutput()
	Input() *Input

	SendResponse(msgId *schema.RequestID, result interface{}, err error)
	SendNotification(method string, params map[string]any) error
	SendRequest(method string, params interface{}, callback RequestCallback) (*schema.RequestID, error)
	SendRequestSync(ctx context.Context, method string, params interface{}, timeout time.Duration) (*json.RawMessage, error)

	RegisterResponseWaiter(id *schema.RequestID) <-chan *Message
	ReleaseResponseWaiter(id *schema.RequestID)
	CanAcceptOutbound() bool

	SetNegotiatedVersion(version string)
	GetNegotiatedVersion() string

	SetRequestContext(rc *RequestContext)
	GetRequestContext() *RequestContext

	GetLastActivity() time.Time
	UpdateLastActivity()

	GetStatus() SessionStatus
	SetStatus(status SessionStatus)
	Close() error
	GetRequestManager() *RequestManager
	GetParamsMutex() *sync.RWMutex
	GetParams() *sync.Map
	GetLogger() *zap.Logger
}

var _ ISession = (*BaseSession)(nil)

// BaseSession provides common session fields and functionality for every
// transport flavor. Transports that answer over the inbound HTTP connection
// register response waiters; everything else drains the output channel.
type BaseSession struct {
	Mu                sync.RWMutex
	ID                string
	CreatedAt         time.Time
	LastActivity      atomic.Value
	status            SessionStatus
	ParamsMutex       sync.RWMutex
	Params            *sync.Map
	RequestManager    *RequestManager
	output            chan *Message
	isOutputAcquired  bool
	Logger            *zap.Logger
	negotiatedVersion string
	inputProcessor    *Input
	requestContext    atomic.Value
	outboundTimeout   time.Duration

	waitersMu       sync.Mutex
	responseWaiters map[string]chan *Message
}

// NewBaseSession creates a new base session with the given identifier.
func NewBaseSession(logger *zap.Logger, sessionID string, inputProcessor *Input, params *sync.Map) *BaseSession {
	if params == nil {
		params = &sync.Map{}
	}
	sessionLogger := logger.With(zap.String("session_id", sessionID))
	sessionLogger.Debug("Creating new session")
	s := &BaseSession{
		Logger:          sessionLogger,
		ID:              sessionID,
		CreatedAt:       time.Now(),
		status:          StatusNew,
		Params:          params,
		RequestManager:  NewRequestManager(sessionLogger),
		Mu:              sync.RWMutex{},
		ParamsMutex:     sync.RWMutex{},
		output:          make(chan *Message, 100), // TODO: Make configurable
		inputProcessor:  inputProcessor,
		outboundTimeout: DefaultOutboundTimeout,
		responseWaiters: make(map[string]chan *Message),
	}
	s.UpdateLastActivity()
	return s
}

// GetID returns the unique session identifier
func (s *BaseSession) GetID() string {
	return s.ID
}

func (s *BaseSession) GetParams() *sync.Map {
	return s.Params
}

func (s *BaseSession) GetParamsMutex() *sync.RWMutex {
	return &s.ParamsMutex
}

// GetStatus returns the current status of the session
func (s *BaseSession) GetStatus() SessionStatus {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.status
}

// SetStatus updates the status of the session
func (s *BaseSession) SetStatus(status SessionStatus) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.status = status
}

// UpdateLastActivity updates the last activity timestamp for the session
func (s *BaseSession) UpdateLastActivity() {
	s.LastActivity.Store(time.Now())
}

func (s *BaseSession) GetLastActivity() time.Time {
	return s.LastActivity.Load().(time.Time)
}

// GetRequestManager returns the request manager for this session
func (s *BaseSession) GetRequestManager() *RequestManager {
	return s.RequestManager
}

// SetDefaultOutboundTimeout overrides the wait applied to server-initiated
// requests that do not carry their own timeout.
func (s *BaseSession) SetDefaultOutboundTimeout(timeout time.Duration) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if timeout > 0 {
		s.outboundTimeout = timeout
	}
}

func (s *BaseSession) getDefaultOutboundTimeout() time.Duration {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.outboundTimeout
}

func (s *BaseSession) Close() error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.status = StatusNew
	if s.output == nil {
		s.Logger.Debug("Double close of session")
		return nil
	}
	close(s.output)
	s.isOutputAcquired = false
	s.output = nil
	s.RequestManager.CancelAll()
	return nil
}

// AcquireOutput hands the output channel to a single writer. A second
// acquire fails until the first writer releases it.
func (s *BaseSession) AcquireOutput() (<-chan *Message, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.isOutputAcquired || s.output == nil {
		s.Logger.Debug("Output channel is not available",
			zap.Bool("outputAcquired", s.isOutputAcquired),
			zap.Bool("outputIsNil", s.output == nil),
		)
		return nil, false
	}
	s.isOutputAcquired = true
	return s.output, true
}

func (s *BaseSession) ReleaseOutput() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.isOutputAcquired = false
}

// CanAcceptOutbound reports whether a writer is currently draining the
// output channel. Outbound sends refuse when there is none.
func (s *BaseSession) CanAcceptOutbound() bool {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.output != nil && s.isOutputAcquired
}

// SetNegotiatedVersion stores the protocol version agreed upon during initialization.
func (s *BaseSession) SetNegotiatedVersion(version string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.negotiatedVersion = version
}

// GetNegotiatedVersion retrieves the negotiated protocol version for the session.
func (s *BaseSession) GetNegotiatedVersion() string {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.negotiatedVersion
}

// SetRequestContext replaces the transport snapshot ahead of a dispatch.
// The previous snapshot is discarded, never mutated.
func (s *BaseSession) SetRequestContext(rc *RequestContext) {
	if rc != nil {
		s.requestContext.Store(rc)
	}
}

func (s *BaseSession) GetRequestContext() *RequestContext {
	if rc, ok := s.requestContext.Load().(*RequestContext); ok {
		return rc
	}
	return nil
}

// RegisterResponseWaiter routes the response for the given request id into
// a dedicated channel instead of the session output. The streamable POST
// path uses this because its HTTP response body carries the reply.
func (s *BaseSession) RegisterResponseWaiter(id *schema.RequestID) <-chan *Message {
	ch := make(chan *Message, 1)
	s.waitersMu.Lock()
	s.responseWaiters[id.String()] = ch
	s.waitersMu.Unlock()
	return ch
}

// ReleaseResponseWaiter abandons the waiter for the given id, returning the
// response route to the session output.
func (s *BaseSession) ReleaseResponseWaiter(id *schema.RequestID) {
	s.waitersMu.Lock()
	delete(s.responseWaiters, id.String())
	s.waitersMu.Unlock()
}

func (s *BaseSession) takeResponseWaiter(id *schema.RequestID) chan *Message {
	if id.IsEmpty() {
		return nil
	}
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()
	ch, ok := s.responseWaiters[id.String()]
	if ok {
		delete(s.responseWaiters, id.String())
	}
	return ch
}

// enqueueOutbound places a frame on the output channel if a writer is
// draining it. It never blocks: a full channel is an error, not a stall.
func (s *BaseSession) enqueueOutbound(msg *Message) error {
	s.Mu.RLock()
	outputChan := s.output
	acquired := s.isOutputAcquired
	s.Mu.RUnlock()

	if outputChan == nil {
		return ErrTransportClosed
	}
	if !acquired {
		return ErrNoOutputStream
	}
	select {
	case outputChan <- msg:
		s.UpdateLastActivity()
		return nil
	default:
		return fmt.Errorf("output channel full")
	}
}

// SendNotification sends a notification (a message without an ID) to the output channel
func (s *BaseSession) SendNotification(method string, params map[string]any) error {
	var jsonParams *json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			s.Logger.Error("failed to marshal notification params", zap.Error(err))
			return err
		}
		raw := json.RawMessage(data)
		jsonParams = &raw
	}
	return s.enqueueOutbound(&Message{
		Session:   s,
		Timestamp: time.Now(),
		Method:    &method,
		Params:    jsonParams,
	})
}

// SendRequest sends a server-initiated request; the callback runs when the
// client's response arrives. The minted id is returned so callers can
// correlate or abandon the wait.
func (s *BaseSession) SendRequest(method string, params interface{}, callback RequestCallback) (*schema.RequestID, error) {
	if s.GetStatus() != StatusConnected {
		s.Logger.Warn("Request sent to not connected session",
			zap.String("method", method),
		)
	}

	msgID := NextOutboundID()
	var jsonParams *json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request parameters: %w", err)
		}
		raw := json.RawMessage(data)
		jsonParams = &raw
	}

	msg := &Message{
		ID:        &msgID,
		Method:    &method,
		Session:   s,
		Params:    jsonParams,
		Timestamp: time.Now(),
	}

	s.RequestManager.RegisterRequest(&msgID, callback)
	if err := s.enqueueOutbound(msg); err != nil {
		s.RequestManager.Release(&msgID)
		return nil, err
	}
	return &msgID, nil
}

// SendRequestSync sends a server-initiated request and blocks until the
// client answers or the timeout elapses. A timeout of zero applies the
// session default.
func (s *BaseSession) SendRequestSync(ctx context.Context, method string, params interface{}, timeout time.Duration) (*json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.getDefaultOutboundTimeout()
	}

	msgID := NextOutboundID()
	var jsonParams *json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request parameters: %w", err)
		}
		raw := json.RawMessage(data)
		jsonParams = &raw
	}

	msg := &Message{
		ID:        &msgID,
		Method:    &method,
		Session:   s,
		Params:    jsonParams,
		Timestamp: time.Now(),
	}

	// The slot must exist before the frame is on the wire, otherwise a fast
	// client could answer into the void.
	done := make(chan *Message, 1)
	s.RequestManager.RegisterRequest(&msgID, func(m *Message) { done <- m })

	if err := s.enqueueOutbound(msg); err != nil {
		s.RequestManager.Release(&msgID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-done:
		if m.Error != nil {
			return nil, &SamplingError{Code: m.Error.Code, Message: m.Error.Message}
		}
		if m.Result == nil {
			return nil, &SamplingError{Message: "missing result field"}
		}
		return m.Result, nil
	case <-timer.C:
		s.RequestManager.Release(&msgID)
		return nil, &SamplingTimeoutError{RequestID: msgID.String(), Timeout: timeout}
	case <-ctx.Done():
		s.RequestManager.Release(&msgID)
		return nil, ctx.Err()
	}
}

// SendResponse sends a response message for the given request id.
// Handles conversion of Go errors to JSONRPCError type for the Message struct.
func (s *BaseSession) SendResponse(msgId *schema.RequestID, result interface{}, err error) {
	if result == nil && err == nil {
		s.Logger.Error("SendResponse called with nil result and nil error", zap.Any("msgId", msgId))
		return
	}

	var jsonResult *json.RawMessage
	var jsonRpcError *JSONRPCError

	if err != nil {
		// Convert Go error to JSONRPCError structure
		if jsonErr, ok := err.(*JSONRPCError); ok {
			jsonRpcError = jsonErr
		} else {
			jsonRpcError = NewJSONRPCError(err)
		}
	} else {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			s.Logger.Error("Failed to marshal response result", zap.Error(marshalErr), zap.Any("msgId", msgId))
			jsonRpcError = &JSONRPCError{
				Code:    JSONRPCErrorInternal,
				Message: fmt.Sprintf("Failed to marshal result: %v", marshalErr),
			}
		} else {
			raw := json.RawMessage(data)
			jsonResult = &raw
		}
	}

	msg := &Message{
		Session:   s,
		Timestamp: time.Now(),
		ID:        msgId,
		Result:    jsonResult,
		Error:     jsonRpcError,
	}

	// A registered waiter takes priority over the session output; the
	// HTTP handler that owns it is blocked on exactly this frame.
	if waiter := s.takeResponseWaiter(msgId); waiter != nil {
		waiter <- msg
		s.UpdateLastActivity()
		return
	}

	if sendErr := s.enqueueOutbound(msg); sendErr != nil {
		s.Logger.Warn("Failed to send response",
			zap.Any("msgId", msgId),
			zap.Error(sendErr),
		)
	}
}

func (s *BaseSession) Input() *Input {
	return s.inputProcessor
}

func (s *BaseSession) GetLogger() *zap.Logger {
	return s.Logger
}
