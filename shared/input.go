package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// defaultHandlerConcurrency bounds how many request handlers may run at
// once per Input instance.
const defaultHandlerConcurrency = 64

type Input struct {
	Mu              sync.RWMutex
	input           chan *Message
	logger          *zap.Logger
	validators      []MessageValidator
	methodHandlers  sync.Map     // Maps method names to handler functions
	notFoundHandler atomic.Value // func(*shared.Message) (interface{}, error)
	capabilities    []ICapability
	inflight        sync.Map // session-scoped request id -> context.CancelFunc
	concurrency     int64
}

func NewInput(logger *zap.Logger) *Input {
	i := &Input{
		validators:  []MessageValidator{},
		logger:      logger,
		input:       make(chan *Message, 100),
		concurrency: defaultHandlerConcurrency,
	}
	i.notFoundHandler.Store(func(msg *Message) (interface{}, error) {
		method := "<nil>"
		if msg.Method != nil {
			method = *msg.Method
		}
		return nil, NewMethodNotFoundError(method)
	})

	// Cancellation arrives under several aliases depending on the client
	// generation; all funnel into the same in-flight lookup.
	for _, method := range []string{"$/cancelRequest", "$/cancel", "notifications/cancelled"} {
		i.methodHandlers.Store(method, i.handleCancel)
	}
	return i
}

type MessageValidator interface {
	Validate(*Message) error
}

// SetConcurrencyLimit adjusts the handler pool size. Must be called before
// Process starts.
func (i *Input) SetConcurrencyLimit(n int64) {
	if n > 0 {
		i.concurrency = n
	}
}

// Put validates and enqueues a message for processing. Validator rejections
// are answered on the session before the error returns to the transport.
func (i *Input) Put(msg *Message) error {
	i.Mu.RLock()
	copyOfValidators := make([]MessageValidator, len(i.validators))
	copy(copyOfValidators, i.validators)
	i.Mu.RUnlock()

	for _, validator := range copyOfValidators {
		if err := validator.Validate(msg); err != nil {
			if !msg.ID.IsEmpty() {
				var rpcErr *JSONRPCError
				if !errors.As(err, &rpcErr) {
					rpcErr = NewInvalidRequestError(err.Error())
				}
				msg.Session.SendResponse(msg.ID, nil, rpcErr)
			}
			return err
		}
	}
	msg.Session.UpdateLastActivity()

	select {
	case i.input <- msg:
		i.logger.Debug("Message queued",
			zap.String("sessionID", msg.Session.GetID()),
			zap.Any("messageID", msg.ID),
			zap.Stringp("method", msg.Method),
		)
	default:
		i.logger.Error("Input channel full, dropping message",
			zap.String("sessionID", msg.Session.GetID()),
			zap.Any("messageID", msg.ID),
			zap.Stringp("method", msg.Method),
		)
		if !msg.ID.IsEmpty() {
			go msg.Session.SendResponse(msg.ID, nil, errors.New("message processor busy, message dropped"))
		}
		return errors.New("input processor busy, input channel full")
	}
	return nil
}

// Process drains the input queue until ctx is done. Response frames and
// handshake methods are dispatched inline to keep their ordering; all other
// handlers run on a bounded pool.
func (i *Input) Process(ctx context.Context) {
	i.logger.Debug("Input - Message processing loop started.")
	pool := semaphore.NewWeighted(i.concurrency)
	defer i.logger.Info("Input - Message processing loop stopped.")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-i.input:
			if msg == nil || msg.Session == nil {
				i.logger.Error("Received message with nil session in processing queue")
				continue
			}
			logger := i.logger.With(zap.String("sessionID", msg.Session.GetID()))

			switch msg.Type() {
			case MessageTypeResponse:
				// Answers to server-initiated requests never touch the
				// pool; a full pool must not be able to stall them.
				if !msg.Session.GetRequestManager().ProcessResponse(msg) {
					logger.Warn("Received response for unknown or timed-out request",
						zap.String("responseID", msg.ID.String()),
					)
				}
			case MessageTypeInvalid:
				if !msg.ID.IsEmpty() {
					msg.Session.SendResponse(msg.ID, nil, NewInvalidRequestError(""))
				} else {
					logger.Error("Received invalid message (no method or ID)")
				}
			default:
				if runsInline(*msg.Method) {
					i.dispatch(msg)
					continue
				}
				if err := pool.Acquire(ctx, 1); err != nil {
					return
				}
				go func(msgToProcess *Message) {
					defer pool.Release(1)
					i.dispatch(msgToProcess)
				}(msg)
			}
		}
	}
}

// runsInline lists the methods whose ordering against neighbouring frames
// matters: the handshake pair must complete in arrival order, and a
// cancellation must not queue behind the very handlers it cancels.
func runsInline(method string) bool {
	switch method {
	case "initialize", "initialized", "notifications/initialized",
		"$/cancelRequest", "$/cancel", "notifications/cancelled":
		return true
	}
	return false
}

// dispatch runs the handler for one request or notification frame.
func (i *Input) dispatch(msg *Message) {
	logger := i.logger.With(
		zap.String("sessionID", msg.Session.GetID()),
		zap.String("method", *msg.Method),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered during message processing", zap.Any("panic", r), zap.Any("msgId", msg.ID))
			if !msg.ID.IsEmpty() {
				msg.Session.SendResponse(msg.ID, nil, NewInternalError(*msg.Method))
			}
		}
	}()

	method := *msg.Method
	isRequest := !msg.ID.IsEmpty()

	if isRequest {
		if gateErr := checkInitGate(msg.Session.GetStatus(), method); gateErr != nil {
			logger.Debug("Request rejected by initialization gate", zap.Any("msgId", msg.ID))
			msg.Session.SendResponse(msg.ID, nil, gateErr)
			return
		}
	}

	handler, exists := i.GetHandler(method)
	if !exists {
		handler = i.notFoundHandler.Load().(func(*Message) (interface{}, error))
	}

	if isRequest {
		ctx, cancel := context.WithCancel(context.Background())
		msg.SetContext(ctx)
		key := inflightKey(msg.Session.GetID(), msg.ID)
		i.inflight.Store(key, cancel)
		defer func() {
			cancel()
			i.inflight.Delete(key)
		}()
	}

	response, err := handler(msg)

	if isRequest {
		msg.Session.SendResponse(msg.ID, response, i.sanitizeHandlerError(logger, method, err))
	} else if err != nil {
		// Notifications have no reply channel; the error stops here.
		logger.Error("Error handling notification", zap.Error(err))
	}
}

// sanitizeHandlerError passes protocol errors through untouched and
// replaces everything else with the generic internal error. The real
// failure is logged, never transmitted.
func (i *Input) sanitizeHandlerError(logger *zap.Logger, method string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	logger.Error("Request handler failed", zap.String("method", method), zap.Error(err))
	return NewInternalError(method)
}

// checkInitGate enforces the initialization handshake for request methods.
// Before initialize only initialize itself may run; between initialize and
// the initialized notification only ping may run; initialize never runs
// twice.
func checkInitGate(status SessionStatus, method string) *JSONRPCError {
	switch status {
	case StatusNew:
		if method != "initialize" {
			return NewInitializationError("Server not initialized")
		}
	case StatusConnecting:
		if method == "initialize" {
			return NewInitializationError("Server already initialized")
		}
		if method != "ping" {
			return NewInitializationError("Server not initialized")
		}
	case StatusConnected:
		if method == "initialize" {
			return NewInitializationError("Server already initialized")
		}
	}
	return nil
}

func inflightKey(sessionID string, id *schema.RequestID) string {
	return sessionID + "|" + id.String()
}

// handleCancel resolves a cancellation notification against the in-flight
// map. Unknown or already-finished ids are ignored without complaint.
func (i *Input) handleCancel(msg *Message) (interface{}, error) {
	if msg.Params == nil {
		return map[string]interface{}{}, nil
	}

	var params schema.CancelledNotificationParams
	if err := json.Unmarshal(*msg.Params, &params); err != nil || params.RequestID.IsEmpty() {
		// Older clients cancel with {"id": ...} instead of {"requestId": ...}.
		var alt struct {
			ID schema.RequestID `json:"id"`
		}
		if err := json.Unmarshal(*msg.Params, &alt); err != nil || alt.ID.IsEmpty() {
			return map[string]interface{}{}, nil
		}
		params.RequestID = alt.ID
	}

	key := inflightKey(msg.Session.GetID(), &params.RequestID)
	if cancelFn, ok := i.inflight.Load(key); ok {
		cancelFn.(context.CancelFunc)()
		i.logger.Debug("Cancelled in-flight request",
			zap.String("sessionID", msg.Session.GetID()),
			zap.String("requestID", params.RequestID.String()),
			zap.String("reason", params.Reason),
		)
	}
	return map[string]interface{}{}, nil
}

// AddNotFoundHandle registers a handler for methods that don't have a specific handler
func (i *Input) AddNotFoundHandle(handler func(*Message) (interface{}, error)) {
	i.notFoundHandler.Store(handler)
	i.logger.Debug("Registered not-found handler")
}

// GetHandler retrieves a handler for a specific method
func (i *Input) GetHandler(method string) (func(*Message) (interface{}, error), bool) {
	handler, exists := i.methodHandlers.Load(method)
	if !exists {
		return nil, false
	}
	return handler.(func(*Message) (interface{}, error)), true
}

// AddValidator adds custom message validators
func (i *Input) AddValidator(validators ...MessageValidator) {
	i.Mu.Lock()
	defer i.Mu.Unlock()
	i.validators = append(i.validators, validators...)
}

// This method avoids the addition of incorrect capabilities (static analyzer assistance).
func (i *Input) AddServerCapability(capabilities ...IServerCapability) {
	for _, capability := range capabilities {
		i.addCapability(capability.(ICapability))
	}
}

// This method avoids the addition of incorrect capabilities (static analyzer assistance).
func (i *Input) AddClientCapability(capabilities ...IClientCapability) {
	for _, capability := range capabilities {
		i.addCapability(capability.(ICapability))
	}
}

func (i *Input) addCapability(capability ICapability) {
	i.capabilities = append(i.capabilities, capability)
	for method, handler := range capability.GetHandlers() {
		i.methodHandlers.Store(method, handler)
		i.logger.Debug("Registered handler from capability",
			zap.String("capability", fmt.Sprintf("%T", capability)),
			zap.String("method", method))
	}
}

func (i *Input) SetCapabilities(clientOrServerCapabilities any) {
	// All capabilities must implement the same IServerCapability or IClientCapability interface
	if clientCapabilities, ok := clientOrServerCapabilities.(*schema.ClientCapabilities); ok {
		for _, capability := range i.capabilities {
			if clientCapability, ok := capability.(IClientCapability); ok {
				clientCapability.SetCapabilities(clientCapabilities)
			} else {
				i.logger.Error("Capability does not implement IClientCapability",
					zap.String("capability", fmt.Sprintf("%T", capability)))
			}
		}
	} else if serverCapabilities, ok := clientOrServerCapabilities.(*schema.ServerCapabilities); ok {
		for _, capability := range i.capabilities {
			if serverCapability, ok := capability.(IServerCapability); ok {
				serverCapability.SetCapabilities(serverCapabilities)
			} else {
				i.logger.Error("Capability does not implement IServerCapability",
					zap.String("capability", fmt.Sprintf("%T", capability)))
			}
		}
	} else {
		i.logger.Error("clientOrServerCapabilities must be a *ClientCapabilities or *ServerCapabilities",
			zap.String("argument", fmt.Sprintf("%T", clientOrServerCapabilities)))
	}
}
