package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

type Message struct {
	ID        *schema.RequestID `json:"id,omitempty"`
	Timestamp time.Time         `json:"-"`
	Method    *string           `json:"method,omitempty"`
	Params    *json.RawMessage  `json:"params,omitempty"`
	Result    *json.RawMessage  `json:"result,omitempty"`
	Error     *JSONRPCError     `json:"error,omitempty"`

	Processed bool     `json:"-"`
	Session   ISession `json:"-"`

	ctx context.Context
}

// MessageType classifies a decoded frame by its populated fields.
type MessageType int

const (
	MessageTypeInvalid MessageType = iota
	MessageTypeRequest
	MessageTypeNotification
	MessageTypeResponse
)

// Type determines the frame kind from id, method, result and error alone.
// Frames that fit no kind are invalid and must be answered with -32600.
func (m *Message) Type() MessageType {
	switch {
	case m.Method != nil && !m.ID.IsEmpty():
		return MessageTypeRequest
	case m.Method != nil:
		return MessageTypeNotification
	case !m.ID.IsEmpty() && (m.Result != nil || m.Error != nil):
		return MessageTypeResponse
	default:
		return MessageTypeInvalid
	}
}

// Context returns the cancellation context attached to the message, or
// context.Background when none was attached.
func (m *Message) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// SetContext attaches a cancellation context. The dispatcher sets it before
// running the handler so that cancellation notifications can reach it.
func (m *Message) SetContext(ctx context.Context) {
	m.ctx = ctx
}

// ParseMessages decodes one wire frame into messages, accepting both a
// single JSON-RPC object and a batch array. A frame that does not open
// with '{' or '[' is rejected without attempting a full decode.
func ParseMessages(s ISession, data []byte) ([]*Message, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, fmt.Errorf("frame does not start with '{' or '['")
	}

	if trimmed[0] == '[' {
		var messages []*Message
		if err := json.Unmarshal(trimmed, &messages); err != nil {
			return nil, fmt.Errorf("invalid JSON-RPC batch: %w", err)
		}
		for _, msg := range messages {
			if msg != nil {
				msg.Session = s
			}
		}
		return messages, nil
	}

	var singleMessage Message
	if err := json.Unmarshal(trimmed, &singleMessage); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}
	singleMessage.Session = s
	return []*Message{&singleMessage}, nil
}

// RecoverRequestID scans a frame that failed to decode and extracts the
// top-level "id" value when the bytes up to the syntax error still contain
// one. Used to address parse-error responses. Returns nil when no id can
// be recovered.
func RecoverRequestID(data []byte) *schema.RequestID {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	token, err := decoder.Token()
	if err != nil || token != json.Delim('{') {
		return nil
	}
	for {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil // closing '}' reached without an id
		}
		if key == "id" {
			valueToken, err := decoder.Token()
			if err != nil {
				return nil
			}
			switch v := valueToken.(type) {
			case string:
				return &schema.RequestID{Value: v}
			case json.Number:
				return &schema.RequestID{Value: v}
			default:
				return nil
			}
		}
		if err := skipJSONValue(decoder); err != nil {
			return nil
		}
	}
}

// skipJSONValue consumes one value, descending into nested objects and
// arrays, so the decoder lands on the next object key.
func skipJSONValue(decoder *json.Decoder) error {
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	delim, ok := token.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		if d, ok := token.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// MarshalJSON ensures the JSONRPC field is properly set before marshaling
func (m *Message) MarshalJSON() ([]byte, error) {
	if m.Error != nil {
		response := JSONRPCErrorResponse{
			JSONRPC: "2.0",
			ID:      m.ID,
			Error:   m.Error,
		}
		return json.Marshal(response)
	}
	if m.Result != nil {
		response := JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      m.ID,
			Result:  m.Result,
		}
		return json.Marshal(response)
	}
	response := JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      m.ID,
		Method:  m.Method,
		Params:  m.Params,
	}
	return json.Marshal(response)
}
