package shared

import (
	"encoding/json"
	"fmt"

	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

const (
	JSONRPCVersion = "2.0"

	// Standard JSON-RPC 2.0 error codes
	JSONRPCErrorParseError     = -32700 // Invalid JSON was received
	JSONRPCErrorInvalidRequest = -32600 // The JSON sent is not a valid Request object
	JSONRPCErrorMethodNotFound = -32601 // The method does not exist / is not available
	JSONRPCErrorInvalidParams  = -32602 // Invalid method parameter(s)
	JSONRPCErrorInternal       = -32603 // Internal JSON-RPC error

	// -32000 to -32099 are reserved for implementation-defined server errors
	JSONRPCErrorNotFound       = -32001 // Session, tool, resource or prompt does not exist
	JSONRPCErrorInitialization = -32002 // Method arrived before the initialization handshake completed
)

type JSONRPCErrorResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *schema.RequestID `json:"id,omitempty"`
	Error   *JSONRPCError     `json:"error"`
}

// JSONRPCResponse represents the structure for sending successful JSON-RPC responses.
type JSONRPCResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *schema.RequestID `json:"id"` // Must be present and same as request ID
	Result  *json.RawMessage  `json:"result"`
}

type JSONRPCMessage struct {
	JSONRPC string            `json:"jsonrpc"` // Must be "2.0"
	ID      *schema.RequestID `json:"id,omitempty"`
	Method  *string           `json:"method,omitempty"`
	Params  *json.RawMessage  `json:"params,omitempty"`
	Error   *JSONRPCError     `json:"error,omitempty"`
}

type JSONRPCNotification struct {
	JSONRPC string           `json:"jsonrpc"` // Must be "2.0"
	Method  *string          `json:"method"`
	Params  *json.RawMessage `json:"params,omitempty"`
}

type JSONRPCRequest struct {
	JSONRPC string           `json:"jsonrpc"` // Must be "2.0"
	ID      schema.RequestID `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  map[string]any   `json:"params,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error type code
	Message string      `json:"message"`        // Short error description
	Data    interface{} `json:"data,omitempty"` // Additional error information

	// RequestID optionally carries the id of the request the error belongs to,
	// for handlers that raise the error outside of a reply path.
	RequestID *schema.RequestID `json:"-"`
}

// Error implements the Go error interface for JSONRPCError.
func (e *JSONRPCError) Error() string {
	// Provide a standard Go error string representation
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func NewJSONRPCError(err error) *JSONRPCError {
	if err == nil {
		return nil
	}
	return &JSONRPCError{
		Code:    JSONRPCErrorInternal,
		Message: err.Error(),
	}
}

// NewParseError builds the canonical parse-error object. The underlying
// decode failure is intentionally not transmitted; callers log it instead.
func NewParseError() *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorParseError,
		Message: "Parse error",
	}
}

func NewInvalidRequestError(detail string) *JSONRPCError {
	e := &JSONRPCError{
		Code:    JSONRPCErrorInvalidRequest,
		Message: "Invalid Request",
	}
	if detail != "" {
		e.Data = map[string]string{"detail": detail}
	}
	return e
}

func NewMethodNotFoundError(method string) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorMethodNotFound,
		Message: "Method not found",
		Data:    map[string]string{"method": method},
	}
}

func NewInvalidParamsError(detail string) *JSONRPCError {
	e := &JSONRPCError{
		Code:    JSONRPCErrorInvalidParams,
		Message: "Invalid params",
	}
	if detail != "" {
		e.Data = map[string]string{"detail": detail}
	}
	return e
}

// NewInternalError builds the sanitized internal-error object sent to
// clients when a handler fails unexpectedly. The real error text stays in
// the server log.
func NewInternalError(method string) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorInternal,
		Message: "Request handler failed",
		Data: map[string]string{
			"method": method,
			"error":  "An internal error occurred",
		},
	}
}

func NewNotFoundError(detail string) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorNotFound,
		Message: detail,
	}
}

func NewInitializationError(detail string) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorInitialization,
		Message: detail,
	}
}
