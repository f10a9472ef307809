package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// RequestID wraps a JSON-RPC request id, which may be a string or an integer.
// The wire type of the id is preserved through decode/encode.
type RequestID struct {
	Value interface{}
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var i interface{}
	if err := decoder.Decode(&i); err != nil {
		return err
	}
	id.Value = i
	return nil
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Value)
}

func RequestID_FromUInt64(value uint64) RequestID {
	return RequestID{Value: json.Number(strconv.FormatUint(value, 10))}
}

func RequestID_FromString(value string) RequestID {
	return RequestID{Value: value}
}

// String returns the id rendered as its JSON text. String ids keep their
// quotes so that "1" and 1 never collide as map keys.
func (id *RequestID) String() string {
	if id == nil || id.Value == nil {
		return "nil"
	}
	bytes, err := json.Marshal(id.Value)
	if err != nil {
		return err.Error()
	}
	return string(bytes)
}

func (id *RequestID) IsEmpty() bool {
	return id == nil || id.Value == nil
}

// Cursor is an opaque token used to represent a cursor for pagination.
type Cursor = string

// PaginatedRequestParams represents parameters for a request supporting pagination.
type PaginatedRequestParams struct {
	// An opaque token representing the current pagination position.
	// If provided, the server should return results starting after this cursor.
	Cursor *Cursor `json:"cursor,omitempty"`
}

// PaginatedResult represents fields in a response supporting pagination.
type PaginatedResult struct {
	NextCursor *Cursor `json:"nextCursor,omitempty"` // Pagination token for next page
}
