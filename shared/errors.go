package shared

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransportClosed is returned by send paths after the owning transport
// has shut down.
var ErrTransportClosed = errors.New("transport closed")

// ErrNoOutputStream is returned when an outbound send requires an open
// client stream and none is connected.
var ErrNoOutputStream = errors.New("no open output stream for session")

// SamplingError reports that the client answered a server-initiated request
// with a JSON-RPC error object, or with a malformed response frame.
type SamplingError struct {
	Code    int
	Message string
}

func (e *SamplingError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("sampling error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sampling error: %s", e.Message)
}

// SamplingTimeoutError reports that a server-initiated request received no
// response within its deadline. The id slot is released when this fires.
type SamplingTimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

func (e *SamplingTimeoutError) Error() string {
	return fmt.Sprintf("no response to request %s within %s", e.RequestID, e.Timeout)
}
