package shared

import (
	"net/http"
	"net/url"
	"time"
)

// RequestContext is an immutable snapshot of the transport-level request
// that delivered the current frame. A fresh value replaces the previous one
// on every inbound message; the old snapshot is never mutated in place.
type RequestContext struct {
	Transport  string // "stdio", "sse" or "streamable"
	Method     string // HTTP method, empty on stdio
	Path       string
	RemoteAddr string
	UserAgent  string
	Headers    http.Header
	Query      url.Values
	ReceivedAt time.Time
}

// NewHTTPRequestContext snapshots the relevant parts of an HTTP request.
// Headers and query values are copied so later reuse of the request object
// cannot leak into the stored context.
func NewHTTPRequestContext(transport string, r *http.Request) *RequestContext {
	headers := make(http.Header, len(r.Header))
	for k, v := range r.Header {
		headers[k] = append([]string(nil), v...)
	}
	query := make(url.Values)
	for k, v := range r.URL.Query() {
		query[k] = append([]string(nil), v...)
	}
	return &RequestContext{
		Transport:  transport,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Headers:    headers,
		Query:      query,
		ReceivedAt: time.Now(),
	}
}

// NewStdioRequestContext returns the context used for frames arriving on
// standard input, where no HTTP metadata exists.
func NewStdioRequestContext() *RequestContext {
	return &RequestContext{
		Transport:  "stdio",
		ReceivedAt: time.Now(),
	}
}
