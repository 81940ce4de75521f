package forwardcache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMethod is returned for any request method other than GET.
	// The connection is closed without a response.
	ErrUnsupportedMethod = errors.New("method not supported")
	// ErrMalformedRequest is returned when the request line has no method or target.
	ErrMalformedRequest = errors.New("malformed request line")
	// ErrHeaderTooLarge is returned when the request line and headers exceed their size limit.
	// The connection is closed without a response.
	ErrHeaderTooLarge = errors.New("request header too large")
)

// UpstreamError is a failure talking to the origin server.
// It only ever affects the connection it happened on.
type UpstreamError struct {
	// One of "connect", "write" or "read".
	Op   string
	Addr string
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
