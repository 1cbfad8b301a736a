package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceFetch marks a network error or non-2xx status from the source.
	ErrSourceFetch = errors.New("source fetch failed")
	// ErrSinkUpload marks a network error or non-2xx status from the sink.
	ErrSinkUpload = errors.New("sink upload failed")
	// ErrConfiguration marks invalid settings or client construction failures.
	// It is only ever fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrQueueUnavailable marks a failure to reach the external queue at startup.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrPipelineTornDown is returned when work is submitted after the internal
	// channel has been closed.
	ErrPipelineTornDown = errors.New("pipeline torn down")
)

// StatusError is a non-2xx HTTP response from either side of a Transfer.
// It unwraps to ErrSourceFetch or ErrSinkUpload.
type StatusError struct {
	StatusCode int
	Status     string
	kind       error
}

// NewSourceStatusError reports a non-2xx status from the source.
func NewSourceStatusError(code int, status string) *StatusError {
	return &StatusError{StatusCode: code, Status: status, kind: ErrSourceFetch}
}

// NewSinkStatusError reports a non-2xx status from the sink.
func NewSinkStatusError(code int, status string) *StatusError {
	return &StatusError{StatusCode: code, Status: status, kind: ErrSinkUpload}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: unexpected status %d %s", e.kind, e.StatusCode, e.Status)
}

func (e *StatusError) Unwrap() error { return e.kind }

// StatusCodeOf returns the HTTP status carried by err, or 0 if err is not a StatusError.
func StatusCodeOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
