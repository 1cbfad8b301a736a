// Package transfer holds the domain model of a single fetch-and-relay operation:
// the terminal outcomes a Transfer can reach, the error taxonomy, and the ports
// the relay depends on (queue, source, sink, failure handling).
package transfer

import (
	"context"
	"io"
	"time"
)

// State is a step in a Transfer's lifecycle.
//
//	Start -> Fetching -> FetchFailed
//	                  -> Fetched -> Uploading -> UploadFailed
//	                                          -> Succeeded
//
// There are no transitions back; the three failed/succeeded states are terminal.
type State uint8

const (
	StateStart State = iota
	StateFetching
	StateFetched
	StateUploading
	StateFetchFailed
	StateUploadFailed
	StateSucceeded
)

var stateNames = [...]string{
	StateStart:        "start",
	StateFetching:     "fetching",
	StateFetched:      "fetched",
	StateUploading:    "uploading",
	StateFetchFailed:  "source_fetch_failed",
	StateUploadFailed: "sink_upload_failed",
	StateSucceeded:    "success",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateFetchFailed || s == StateUploadFailed || s == StateSucceeded
}

// Outcome is the terminal result of one Transfer. It is used for logging and
// metrics only; nothing is persisted and no retry state is kept.
type Outcome struct {
	URL         string
	Destination string
	State       State
	// StatusCode is the HTTP status behind a status failure, or the sink's
	// status on success. It is zero for network errors.
	StatusCode int
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// Succeeded reports whether the upload completed with a 2xx status.
func (o Outcome) Succeeded() bool { return o.State == StateSucceeded }

// Source is an open response body from the source side.
type Source struct {
	Body io.ReadCloser
	// ContentLength is -1 when the source did not announce a length.
	ContentLength int64
	ContentType   string
	StatusCode    int
}

// Queue is the external work queue. PopBatch removes up to max items from the
// head in insertion order without blocking; it returns an empty slice when the
// queue has nothing to give.
type Queue interface {
	PopBatch(ctx context.Context, max int) ([]string, error)
}

// Producer appends items to the tail of the external queue.
type Producer interface {
	Push(ctx context.Context, urls ...string) error
}

// SourceFetcher issues the GET for a work item. Any network failure or non-2xx
// status is returned as an error wrapping ErrSourceFetch; on success the caller
// owns Source.Body.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (*Source, error)
}

// SinkUploader streams body to the storage sink under name. size is -1 when
// unknown. Non-2xx responses and network failures wrap ErrSinkUpload.
type SinkUploader interface {
	Upload(ctx context.Context, name string, body io.Reader, size int64) (int, error)
}

// Limiter admits Transfers at a bounded rate.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// FailureSink receives every failed Outcome after the Transfer has finished.
// Implementations decide what, if anything, happens next; the relay itself never
// retries or requeues.
type FailureSink interface {
	HandleFailure(ctx context.Context, outcome Outcome)
}

// FailureSinkFunc adapts a function to FailureSink.
type FailureSinkFunc func(ctx context.Context, outcome Outcome)

// HandleFailure calls f.
func (f FailureSinkFunc) HandleFailure(ctx context.Context, outcome Outcome) { f(ctx, outcome) }

// DiscardFailures drops failed outcomes. This is the fire-and-forget policy:
// a failed URL is simply not copied this time.
var DiscardFailures FailureSink = FailureSinkFunc(func(context.Context, Outcome) {})
