// Package relay moves work items from an external queue to a storage sink:
// a pump feeds a bounded channel, a fixed set of workers drains it, and each
// item becomes one rate-limited, streamed GET -> PUT transfer.
package relay

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

// Transferer executes the Transfer state machine for a single item:
// admission, fetch, name derivation, streamed upload.
type Transferer struct {
	limiter transfer.Limiter
	source  transfer.SourceFetcher
	sink    transfer.SinkUploader

	logger  *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewTransferer creates a Transferer.
func NewTransferer(
	limiter transfer.Limiter,
	source transfer.SourceFetcher,
	sink transfer.SinkUploader,
	logger *logger.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) *Transferer {
	return &Transferer{
		limiter: limiter,
		source:  source,
		sink:    sink,
		logger:  logger.With("component", "transferer"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// Run relays url and returns the terminal Outcome. It never retries; a failed
// outcome is reported to the caller and nothing else.
func (t *Transferer) Run(ctx context.Context, url string) transfer.Outcome {
	ctx, span := t.tracer.Start(ctx, "relay.transfer",
		trace.WithAttributes(
			attribute.String("component", "transferer"),
			attribute.String("url", url),
		))
	defer span.End()

	outcome := t.run(ctx, span, url)

	span.SetAttributes(
		attribute.String("outcome", outcome.State.String()),
		attribute.Int("status_code", outcome.StatusCode),
		attribute.Int64("bytes", outcome.Bytes),
	)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.State.String())
	} else {
		span.SetStatus(codes.Ok, "relayed")
		t.logger.Info(ctx, "swap: "+outcome.Destination+" -> NAS",
			"url", url,
			"destination", outcome.Destination,
			"status_code", outcome.StatusCode,
			"bytes", outcome.Bytes,
			"duration", outcome.Duration,
		)
	}
	t.metrics.ObserveTransfer(ctx, outcome)

	return outcome
}

func (t *Transferer) run(ctx context.Context, span trace.Span, url string) transfer.Outcome {
	outcome := transfer.Outcome{URL: url, State: transfer.StateStart}

	// The wait has no deadline; it only fails once ctx is done.
	if err := t.limiter.Acquire(ctx); err != nil {
		outcome.State = transfer.StateFetchFailed
		outcome.Err = fmt.Errorf("%w: admission: %w", transfer.ErrSourceFetch, err)
		return outcome
	}
	span.AddEvent("admitted")

	start := time.Now()

	outcome.State = transfer.StateFetching
	src, err := t.source.Fetch(ctx, url)
	if err != nil {
		outcome.State = transfer.StateFetchFailed
		outcome.StatusCode = transfer.StatusCodeOf(err)
		outcome.Err = err
		outcome.Duration = time.Since(start)
		return outcome
	}
	defer src.Body.Close()
	outcome.State = transfer.StateFetched
	span.AddEvent("source_opened", trace.WithAttributes(
		attribute.Int("source_status_code", src.StatusCode),
		attribute.Int64("source_content_length", src.ContentLength),
	))

	outcome.Destination = DestinationName(url)
	outcome.State = transfer.StateUploading

	body := &countingReader{r: src.Body}
	code, err := t.sink.Upload(ctx, outcome.Destination, body, src.ContentLength)
	outcome.Bytes = body.n.Load()
	outcome.StatusCode = code
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.State = transfer.StateUploadFailed
		if outcome.StatusCode == 0 {
			outcome.StatusCode = transfer.StatusCodeOf(err)
		}
		outcome.Err = err
		return outcome
	}

	outcome.State = transfer.StateSucceeded
	return outcome
}

// countingReader counts the bytes streamed through it to the sink. The HTTP
// transport may still be reading when Upload returns, so the count is atomic.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
