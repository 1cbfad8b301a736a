package relay

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

// Options sizes the relay.
type Options struct {
	// Workers is the number of concurrent transfers.
	Workers int
	// BatchSize caps how many items a single poll removes from the queue.
	BatchSize int
	// IdleInterval is the sleep after a poll that returned nothing.
	IdleInterval time.Duration
}

// Relay wires the pump, pool and transferer together.
type Relay struct {
	pool *Pool
	pump *Pump

	logger *logger.Logger
}

// New assembles a Relay. failures may be nil, in which case failed outcomes
// are only logged.
func New(
	opts Options,
	queue transfer.Queue,
	limiter transfer.Limiter,
	source transfer.SourceFetcher,
	sink transfer.SinkUploader,
	failures transfer.FailureSink,
	logger *logger.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) *Relay {
	if failures == nil {
		failures = NewLogFailures(logger)
	}

	transferer := NewTransferer(limiter, source, sink, logger, metrics, tracer)
	pool := NewPool(opts.Workers, transferer, failures, logger, metrics, tracer)
	pump := NewPump(queue, pool, opts.BatchSize, opts.IdleInterval, logger, metrics, tracer)

	return &Relay{pool: pool, pump: pump, logger: logger.With("component", "relay")}
}

// Run starts the workers and pumps the queue until ctx is canceled. It then
// closes the internal channel; buffered items keep draining in the background
// and Drain waits for them. A canceled ctx is a clean stop and yields nil.
func (r *Relay) Run(ctx context.Context) error {
	r.pool.Start(ctx)

	err := r.pump.Run(ctx)
	r.pool.Close()

	if errors.Is(err, context.Canceled) {
		r.logger.Info(ctx, "Relay: Pump stopped, draining buffered items", "buffered", r.pool.Len())
		return nil
	}
	return err
}

// Drain waits for the workers to finish buffered and in-flight transfers, or
// for ctx to expire. Work still buffered after that is lost.
func (r *Relay) Drain(ctx context.Context) error {
	if err := r.pool.Wait(ctx); err != nil {
		r.logger.Warn(ctx, "Relay: Drain timed out", "abandoned", r.pool.Len(), "error", err)
		return err
	}
	r.logger.Info(ctx, "Relay: Drained")
	return nil
}
