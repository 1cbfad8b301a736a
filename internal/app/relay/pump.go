package relay

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

// Submitter accepts items from the pump, blocking while downstream is full.
type Submitter interface {
	Submit(ctx context.Context, item string) error
}

// Pump moves items from the external queue into the pool. It is the only
// reader of the queue inside the process.
type Pump struct {
	queue     transfer.Queue
	submitter Submitter
	batchSize int
	idle      time.Duration

	logger  *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewPump creates a Pump popping up to batchSize items at a time and sleeping
// idle between polls that return nothing.
func NewPump(
	queue transfer.Queue,
	submitter Submitter,
	batchSize int,
	idle time.Duration,
	logger *logger.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) *Pump {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Pump{
		queue:     queue,
		submitter: submitter,
		batchSize: batchSize,
		idle:      idle,
		logger:    logger.With("component", "queue_pump"),
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Run polls until ctx is canceled or the pool is torn down. Items popped
// from the queue are submitted in order. Pop errors are logged and treated as
// an empty batch. Run returns ctx.Err() on cancellation and
// transfer.ErrPipelineTornDown if the pool closed underneath it; items popped
// but not yet submitted at that point are lost.
func (p *Pump) Run(ctx context.Context) error {
	p.logger.Info(ctx, "QueuePump: Starting", "batch_size", p.batchSize, "idle_interval", p.idle)

	idle := time.NewTimer(p.idle)
	defer idle.Stop()

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info(ctx, "QueuePump: Stopping")
			return err
		}

		items, err := p.queue.PopBatch(ctx, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn(ctx, "QueuePump: Failed to pop batch", "error", err)
			p.metrics.IncPopErrors(ctx)
			items = nil
		}

		if len(items) == 0 {
			p.metrics.IncEmptyPolls(ctx)
			idle.Reset(p.idle)
			select {
			case <-ctx.Done():
			case <-idle.C:
			}
			continue
		}

		p.metrics.IncItemsPopped(ctx, len(items))
		if err := p.submitBatch(ctx, items); err != nil {
			return err
		}
	}
}

func (p *Pump) submitBatch(ctx context.Context, items []string) error {
	ctx, span := p.tracer.Start(ctx, "relay.pump.submit_batch",
		trace.WithAttributes(
			attribute.String("component", "queue_pump"),
			attribute.Int("batch_size", len(items)),
		))
	defer span.End()

	for i, item := range items {
		err := p.submitter.Submit(ctx, item)
		if err == nil {
			continue
		}

		dropped := len(items) - i
		span.RecordError(err)
		span.SetAttributes(attribute.Int("dropped", dropped))
		if errors.Is(err, transfer.ErrPipelineTornDown) {
			span.SetStatus(codes.Error, "internal channel closed")
			p.logger.Error(ctx, "QueuePump: internal channel closed", "dropped", dropped)
			return err
		}
		span.SetStatus(codes.Error, "submit interrupted")
		p.logger.Warn(ctx, "QueuePump: Stopping with undelivered items", "dropped", dropped, "error", err)
		return err
	}

	span.AddEvent("batch_submitted")
	return nil
}
