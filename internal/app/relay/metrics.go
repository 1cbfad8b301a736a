package relay

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

// Metrics defines the instruments the relay reports through.
type Metrics interface {
	// Transfer metrics
	ObserveTransfer(ctx context.Context, outcome transfer.Outcome)

	// Pump metrics
	IncItemsPopped(ctx context.Context, n int)
	IncEmptyPolls(ctx context.Context)
	IncPopErrors(ctx context.Context)

	// Pool metrics
	AddQueued(ctx context.Context, delta int)
	AddActiveWorkers(ctx context.Context, delta int)
	IncWorkerPanics(ctx context.Context)
}

var _ Metrics = (*relayMetrics)(nil)

// relayMetrics implements Metrics.
type relayMetrics struct {
	// Transfer metrics
	transfers        metric.Int64Counter
	transferDuration metric.Float64Histogram
	bytesRelayed     metric.Int64Counter

	// Pump metrics
	itemsPopped metric.Int64Counter
	emptyPolls  metric.Int64Counter
	popErrors   metric.Int64Counter

	// Pool metrics
	queued        metric.Int64UpDownCounter
	activeWorkers metric.Int64UpDownCounter
	workerPanics  metric.Int64Counter
}

const namespace = "relay"

// NewMetrics creates the relay instruments on mp.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(relayMetrics)
	var err error

	if m.transfers, err = meter.Int64Counter(
		"transfers_total",
		metric.WithDescription("Total number of finished transfers by outcome"),
	); err != nil {
		return nil, err
	}

	if m.transferDuration, err = meter.Float64Histogram(
		"transfer_duration_seconds",
		metric.WithDescription("Time from admission to terminal state of a transfer"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.bytesRelayed, err = meter.Int64Counter(
		"bytes_relayed_total",
		metric.WithDescription("Total number of body bytes streamed to the sink"),
		metric.WithUnit("bytes"),
	); err != nil {
		return nil, err
	}

	if m.itemsPopped, err = meter.Int64Counter(
		"items_popped_total",
		metric.WithDescription("Total number of items removed from the external queue"),
	); err != nil {
		return nil, err
	}

	if m.emptyPolls, err = meter.Int64Counter(
		"empty_polls_total",
		metric.WithDescription("Total number of polls that returned no items"),
	); err != nil {
		return nil, err
	}

	if m.popErrors, err = meter.Int64Counter(
		"pop_errors_total",
		metric.WithDescription("Total number of failed queue pops"),
	); err != nil {
		return nil, err
	}

	if m.queued, err = meter.Int64UpDownCounter(
		"queued_items",
		metric.WithDescription("Number of items buffered in the internal channel"),
	); err != nil {
		return nil, err
	}

	if m.activeWorkers, err = meter.Int64UpDownCounter(
		"active_workers",
		metric.WithDescription("Number of running workers"),
	); err != nil {
		return nil, err
	}

	if m.workerPanics, err = meter.Int64Counter(
		"worker_panics_total",
		metric.WithDescription("Total number of panics recovered in workers"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *relayMetrics) ObserveTransfer(ctx context.Context, outcome transfer.Outcome) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome.State.String()))
	m.transfers.Add(ctx, 1, attrs)
	m.transferDuration.Record(ctx, outcome.Duration.Seconds(), attrs)
	if outcome.Bytes > 0 {
		m.bytesRelayed.Add(ctx, outcome.Bytes)
	}
}

func (m *relayMetrics) IncItemsPopped(ctx context.Context, n int) {
	m.itemsPopped.Add(ctx, int64(n))
}

func (m *relayMetrics) IncEmptyPolls(ctx context.Context) { m.emptyPolls.Add(ctx, 1) }

func (m *relayMetrics) IncPopErrors(ctx context.Context) { m.popErrors.Add(ctx, 1) }

func (m *relayMetrics) AddQueued(ctx context.Context, delta int) {
	m.queued.Add(ctx, int64(delta))
}

func (m *relayMetrics) AddActiveWorkers(ctx context.Context, delta int) {
	m.activeWorkers.Add(ctx, int64(delta))
}

func (m *relayMetrics) IncWorkerPanics(ctx context.Context) { m.workerPanics.Add(ctx, 1) }
