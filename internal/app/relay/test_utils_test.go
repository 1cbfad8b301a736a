package relay

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

func newTestTelemetry(t *testing.T) (*logger.Logger, Metrics, trace.Tracer) {
	t.Helper()

	m, err := NewMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return logger.New(io.Discard, logger.LevelDebug, "test", nil), m, noop.NewTracerProvider().Tracer("test")
}

// mockFetcher is a mock implementation of transfer.SourceFetcher.
type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*transfer.Source, error) {
	args := m.Called(ctx, url)
	if src, ok := args.Get(0).(*transfer.Source); ok {
		return src, args.Error(1)
	}
	return nil, args.Error(1)
}

// mockUploader is a mock implementation of transfer.SinkUploader. The body is
// read in full so expectations can match on its contents.
type mockUploader struct{ mock.Mock }

func (m *mockUploader) Upload(ctx context.Context, name string, body io.Reader, size int64) (int, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	args := m.Called(ctx, name, string(data), size)
	return args.Int(0), args.Error(1)
}

// countingLimiter admits everything and counts acquisitions.
type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// trackedBody records whether it was closed.
type trackedBody struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func (b *trackedBody) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *trackedBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// failureRecorder collects failed outcomes.
type failureRecorder struct {
	mu       sync.Mutex
	outcomes []transfer.Outcome
}

func (r *failureRecorder) HandleFailure(_ context.Context, o transfer.Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *failureRecorder) all() []transfer.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transfer.Outcome(nil), r.outcomes...)
}
