package relay

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

// bufferPerWorker sizes the internal channel relative to the worker count.
const bufferPerWorker = 4

// Runner executes a single work item to a terminal outcome.
type Runner interface {
	Run(ctx context.Context, url string) transfer.Outcome
}

// Pool is a fixed set of workers draining a bounded channel of work items.
// Submit blocks while the channel is full, which is the only flow control
// between the pump and the workers.
type Pool struct {
	workers int
	items   chan string

	// mu guards closing items against in-flight Submit calls.
	mu        sync.RWMutex
	torn      chan struct{}
	tearOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup

	runner   Runner
	failures transfer.FailureSink

	logger  *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewPool creates a pool of workers with a channel of capacity 4 x workers.
// A non-positive worker count is treated as one. A nil failures sink discards
// failed outcomes.
func NewPool(
	workers int,
	runner Runner,
	failures transfer.FailureSink,
	logger *logger.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) *Pool {
	if workers < 1 {
		workers = 1
	}
	if failures == nil {
		failures = transfer.DiscardFailures
	}
	return &Pool{
		workers:  workers,
		items:    make(chan string, workers*bufferPerWorker),
		torn:     make(chan struct{}),
		runner:   runner,
		failures: failures,
		logger:   logger.With("component", "worker_pool", "num_workers", workers),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Start launches the workers. Calling it more than once has no effect.
// Workers keep running after ctx is canceled: they stop only once the channel
// is closed and drained, and transfers already started are never interrupted.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info(ctx, "WorkerPool: Starting workers", "capacity", cap(p.items))

		p.wg.Add(p.workers)
		for i := range p.workers {
			go func(workerID int) {
				defer p.wg.Done()
				p.workerLoop(ctx, workerID)
			}(i)
		}
		p.metrics.AddActiveWorkers(ctx, p.workers)
	})
}

// Submit hands item to the workers. It blocks while the channel is full,
// returns transfer.ErrPipelineTornDown once the pool is closed, and returns
// ctx.Err() if ctx is done first.
func (p *Pool) Submit(ctx context.Context, item string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.torn:
		return transfer.ErrPipelineTornDown
	default:
	}

	select {
	case p.items <- item:
		p.metrics.AddQueued(ctx, 1)
		return nil
	case <-p.torn:
		return transfer.ErrPipelineTornDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the pipeline down. Blocked and future Submit calls return
// transfer.ErrPipelineTornDown; items already buffered are still processed.
func (p *Pool) Close() {
	p.tearOnce.Do(func() {
		close(p.torn)

		// Pending senders observe torn and release the read lock.
		p.mu.Lock()
		close(p.items)
		p.mu.Unlock()
	})
}

// Wait blocks until every worker has exited or ctx is done. It returns
// ctx.Err() in the latter case; workers keep running in the background.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered items.
func (p *Pool) Len() int { return len(p.items) }

// Cap returns the channel capacity.
func (p *Pool) Cap() int { return cap(p.items) }

func (p *Pool) workerLoop(ctx context.Context, workerID int) {
	workerLogger := logger.NewLoggerContext(p.logger.With(
		"worker_id", workerID,
		"worker_type", "relay",
	))
	workerLogger.Debug(ctx, "Worker starting up")
	defer p.metrics.AddActiveWorkers(ctx, -1)

	for item := range p.items {
		p.metrics.AddQueued(ctx, -1)
		p.process(ctx, workerID, workerLogger, item)
	}

	workerLogger.Debug(ctx, "Worker stopped - channel closed")
}

// process runs one item. A panic is contained to the item: the worker logs it
// and moves on to the next one.
func (p *Pool) process(ctx context.Context, workerID int, workerLogger *logger.LoggerContext, item string) {
	taskCtx := context.WithoutCancel(ctx)

	workerLogger.Add("url", item)
	defer workerLogger.Reset()

	defer func() {
		if r := recover(); r != nil {
			rctx, rspan := p.tracer.Start(taskCtx, "relay.worker.panic",
				trace.WithAttributes(
					attribute.Int("worker_id", workerID),
					attribute.String("url", item),
				))
			defer rspan.End()

			err := fmt.Errorf("worker panic: %v", r)
			workerLogger.Error(rctx, "Worker recovered from panic", "panic", r)
			rspan.RecordError(err)
			rspan.SetStatus(codes.Error, "worker panic")
			p.metrics.IncWorkerPanics(rctx)
		}
	}()

	outcome := p.runner.Run(taskCtx, item)
	if !outcome.Succeeded() {
		p.failures.HandleFailure(taskCtx, outcome)
	}
}
