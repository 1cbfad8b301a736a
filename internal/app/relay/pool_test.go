package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

// blockingRunner announces each item on started and holds it until release.
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 64), release: make(chan struct{})}
}

func (r *blockingRunner) Run(_ context.Context, url string) transfer.Outcome {
	r.started <- url
	<-r.release
	return transfer.Outcome{URL: url, State: transfer.StateSucceeded}
}

// recordingRunner records items and returns the outcome picked by result.
type recordingRunner struct {
	mu     sync.Mutex
	ran    []string
	ctxErr []error
	result func(url string) transfer.Outcome
}

func (r *recordingRunner) Run(ctx context.Context, url string) transfer.Outcome {
	if url == "boom" {
		panic("runner exploded")
	}
	r.mu.Lock()
	r.ran = append(r.ran, url)
	r.ctxErr = append(r.ctxErr, ctx.Err())
	r.mu.Unlock()

	if r.result != nil {
		return r.result(url)
	}
	return transfer.Outcome{URL: url, State: transfer.StateSucceeded}
}

func (r *recordingRunner) items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func newTestPool(t *testing.T, workers int, runner Runner, failures transfer.FailureSink) *Pool {
	t.Helper()
	log, metrics, tracer := newTestTelemetry(t)
	return NewPool(workers, runner, failures, log, metrics, tracer)
}

func TestPoolCapacity(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		wantCap int
	}{
		{name: "single_worker", workers: 1, wantCap: 4},
		{name: "many_workers", workers: 256, wantCap: 1024},
		{name: "non_positive_workers", workers: 0, wantCap: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(t, tt.workers, new(recordingRunner), nil)
			assert.Equal(t, tt.wantCap, p.Cap())
			assert.Zero(t, p.Len())
		})
	}
}

func TestPoolSubmitBlocksWhenFull(t *testing.T) {
	runner := newBlockingRunner()
	p := newTestPool(t, 1, runner, nil)
	ctx := context.Background()
	p.Start(ctx)
	defer func() {
		close(runner.release)
		p.Close()
		require.NoError(t, p.Wait(ctx))
	}()

	// The single worker picks up the first item and holds it.
	require.NoError(t, p.Submit(ctx, "item-0"))
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first item")
	}

	// Capacity C = 4: these fill the buffer without blocking.
	for i := 1; i <= p.Cap(); i++ {
		require.NoError(t, p.Submit(ctx, "item"))
	}
	assert.Equal(t, p.Cap(), p.Len())

	// C + 1 must block until the worker frees a slot.
	submitted := make(chan error, 1)
	go func() { submitted <- p.Submit(ctx, "excess") }()

	select {
	case err := <-submitted:
		t.Fatalf("submit beyond capacity returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// Finishing item-0 lets the worker take the next item, which frees a slot.
	runner.release <- struct{}{}

	select {
	case err := <-submitted:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit stayed blocked after a slot was freed")
	}
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	p := newTestPool(t, 1, new(recordingRunner), nil)

	for range p.Cap() {
		require.NoError(t, p.Submit(context.Background(), "item"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, "late"), context.DeadlineExceeded)
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := newTestPool(t, 1, new(recordingRunner), nil)
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(context.Background(), "late"), transfer.ErrPipelineTornDown)
}

func TestPoolCloseReleasesBlockedSubmit(t *testing.T) {
	p := newTestPool(t, 1, new(recordingRunner), nil)
	for range p.Cap() {
		require.NoError(t, p.Submit(context.Background(), "item"))
	}

	submitted := make(chan error, 1)
	go func() { submitted <- p.Submit(context.Background(), "blocked") }()

	select {
	case err := <-submitted:
		t.Fatalf("submit on a full pool returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.Close()

	select {
	case err := <-submitted:
		assert.ErrorIs(t, err, transfer.ErrPipelineTornDown)
	case <-time.After(time.Second):
		t.Fatal("blocked submit was not released by Close")
	}
}

func TestPoolDrainsBufferedItemsAfterClose(t *testing.T) {
	runner := new(recordingRunner)
	p := newTestPool(t, 2, runner, nil)

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, item := range want {
		require.NoError(t, p.Submit(context.Background(), item))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	// Workers outlive the context they were started with.
	cancel()
	p.Close()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, p.Wait(waitCtx))

	assert.ElementsMatch(t, want, runner.items())
	for _, err := range runner.ctxErr {
		assert.NoError(t, err, "transfers must not observe the pool's cancellation")
	}
}

func TestPoolForwardsFailuresOnly(t *testing.T) {
	runner := &recordingRunner{result: func(url string) transfer.Outcome {
		switch url {
		case "fetch-fails":
			return transfer.Outcome{URL: url, State: transfer.StateFetchFailed, StatusCode: 500}
		case "upload-fails":
			return transfer.Outcome{URL: url, State: transfer.StateUploadFailed, StatusCode: 404}
		default:
			return transfer.Outcome{URL: url, State: transfer.StateSucceeded}
		}
	}}
	failures := new(failureRecorder)
	p := newTestPool(t, 2, runner, failures)

	ctx := context.Background()
	p.Start(ctx)
	for _, item := range []string{"ok-1", "fetch-fails", "ok-2", "upload-fails"} {
		require.NoError(t, p.Submit(ctx, item))
	}
	p.Close()
	require.NoError(t, p.Wait(ctx))

	got := failures.all()
	require.Len(t, got, 2)
	urls := []string{got[0].URL, got[1].URL}
	assert.ElementsMatch(t, []string{"fetch-fails", "upload-fails"}, urls)
	assert.Len(t, runner.items(), 4)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	runner := new(recordingRunner)
	failures := new(failureRecorder)
	p := newTestPool(t, 1, runner, failures)

	ctx := context.Background()
	p.Start(ctx)
	require.NoError(t, p.Submit(ctx, "boom"))
	require.NoError(t, p.Submit(ctx, "after"))
	p.Close()
	require.NoError(t, p.Wait(ctx))

	assert.Equal(t, []string{"after"}, runner.items())
	assert.Empty(t, failures.all())
}

func TestPoolWaitTimesOut(t *testing.T) {
	runner := newBlockingRunner()
	p := newTestPool(t, 1, runner, nil)
	p.Start(context.Background())
	require.NoError(t, p.Submit(context.Background(), "stuck"))
	<-runner.started
	p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	close(runner.release)
	require.NoError(t, p.Wait(context.Background()))
}
