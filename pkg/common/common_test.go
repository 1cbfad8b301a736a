package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

func TestRateLimiterCapsThroughput(t *testing.T) {
	const (
		quota = 10
		calls = 15
	)
	rl := NewRateLimiter(quota)
	assert.Equal(t, quota, rl.Quota())

	ctx := context.Background()
	start := time.Now()

	var (
		mu              sync.Mutex
		pastOneSecond   int
		withinOneSecond int
		wg              sync.WaitGroup
	)
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rl.Acquire(ctx))
			elapsed := time.Since(start)
			mu.Lock()
			defer mu.Unlock()
			if elapsed >= time.Second {
				pastOneSecond++
			} else {
				withinOneSecond++
			}
		}()
	}
	wg.Wait()

	// Tokens arrive every 1/quota seconds, so the excess acquires are still
	// suspended when the first second ends.
	assert.GreaterOrEqual(t, pastOneSecond, calls-quota)
	assert.LessOrEqual(t, withinOneSecond, quota)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestRateLimiterAcquireHonorsCancellation(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.Acquire(ctx))
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.Equal(t, 0, rl.Quota())

	start := time.Now()
	for range 1000 {
		require.NoError(t, rl.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectWithRetry(t *testing.T) {
	cfg := RetryConfig{InitialInterval: 5 * time.Millisecond, MaxElapsedTime: time.Second}

	attempts := 0
	conn, err := ConnectWithRetry(context.Background(), logger.Noop(), "queue", cfg,
		func(context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("connection refused")
			}
			return "connected", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "connected", conn)
	assert.Equal(t, 3, attempts)
}

func TestConnectWithRetryGivesUp(t *testing.T) {
	cfg := RetryConfig{InitialInterval: 5 * time.Millisecond, MaxElapsedTime: 50 * time.Millisecond}

	_, err := ConnectWithRetry(context.Background(), logger.Noop(), "queue", cfg,
		func(context.Context) (int, error) { return 0, errors.New("connection refused") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to queue")
}

func TestConnectWithRetryStopsOnPermanentError(t *testing.T) {
	errMalformed := errors.New("malformed address")
	cfg := RetryConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxElapsedTime:  time.Minute,
		Permanent:       func(err error) bool { return errors.Is(err, errMalformed) },
	}

	attempts := 0
	start := time.Now()
	_, err := ConnectWithRetry(context.Background(), logger.Noop(), "queue", cfg,
		func(context.Context) (int, error) {
			attempts++
			return 0, fmt.Errorf("parsing url: %w", errMalformed)
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, errMalformed)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHealthServer(t *testing.T) {
	ready := &atomic.Bool{}
	hs, err := NewHealthServer("127.0.0.1:0", ready, logger.Noop())
	require.NoError(t, err)
	defer func() { _ = hs.Shutdown(context.Background()) }()

	get := func(path string) int {
		resp, err := http.Get("http://" + hs.Addr() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/v1/health"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/v1/readiness"))

	ready.Store(true)
	assert.Equal(t, http.StatusOK, get("/v1/readiness"))
	assert.Equal(t, http.StatusOK, get("/debug/statsviz/"))
}
