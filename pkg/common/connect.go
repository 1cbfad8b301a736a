package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

// RetryConfig bounds ConnectWithRetry.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration

	// Permanent reports errors that no retry can fix, such as a malformed
	// address. They are returned after the first attempt. Nil retries everything.
	Permanent func(error) bool
}

// DefaultRetryConfig retries for up to a minute starting with one second intervals.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Second,
		MaxElapsedTime:  time.Minute,
	}
}

// ConnectWithRetry attempts to establish a connection with exponential backoff.
// It smooths over a dependency that is still starting up while the relay boots;
// once MaxElapsedTime passes the last error is returned and the caller treats it as fatal.
func ConnectWithRetry[T any](
	ctx context.Context,
	log *logger.Logger,
	name string,
	cfg RetryConfig,
	connect func(ctx context.Context) (T, error),
) (T, error) {
	var conn T

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxElapsedTime = cfg.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		var err error
		conn, err = connect(ctx)
		if err != nil && cfg.Permanent != nil && cfg.Permanent(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warn(ctx, "connection attempt failed, will retry",
				"dependency", name,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to connect to %s after %d attempts: %w", name, attempt, err)
	}

	return conn, nil
}
