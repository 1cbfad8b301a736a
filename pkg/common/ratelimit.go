package common

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by every caller. It caps how many
// operations may start per second. The bucket holds a single token, so token
// k becomes available k/quota seconds after the first acquire and no window
// of one second ever admits more than the quota.
//
// It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	quota   int
}

// NewRateLimiter creates a RateLimiter admitting perSecond operations each second.
// A non-positive quota disables limiting.
func NewRateLimiter(perSecond int) *RateLimiter {
	if perSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), 1), quota: perSecond}
}

// Acquire blocks until a token is available. There is no timeout on the wait;
// it only returns an error if ctx is canceled first.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Quota returns the configured tokens per second, or 0 when unlimited.
func (rl *RateLimiter) Quota() int { return rl.quota }
