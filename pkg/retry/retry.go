package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// exponential builds a jittered doubling schedule starting at base and capped at max.
func exponential(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.MaxInterval = max
	if max <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()
	return b
}

// Backoff returns the jittered exponential delay before the given retry (1-based), never above max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	b := exponential(base, max)
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

// Do calls fn until it succeeds, returns an error retryable rejects, the attempts run out or ctx ends.
// The last error from fn is returned. onRetry, when set, observes each failed attempt that will be retried.
func Do(ctx context.Context, p Policy, retryable func(error) bool, onRetry func(attempt int, err error), fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		last  error
		calls int
	)
	schedule := backoff.WithContext(backoff.WithMaxRetries(exponential(p.BaseDelay, p.MaxDelay), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		calls++
		last = fn()
		if last != nil && !retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, schedule, func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(calls, err)
		}
	})
	if err != nil && last != nil {
		return last
	}
	return err
}
