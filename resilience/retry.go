// Package resilience provides retry and circuit-breaker primitives for
// wrapping flaky external operations such as browser-driver interactions.
package resilience

import (
	"context"
	"time"

	"github.com/veligo/chronodrive/errors"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// MaxAttempts is the total number of invocations, including the first.
	// Values < 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	// Zero or one means a constant delay.
	BackoffMultiplier float64

	// RetryIf decides whether an error is worth retrying. Nil retries all.
	RetryIf func(error) bool

	// OnRetry is invoked before each retry wait with the attempt number
	// just failed, the error, and the upcoming delay. Informational only.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryOptions returns the retry policy used for driver operations
// unless configured otherwise.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WithRetry executes op up to opts.MaxAttempts times. Attempts are strictly
// sequential; op never runs concurrently with itself. On exhaustion the last
// attempt's error is returned unchanged. Waits between attempts honor ctx
// cancellation, in which case the last error is returned wrapped with the
// context error attached.
func WithRetry(ctx context.Context, opts RetryOptions, op func(context.Context) error) error {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := opts.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}
		if opts.RetryIf != nil && !opts.RetryIf(lastErr) {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr, delay)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.WithSecondaryError(lastErr, ctx.Err())
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return errors.WithSecondaryError(lastErr, err)
		}

		if opts.BackoffMultiplier > 1 {
			delay = time.Duration(float64(delay) * opts.BackoffMultiplier)
		}
	}

	return lastErr
}
