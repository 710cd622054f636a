package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veligo/chronodrive/errors"
)

func TestWithRetryPermanentFailureInvokesExactlyN(t *testing.T) {
	boom := errors.New("driver timeout")
	calls := 0

	err := WithRetry(context.Background(), RetryOptions{MaxAttempts: 4}, func(context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	// Final error is the last attempt's error, unchanged.
	assert.Equal(t, boom, err)
}

func TestWithRetrySucceedsMidway(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryOptions{MaxAttempts: 5}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryRespectsRetryIf(t *testing.T) {
	fatal := errors.New("not retryable")
	calls := 0

	err := WithRetry(context.Background(), RetryOptions{
		MaxAttempts: 5,
		RetryIf:     func(err error) bool { return !errors.Is(err, fatal) },
	}, func(context.Context) error {
		calls++
		return fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryOnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	err := WithRetry(context.Background(), RetryOptions{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}, func(context.Context) error {
		return errors.New("always failing")
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestWithRetryZeroAttemptsTreatedAsOne(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryOptions{MaxAttempts: 0}, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Hour, // never elapses; cancellation must win
	}, func(context.Context) error {
		calls++
		return errors.New("flaky")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
