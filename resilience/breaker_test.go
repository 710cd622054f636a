package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veligo/chronodrive/errors"
)

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errors.New("dependency down")
	}
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, failingOp(&calls))
		require.Error(t, err)
		assert.False(t, errors.Is(err, errors.ErrCircuitOpen))
	}
	assert.Equal(t, 3, calls)

	// Fourth call fails fast without invoking the operation.
	err := cb.Execute(ctx, failingOp(&calls))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCircuitOpen))
	assert.Equal(t, 3, calls)

	open, _ := cb.State()
	assert.True(t, open)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)
	ctx := context.Background()
	calls := 0

	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))

	_, count := cb.State()
	assert.Equal(t, 0, count)

	// Two more failures are still below threshold after the reset.
	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	open, _ := cb.State()
	assert.False(t, open)
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	ctx := context.Background()
	calls := 0

	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	open, _ := cb.State()
	require.True(t, open)

	time.Sleep(30 * time.Millisecond)

	// Cooldown elapsed: trial call is let through and closes the circuit.
	err := cb.Execute(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)

	open, count := cb.State()
	assert.False(t, open)
	assert.Equal(t, 0, count)
}

func TestBreakerHalfOpenTrialFailureStaysOpen(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	ctx := context.Background()
	calls := 0

	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	require.Error(t, cb.Execute(ctx, failingOp(&calls)))

	time.Sleep(30 * time.Millisecond)

	// Trial fails: circuit stays open and the cooldown restarts.
	require.Error(t, cb.Execute(ctx, failingOp(&calls)))
	assert.Equal(t, 3, calls)

	err := cb.Execute(ctx, failingOp(&calls))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCircuitOpen))
	assert.Equal(t, 3, calls)
}
