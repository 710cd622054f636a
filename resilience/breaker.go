package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/veligo/chronodrive/errors"
)

// CircuitBreaker sheds calls to a dependency that keeps failing. After
// threshold consecutive failures the circuit opens and calls fail fast with
// errors.ErrCircuitOpen until resetTimeout has elapsed, at which point a
// single trial call is allowed through. A successful trial closes the
// circuit; a failed one keeps it open and restarts the cooldown.
//
// The open check and the failure-count update form one atomic decision per
// call: state is only mutated under the breaker's lock, so a half-open
// trial's outcome gates every subsequent call.
type CircuitBreaker struct {
	mu              sync.Mutex
	threshold       int
	resetTimeout    time.Duration
	failureCount    int
	lastFailureTime time.Time
	open            bool
}

// NewCircuitBreaker creates a closed breaker. threshold is the number of
// consecutive failures that opens the circuit; resetTimeout is the cooldown
// before a trial call is allowed.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// Execute runs op under the breaker's state machine. When the circuit is
// open and cooling down, op is never invoked and ErrCircuitOpen is returned
// immediately.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := op(ctx)
	cb.record(err)
	return err
}

// allow decides whether a call may proceed.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return nil
	}
	if time.Since(cb.lastFailureTime) < cb.resetTimeout {
		return errors.WithHint(errors.ErrCircuitOpen,
			"dependency presumed unhealthy; retry after the cooldown elapses")
	}
	// Cooldown elapsed: let one trial call through (half-open).
	return nil
}

// record updates breaker state with the outcome of a call.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failureCount = 0
		cb.open = false
		return
	}

	cb.lastFailureTime = time.Now()
	if cb.open {
		// Failed half-open trial: stay open, cooldown restarted above.
		return
	}
	cb.failureCount++
	if cb.failureCount >= cb.threshold {
		cb.open = true
	}
}

// State reports the breaker's current disposition for logging and tests.
func (cb *CircuitBreaker) State() (open bool, failureCount int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open, cb.failureCount
}
