// Package run drives one batch of work rows through an automation driver,
// under user control (pause/resume/stop) and wrapped in retry and
// circuit-breaker policies.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veligo/chronodrive/classify"
	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/resilience"
)

// Config tunes the resilience wrapping around driver operations.
type Config struct {
	Retry resilience.RetryOptions

	// BreakerThreshold consecutive failures open the run's shared breaker.
	BreakerThreshold int

	// BreakerResetTimeout is the breaker cooldown before a trial call.
	BreakerResetTimeout time.Duration

	// ActionsPerMinute paces driver operations to human speed.
	// Zero disables pacing.
	ActionsPerMinute int
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Retry:               resilience.DefaultRetryOptions(),
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
		ActionsPerMinute:    0,
	}
}

// Controller executes one run at a time against a Driver. Rows are
// processed sequentially in input order; pause and stop take effect only at
// row boundaries so the target application is never left mid-entry.
//
// A Controller instance is owned by whoever starts runs on it. At most one
// run is active per instance; concurrent Start calls are rejected with
// errors.ErrAlreadyRunning, not queued.
type Controller struct {
	driver     Driver
	classifier *classify.Classifier
	emitter    Emitter
	logger     *zap.SugaredLogger
	cfg        Config

	mu   sync.Mutex
	cond *sync.Cond

	state          State
	pauseRequested bool
	stopRequested  bool
	finished       bool
	cancel         context.CancelFunc
	doneCh         chan struct{}

	currentIndex int
	totalRows    int
	rowFailures  int
}

// NewController creates an idle controller. emitter may be nil.
func NewController(driver Driver, classifier *classify.Classifier, emitter Emitter, cfg Config, logger *zap.SugaredLogger) *Controller {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	c := &Controller{
		driver:     driver,
		classifier: classifier,
		emitter:    emitter,
		logger:     logger,
		cfg:        cfg,
		state:      StateIdle,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current progress view.
func (c *Controller) Snapshot() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Progress{
		Status:       c.state,
		CurrentIndex: c.currentIndex,
		TotalRows:    c.totalRows,
	}
}

// Wait blocks until the active run reaches a terminal state. Returns
// immediately if no run is active.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.doneCh
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Start begins processing rows in input order. Rejected with
// errors.ErrAlreadyRunning while a previous run is Running, Paused, or
// Stopping. The run proceeds on its own goroutine; observe it through the
// emitter, State, or Wait.
func (c *Controller) Start(ctx context.Context, rows []classify.Row, creds Credentials) error {
	c.mu.Lock()
	if c.state.Active() {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(errors.ErrAlreadyRunning, "state %s", state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateRunning
	c.pauseRequested = false
	c.stopRequested = false
	c.finished = false
	c.currentIndex = 0
	c.totalRows = len(rows)
	c.rowFailures = 0
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	c.emitProgress(StateRunning, fmt.Sprintf("run started with %d rows", len(rows)))
	c.emitLog(LevelInfo, fmt.Sprintf("run started: %d rows", len(rows)))

	go c.execute(runCtx, rows, creds)
	return nil
}

// Pause suspends processing at the next row boundary. Only legal while
// Running with no pause already pending.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning || c.pauseRequested {
		return errors.Newf("pause only legal while running (state %s)", c.state)
	}
	c.pauseRequested = true
	return nil
}

// Resume continues processing from the next unprocessed row. Legal while
// paused or while a pause is pending.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pauseRequested {
		return errors.Newf("resume only legal while paused (state %s)", c.state)
	}
	c.pauseRequested = false
	c.cond.Broadcast()
	return nil
}

// Stop requests cancellation. The in-flight row finishes or aborts, driver
// resources are released, and the controller returns to Idle. Calling Stop
// on an inactive controller, or twice, is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active() || c.stopRequested {
		return nil
	}
	c.stopRequested = true
	if c.cancel != nil {
		c.cancel()
	}
	c.cond.Broadcast()
	return nil
}

// execute is the run goroutine.
func (c *Controller) execute(ctx context.Context, rows []classify.Row, creds Credentials) {
	c.mu.Lock()
	done := c.doneCh
	c.mu.Unlock()
	defer close(done)

	breaker := resilience.NewCircuitBreaker(c.cfg.BreakerThreshold, c.cfg.BreakerResetTimeout)

	var limiter *rate.Limiter
	if c.cfg.ActionsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(c.cfg.ActionsPerMinute)/60.0), 1)
	}

	var (
		session   Session
		closeOnce sync.Once
	)
	release := func() {
		closeOnce.Do(func() {
			if session == nil {
				return
			}
			if err := c.driver.Close(session); err != nil {
				c.logger.Warnw("Failed to close driver session", "error", err)
			}
		})
	}
	defer release()

	// An unexpected fault (programming error, not a driver error) aborts
	// the run; resource release still happens via the defers above.
	defer func() {
		if r := recover(); r != nil {
			release()
			c.logger.Errorw("Run aborted by internal fault", "panic", r)
			c.finish(StateError, fmt.Sprintf("internal fault: %v", r))
		}
	}()

	// Open the session under the same resilience wrapping as row work.
	err := c.guarded(ctx, breaker, limiter, func(ctx context.Context) error {
		s, err := c.driver.Open(ctx, creds)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		c.logger.Errorw("Failed to open driver session", "error", err)
		c.emitLog(LevelError, fmt.Sprintf("failed to open session: %v", err))
		c.finish(StateError, "failed to open driver session")
		return
	}

	stopped := false
	for i, row := range rows {
		if !c.awaitRowBoundary() {
			stopped = true
			break
		}

		if err := c.processRow(ctx, breaker, limiter, session, row); err != nil {
			c.noteRowResult(i, false)
			c.emitLog(LevelError, fmt.Sprintf("row %d (%s/%s) failed: %v",
				i, c.classifier.AccountName(row.Account), row.Project, err))
		} else {
			c.noteRowResult(i, true)
			c.emitLog(LevelSuccess, fmt.Sprintf("row %d (%s) recorded",
				i, c.classifier.AccountName(row.Account)))
		}

		c.mu.Lock()
		state, idx, total := c.state, c.currentIndex, c.totalRows
		c.mu.Unlock()
		c.emitter.EmitProgress(Progress{
			Status:       state,
			CurrentIndex: idx,
			TotalRows:    total,
			Message:      fmt.Sprintf("processed %d/%d rows", idx, total),
		})
	}

	release()

	c.mu.Lock()
	failures := c.rowFailures
	c.mu.Unlock()

	switch {
	case stopped:
		c.finish(StateIdle, "run stopped")
	case failures > 0:
		c.finish(StateError, fmt.Sprintf("run finished with %d row failures", failures))
	default:
		c.finish(StateCompleted, "run completed")
	}
}

// awaitRowBoundary blocks while a pause is pending and reports whether the
// next row may start. This is the only point where pause and stop take
// effect, so an in-flight row always completes or fails cleanly first.
func (c *Controller) awaitRowBoundary() bool {
	c.mu.Lock()
	for {
		if c.stopRequested {
			c.state = StateStopping
			idx, total := c.currentIndex, c.totalRows
			c.mu.Unlock()
			c.emitter.EmitProgress(Progress{Status: StateStopping, CurrentIndex: idx, TotalRows: total, Message: "stop requested"})
			c.emitLog(LevelWarning, "stop requested, releasing session")
			return false
		}
		if !c.pauseRequested {
			if c.state == StatePaused {
				c.state = StateRunning
				idx, total := c.currentIndex, c.totalRows
				c.mu.Unlock()
				c.emitter.EmitProgress(Progress{Status: StateRunning, CurrentIndex: idx, TotalRows: total, Message: "run resumed"})
				c.emitLog(LevelInfo, "run resumed")
				c.mu.Lock()
				continue
			}
			c.mu.Unlock()
			return true
		}
		if c.state != StatePaused {
			c.state = StatePaused
			idx, total := c.currentIndex, c.totalRows
			c.mu.Unlock()
			c.emitter.EmitProgress(Progress{Status: StatePaused, CurrentIndex: idx, TotalRows: total, Message: "run paused"})
			c.emitLog(LevelInfo, "run paused at row boundary")
			c.mu.Lock()
			continue
		}
		c.cond.Wait()
	}
}

// processRow executes one row's driver operation with classification and
// mapping checks. Row-level errors are returned as data for the progress
// stream; they never abort the run.
func (c *Controller) processRow(ctx context.Context, breaker *resilience.CircuitBreaker, limiter *rate.Limiter, session Session, row classify.Row) error {
	kind := c.classifier.Classify(row.Account)
	if kind.IsSpecial() {
		return c.guarded(ctx, breaker, limiter, func(ctx context.Context) error {
			return c.driver.PerformSpecialEntry(ctx, session, row, kind)
		})
	}

	// Regular rows need both mappings; a gap is a per-row configuration
	// error, surfaced without touching the driver.
	if !c.classifier.HasAccount(row.Account) {
		return errors.NewUnmappedAccount(row.Account)
	}
	if !c.classifier.HasProject(row.Account, row.Project) {
		return errors.NewUnmappedProject(row.Account, row.Project)
	}

	return c.guarded(ctx, breaker, limiter, func(ctx context.Context) error {
		return c.driver.PerformEntry(ctx, session, row)
	})
}

// guarded wraps a driver operation in the run's retry policy, shared
// circuit breaker, and pacing limiter. A circuit-open result is not
// retried; it only resolves once the cooldown elapses.
func (c *Controller) guarded(ctx context.Context, breaker *resilience.CircuitBreaker, limiter *rate.Limiter, op func(context.Context) error) error {
	opts := c.cfg.Retry
	base := opts.RetryIf
	opts.RetryIf = func(err error) bool {
		if errors.Is(err, errors.ErrCircuitOpen) {
			return false
		}
		return base == nil || base(err)
	}
	if opts.OnRetry == nil {
		opts.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Warnw("Retrying driver operation",
				"attempt", attempt,
				"delay", delay,
				"error", err)
		}
	}

	return resilience.WithRetry(ctx, opts, func(ctx context.Context) error {
		return breaker.Execute(ctx, func(ctx context.Context) error {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			return op(ctx)
		})
	})
}

// noteRowResult advances the row counter and failure tally.
func (c *Controller) noteRowResult(index int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentIndex = index + 1
	if !ok {
		c.rowFailures++
	}
}

// finish records the terminal state exactly once per run and emits the
// final transition.
func (c *Controller) finish(state State, message string) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.state = state
	c.pauseRequested = false
	c.stopRequested = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	idx, total := c.currentIndex, c.totalRows
	c.mu.Unlock()

	c.emitter.EmitProgress(Progress{Status: state, CurrentIndex: idx, TotalRows: total, Message: message})
	level := LevelInfo
	switch state {
	case StateError:
		level = LevelError
	case StateCompleted:
		level = LevelSuccess
	}
	c.emitLog(level, message)
	c.logger.Infow("Run finished", "state", state, "rows", total, "message", message)
}

// RowFailures returns the failure tally of the most recent run.
func (c *Controller) RowFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowFailures
}

func (c *Controller) emitProgress(state State, message string) {
	c.mu.Lock()
	idx, total := c.currentIndex, c.totalRows
	c.mu.Unlock()
	c.emitter.EmitProgress(Progress{Status: state, CurrentIndex: idx, TotalRows: total, Message: message})
}

func (c *Controller) emitLog(level, message string) {
	c.emitter.EmitLog(LogEvent{Timestamp: time.Now(), Level: level, Message: message})
}
