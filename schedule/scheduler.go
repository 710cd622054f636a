package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/internal/util"
)

// Runner executes one batch run for a task. Implementations wrap a run
// controller plus row and credential resolution for the task's accounts.
type Runner interface {
	// Start begins the run without blocking. It fails when a run is
	// already in progress.
	Start(ctx context.Context, accountIDs []string) error

	// Active reports whether a run is still in progress.
	Active() bool

	// Wait blocks until the current run finishes.
	Wait()

	// Result returns row totals and failures of the last finished run.
	Result() (rowsTotal, rowsFailed int)
}

// Clock abstracts wall-clock reads so tests can pin time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RunnerFactory builds the runner for a task. Called once per task; the
// scheduler caches and reuses the result so the skip-if-running guard sees
// the same instance across ticks.
type RunnerFactory func(task *Task) Runner

// SchedulerConfig contains scheduler tuning.
type SchedulerConfig struct {
	Interval time.Duration // how often to check for due tasks
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Interval: time.Second}
}

// Scheduler triggers task runs when they come due. A tick lists due tasks,
// skips any whose previous run is still in progress, and launches the rest.
type Scheduler struct {
	store   *Store
	execs   *ExecutionStore
	factory RunnerFactory
	clock   Clock

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	watchers sync.WaitGroup
	logger   *zap.SugaredLogger

	mu              sync.Mutex
	runners         map[string]Runner
	lastTickAt      time.Time
	ticksSinceStart int64
	lastDueLogged   string
}

// NewScheduler creates a scheduler over the given stores.
func NewScheduler(store *Store, execs *ExecutionStore, factory RunnerFactory, cfg SchedulerConfig, log *zap.SugaredLogger) *Scheduler {
	return NewSchedulerWithContext(context.Background(), store, execs, factory, cfg, log)
}

// NewSchedulerWithContext creates a scheduler with a parent context.
func NewSchedulerWithContext(ctx context.Context, store *Store, execs *ExecutionStore, factory RunnerFactory, cfg SchedulerConfig, log *zap.SugaredLogger) *Scheduler {
	schedCtx, cancel := context.WithCancel(ctx)

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSchedulerConfig().Interval
	}

	return &Scheduler{
		store:    store,
		execs:    execs,
		factory:  factory,
		clock:    systemClock{},
		interval: interval,
		ctx:      schedCtx,
		cancel:   cancel,
		logger:   log,
		runners:  make(map[string]Runner),
	}
}

// Start begins the ticker loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Infow("Scheduler started", "interval", s.interval)
}

// Stop cancels the ticker loop and waits for in-flight launches to settle.
// Runs already handed to runners keep going; their completion watchers
// finish independently.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Infow("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case tickTime := <-ticker.C:
			s.mu.Lock()
			s.lastTickAt = tickTime
			s.ticksSinceStart++
			tick := s.ticksSinceStart
			s.mu.Unlock()

			s.logNextTaskInfo(tickTime)

			if err := s.Tick(tickTime); err != nil {
				s.logger.Warnw("Scheduler tick error", "error", err, "tick", tick)
			}
		}
	}
}

// logNextTaskInfo logs time until the next due task, with memory usage.
// Logged only when the upcoming task changes, to avoid a line per tick.
func (s *Scheduler) logNextTaskInfo(now time.Time) {
	next, err := s.store.NextDueTask()
	if err != nil {
		s.logger.Warnw("Failed to find next due task", "error", err)
		return
	}

	key := "none"
	if next != nil {
		key = fmt.Sprintf("%s@%s", next.ID, next.NextRunAt.Format(time.RFC3339))
	}

	s.mu.Lock()
	changed := key != s.lastDueLogged
	s.lastDueLogged = key
	s.mu.Unlock()

	if !changed {
		return
	}

	if next == nil {
		s.logger.Infow("Scheduler idle, no tasks due")
		return
	}

	timeUntil := next.NextRunAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}

	msg := fmt.Sprintf("Next task %q in %s", next.Name, timeUntil.Round(time.Second))
	if vm, err := mem.VirtualMemory(); err == nil {
		msg += fmt.Sprintf(" │ Mem: %.1f/%.1fGB (%.0f%%)",
			float64(vm.Used)/(1<<30), float64(vm.Total)/(1<<30), vm.UsedPercent)
	}
	s.logger.Infow(msg)
}

// Tick checks for due tasks and launches them. Exported so tests and manual
// triggers can drive the scheduler without the ticker loop.
func (s *Scheduler) Tick(now time.Time) error {
	tasks, err := s.store.ListDueTasks(now)
	if err != nil {
		return errors.Wrap(err, "failed to list due tasks")
	}

	for _, task := range tasks {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}

		if err := s.launch(task, now); err != nil {
			// A still-active previous run is a skip, not a failure; the
			// task stays due and is re-evaluated next tick.
			if errors.Is(err, errors.ErrAlreadyRunning) {
				continue
			}
			s.logger.Errorw("Failed to launch scheduled task",
				"task_id", task.ID,
				"task_name", task.Name,
				"error", err)
			continue
		}
	}
	return nil
}

// RunNow triggers a task immediately, outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	return s.launch(task, s.clock.Now())
}

// launch starts a run for the task unless its previous run is still going.
// The schedule is advanced before the runner reports active, so a tick
// arriving mid-run can never see the same occurrence due again.
func (s *Scheduler) launch(task *Task, now time.Time) error {
	runner := s.runnerFor(task)

	if runner.Active() {
		s.logger.Infow("Skipping task, previous run still in progress",
			"task_id", task.ID,
			"task_name", task.Name)
		return errors.Wrapf(errors.ErrAlreadyRunning, "task %s", task.Name)
	}

	// A disabled task can still be run manually; it stays off the schedule.
	var next *time.Time
	if task.Enabled {
		if n, ok := task.Spec.NextRun(now); ok {
			next = util.Ptr(n)
		}
	}
	if err := s.store.MarkRun(task.ID, now, next); err != nil {
		return errors.Wrapf(err, "failed to advance schedule for task %s", task.ID)
	}

	exec := NewExecution(task.ID, now)
	if err := s.execs.CreateExecution(exec); err != nil {
		s.logger.Errorw("Failed to create execution record",
			"task_id", task.ID,
			"error", err)
		// Execution tracking is not worth blocking the run over.
	}

	if err := runner.Start(s.ctx, task.AccountIDs); err != nil {
		exec.Finish(ExecutionFailed, s.clock.Now(), 0, 0, err.Error())
		if uerr := s.execs.UpdateExecution(exec); uerr != nil {
			s.logger.Errorw("Failed to update execution record",
				"execution_id", exec.ID,
				"error", uerr)
		}
		return errors.Wrapf(err, "failed to start run for task %s", task.ID)
	}

	s.logger.Infow("Task run started",
		"task_id", task.ID,
		"task_name", task.Name,
		"execution_id", exec.ID,
		"accounts", len(task.AccountIDs))

	s.watchers.Add(1)
	go s.watch(task, runner, exec, next)
	return nil
}

// watch waits for the run to finish and records the outcome. The schedule
// itself was already advanced at launch; a spent one-shot is disabled there
// too.
func (s *Scheduler) watch(task *Task, runner Runner, exec *Execution, next *time.Time) {
	defer s.watchers.Done()

	runner.Wait()
	completedAt := s.clock.Now()

	rowsTotal, rowsFailed := runner.Result()
	status := ExecutionCompleted
	errMsg := ""
	if rowsFailed > 0 {
		status = ExecutionFailed
		errMsg = fmt.Sprintf("%d of %d rows failed", rowsFailed, rowsTotal)
	}
	exec.Finish(status, completedAt, rowsTotal, rowsFailed, errMsg)

	if err := s.execs.UpdateExecution(exec); err != nil {
		s.logger.Errorw("Failed to update execution record",
			"execution_id", exec.ID,
			"error", err)
	}

	fields := []interface{}{
		"task_id", task.ID,
		"task_name", task.Name,
		"execution_id", exec.ID,
		"status", status,
		"rows_total", rowsTotal,
		"rows_failed", rowsFailed,
		"duration_ms", *exec.DurationMS,
	}
	if next != nil {
		fields = append(fields, "next_run_at", next.Format(time.RFC3339))
	} else {
		fields = append(fields, "disabled", true)
	}
	s.logger.Infow("Task run finished", fields...)
}

// runnerFor returns the cached runner for a task, building it on first use.
func (s *Scheduler) runnerFor(task *Task) Runner {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.runners[task.ID]; ok {
		return r
	}
	r := s.factory(task)
	s.runners[task.ID] = r
	return r
}

// Stats returns scheduler counters for diagnostics.
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      s.lastTickAt,
		"ticks_since_start": s.ticksSinceStart,
		"interval":          s.interval,
	}
}
