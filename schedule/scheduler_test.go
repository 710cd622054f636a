package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veligo/chronodrive/errors"
	chronotest "github.com/veligo/chronodrive/internal/testing"
)

// fakeRunner is a hand-cranked Runner: runs stay active until the test
// calls finish.
type fakeRunner struct {
	mu         sync.Mutex
	starts     int
	active     bool
	done       chan struct{}
	rowsTotal  int
	rowsFailed int
	accounts   []string
}

func (r *fakeRunner) Start(ctx context.Context, accountIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	r.active = true
	r.done = make(chan struct{})
	r.accounts = accountIDs
	return nil
}

func (r *fakeRunner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRunner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *fakeRunner) Result() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rowsTotal, r.rowsFailed
}

func (r *fakeRunner) finish(total, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowsTotal = total
	r.rowsFailed = failed
	r.active = false
	close(r.done)
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// fixedClock pins the scheduler's idea of now.
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *Store, *ExecutionStore) {
	db := chronotest.CreateTestDB(t)
	store := NewStore(db)
	execs := NewExecutionStore(db)
	factory := func(*Task) Runner { return runner }
	s := NewScheduler(store, execs, factory, DefaultSchedulerConfig(), zap.NewNop().Sugar())
	s.clock = fixedClock{now: sept(1, 9, 5)}
	return s, store, execs
}

func TestTickLaunchesDueTask(t *testing.T) {
	runner := &fakeRunner{}
	s, store, execs := newTestScheduler(t, runner)

	now := sept(1, 8, 0)
	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 9}}, now)
	require.NoError(t, store.CreateTask(task))

	// Not due yet.
	require.NoError(t, s.Tick(sept(1, 8, 30)))
	assert.Equal(t, 0, runner.startCount())

	// Due now.
	require.NoError(t, s.Tick(sept(1, 9, 0)))
	assert.Equal(t, 1, runner.startCount())
	assert.Equal(t, []string{"acme", "globex"}, runner.accounts)

	history, err := execs.ListExecutions(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ExecutionRunning, history[0].Status)

	runner.finish(5, 0)
}

func TestTickSkipsTaskStillRunning(t *testing.T) {
	runner := &fakeRunner{}
	s, store, _ := newTestScheduler(t, runner)

	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 9}}, sept(1, 8, 0))
	require.NoError(t, store.CreateTask(task))

	require.NoError(t, s.Tick(sept(1, 9, 0)))
	require.Equal(t, 1, runner.startCount())

	// The next occurrence comes due while the first run is still going:
	// skipped this tick, not stacked.
	require.NoError(t, s.Tick(sept(2, 9, 0)))
	assert.Equal(t, 1, runner.startCount())

	// Once the run finishes, the pending occurrence fires on the
	// following tick.
	runner.finish(5, 0)
	require.NoError(t, s.Tick(sept(2, 9, 0).Add(time.Second)))
	assert.Equal(t, 2, runner.startCount())

	runner.finish(5, 0)
}

func TestLaunchAdvancesScheduleBeforeRunFinishes(t *testing.T) {
	runner := &fakeRunner{}
	s, store, execs := newTestScheduler(t, runner)

	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 9}}, sept(1, 8, 0))
	require.NoError(t, store.CreateTask(task))

	firedAt := sept(1, 9, 0)
	require.NoError(t, s.Tick(firedAt))

	// The schedule is advanced at launch, not at completion, so a tick
	// landing between the run finishing and its bookkeeping can never
	// fire the same occurrence twice.
	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, firedAt, got.LastRunAt.Local())
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, sept(2, 9, 0), got.NextRunAt.Local())

	runner.finish(5, 0)
	require.NoError(t, s.Tick(firedAt.Add(time.Minute)))
	assert.Equal(t, 1, runner.startCount())

	require.Eventually(t, func() bool {
		history, err := execs.ListExecutions(task.ID, 1)
		return err == nil && len(history) == 1 && history[0].Status == ExecutionCompleted
	}, time.Second, 5*time.Millisecond)

	history, err := execs.ListExecutions(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 5, history[0].RowsTotal)
}

func TestRunWithRowFailuresRecordedAsFailed(t *testing.T) {
	runner := &fakeRunner{}
	s, store, execs := newTestScheduler(t, runner)

	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 9}}, sept(1, 8, 0))
	require.NoError(t, store.CreateTask(task))

	require.NoError(t, s.Tick(sept(1, 9, 0)))
	runner.finish(5, 2)

	require.Eventually(t, func() bool {
		history, err := execs.ListExecutions(task.ID, 1)
		return err == nil && len(history) == 1 && history[0].Status == ExecutionFailed
	}, time.Second, 5*time.Millisecond)

	history, err := execs.ListExecutions(task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, history[0].RowsFailed)
	assert.Contains(t, history[0].Error, "2 of 5 rows failed")

	// Row failures do not stall the schedule.
	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
}

func TestOneShotTaskDisabledAfterRun(t *testing.T) {
	runner := &fakeRunner{}
	s, store, _ := newTestScheduler(t, runner)

	spec := Once{At: TimeOfDay{Hour: 9}, Date: sept(1, 0, 0)}
	task := mustTask(t, "one-off", spec, sept(1, 8, 0))
	require.NoError(t, store.CreateTask(task))

	require.NoError(t, s.Tick(sept(1, 9, 0)))
	require.Equal(t, 1, runner.startCount())
	runner.finish(3, 0)

	require.Eventually(t, func() bool {
		got, err := store.GetTask(task.ID)
		return err == nil && !got.Enabled
	}, time.Second, 5*time.Millisecond)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt)

	// Disabled and without a next run, it never comes due again.
	require.NoError(t, s.Tick(sept(2, 9, 0)))
	assert.Equal(t, 1, runner.startCount())
}

func TestRunNowIgnoresSchedule(t *testing.T) {
	runner := &fakeRunner{}
	s, store, _ := newTestScheduler(t, runner)

	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 23}}, sept(1, 8, 0))
	require.NoError(t, store.CreateTask(task))

	require.NoError(t, s.RunNow(task.ID))
	assert.Equal(t, 1, runner.startCount())
	runner.finish(5, 0)

	err := s.RunNow("no-such-task")
	require.Error(t, err)
}

func TestRunNowLeavesDisabledTaskDisabled(t *testing.T) {
	runner := &fakeRunner{}
	s, store, _ := newTestScheduler(t, runner)

	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 9}}, sept(1, 8, 0))
	require.NoError(t, store.CreateTask(task))
	require.NoError(t, store.SetEnabled(task.ID, false, sept(1, 8, 30)))

	require.NoError(t, s.RunNow(task.ID))
	require.Equal(t, 1, runner.startCount())
	runner.finish(5, 0)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled, "a manual run must not re-enable a disabled task")
	assert.Nil(t, got.NextRunAt, "a disabled task must stay off the schedule")
	require.NotNil(t, got.LastRunAt)
}

func TestRunNowWhileActiveReportsRunInProgress(t *testing.T) {
	runner := &fakeRunner{}
	s, store, _ := newTestScheduler(t, runner)

	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 9}}, sept(1, 8, 0))
	require.NoError(t, store.CreateTask(task))

	require.NoError(t, s.RunNow(task.ID))
	require.Equal(t, 1, runner.startCount())

	err := s.RunNow(task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyRunning))
	assert.Equal(t, 1, runner.startCount())

	runner.finish(5, 0)
}
