package run

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veligo/chronodrive/classify"
	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/resilience"
)

// fakeDriver scripts driver behavior per call.
type fakeDriver struct {
	mu         sync.Mutex
	openErr    error
	entryFn    func(row classify.Row) error
	specialFn  func(row classify.Row, kind classify.Kind) error
	entries    []classify.Row
	specials   []classify.Row
	closeCalls int
}

type fakeSession struct{ open bool }

func (d *fakeDriver) Open(ctx context.Context, creds Credentials) (Session, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeSession{open: true}, nil
}

func (d *fakeDriver) PerformEntry(ctx context.Context, session Session, row classify.Row) error {
	if d.entryFn != nil {
		if err := d.entryFn(row); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, row)
	return nil
}

func (d *fakeDriver) PerformSpecialEntry(ctx context.Context, session Session, row classify.Row, kind classify.Kind) error {
	if d.specialFn != nil {
		if err := d.specialFn(row, kind); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.specials = append(d.specials, row)
	return nil
}

func (d *fakeDriver) Close(session Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	s := session.(*fakeSession)
	s.open = false
	return nil
}

// collector records emitted progress and log events.
type collector struct {
	mu       sync.Mutex
	progress []Progress
	logs     []LogEvent
}

func (c *collector) EmitProgress(p Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, p)
}

func (c *collector) EmitLog(e LogEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, e)
}

func (c *collector) logsAt(level string) []LogEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []LogEvent
	for _, e := range c.logs {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func testClassifier() *classify.Classifier {
	return classify.NewClassifier(&classify.Mappings{
		Accounts: map[string]classify.Account{
			"acme": {
				DisplayName: "Acme Corp",
				Projects:    map[string]string{"p100": "Platform"},
			},
		},
		Special: classify.SpecialSets{
			Vacation: []string{"vac"},
			Weekend:  []string{"fds"},
		},
	})
}

func fastConfig() Config {
	return Config{
		Retry:               resilience.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond},
		BreakerThreshold:    5,
		BreakerResetTimeout: time.Minute,
	}
}

func newTestController(d *fakeDriver, em Emitter, cfg Config) *Controller {
	return NewController(d, testClassifier(), em, cfg, zap.NewNop().Sugar())
}

func TestRunCompletesAllRows(t *testing.T) {
	d := &fakeDriver{}
	col := &collector{}
	c := newTestController(d, col, fastConfig())

	rows := []classify.Row{
		{Account: "acme", Project: "p100"},
		{Account: "fds"},
		{Account: "vac"},
	}

	require.NoError(t, c.Start(context.Background(), rows, Credentials{}))
	c.Wait()

	assert.Equal(t, StateCompleted, c.State())
	assert.Len(t, d.entries, 1)
	assert.Len(t, d.specials, 2)
	assert.Equal(t, 1, d.closeCalls)
	assert.Equal(t, 0, c.RowFailures())
}

func TestUnmappedRowFailsButRunContinues(t *testing.T) {
	d := &fakeDriver{}
	col := &collector{}
	c := newTestController(d, col, fastConfig())

	rows := []classify.Row{
		{Account: "mystery", Project: "p1"}, // unmapped account
		{Account: "acme", Project: "p100"},  // fully mapped
	}

	require.NoError(t, c.Start(context.Background(), rows, Credentials{}))
	c.Wait()

	// Run ends in Error because a row failed, but the mapped row was
	// still recorded.
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 1, c.RowFailures())
	require.Len(t, d.entries, 1)
	assert.Equal(t, "acme", d.entries[0].Account)

	errLogs := col.logsAt(LevelError)
	require.NotEmpty(t, errLogs)
	assert.Contains(t, errLogs[0].Message, "row 0")
}

func TestStartWhileActiveRejected(t *testing.T) {
	d := &fakeDriver{}
	release := make(chan struct{})
	d.entryFn = func(classify.Row) error {
		<-release
		return nil
	}
	c := newTestController(d, NopEmitter{}, fastConfig())

	rows := []classify.Row{{Account: "acme", Project: "p100"}}
	require.NoError(t, c.Start(context.Background(), rows, Credentials{}))

	err := c.Start(context.Background(), rows, Credentials{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyRunning))

	close(release)
	c.Wait()

	// A finished controller accepts a new run.
	require.NoError(t, c.Start(context.Background(), nil, Credentials{}))
	c.Wait()
}

func TestPauseTakesEffectAtRowBoundary(t *testing.T) {
	d := &fakeDriver{}
	inRow := make(chan struct{}, 3)
	release := make(chan struct{})
	d.entryFn = func(classify.Row) error {
		inRow <- struct{}{}
		<-release
		return nil
	}
	col := &collector{}
	c := newTestController(d, col, fastConfig())

	rows := []classify.Row{
		{Account: "acme", Project: "p100"},
		{Account: "acme", Project: "p100"},
	}
	require.NoError(t, c.Start(context.Background(), rows, Credentials{}))

	// Row 0 is in flight; request a pause mid-row.
	<-inRow
	require.NoError(t, c.Pause())
	assert.Equal(t, StateRunning, c.State()) // not paused until the boundary

	// Let row 0 finish; the controller must suspend before row 1.
	release <- struct{}{}
	require.Eventually(t, func() bool { return c.State() == StatePaused }, time.Second, 5*time.Millisecond)
	assert.Len(t, d.entries, 1)
	assert.Equal(t, 1, c.Snapshot().CurrentIndex)

	// Resume continues with row 1, not row 0 again.
	require.NoError(t, c.Resume())
	release <- struct{}{}
	c.Wait()

	assert.Equal(t, StateCompleted, c.State())
	assert.Len(t, d.entries, 2)
}

func TestPauseOnlyLegalWhileRunning(t *testing.T) {
	d := &fakeDriver{}
	c := newTestController(d, NopEmitter{}, fastConfig())

	require.Error(t, c.Pause())
	require.Error(t, c.Resume())
}

func TestStopReleasesSessionAndIsIdempotent(t *testing.T) {
	d := &fakeDriver{}
	inRow := make(chan struct{}, 3)
	release := make(chan struct{}, 3)
	d.entryFn = func(classify.Row) error {
		inRow <- struct{}{}
		<-release
		return nil
	}
	c := newTestController(d, NopEmitter{}, fastConfig())

	rows := []classify.Row{
		{Account: "acme", Project: "p100"},
		{Account: "acme", Project: "p100"},
	}
	require.NoError(t, c.Start(context.Background(), rows, Credentials{}))

	<-inRow
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop()) // second stop is a no-op
	release <- struct{}{}
	c.Wait()

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, d.closeCalls) // released exactly once
	assert.LessOrEqual(t, len(d.entries), 1)

	require.NoError(t, c.Stop()) // stop on an idle controller is a no-op
}

func TestDriverErrorsAreRetried(t *testing.T) {
	d := &fakeDriver{}
	attempts := 0
	d.entryFn = func(classify.Row) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}
	c := newTestController(d, NopEmitter{}, fastConfig())

	require.NoError(t, c.Start(context.Background(), []classify.Row{{Account: "acme", Project: "p100"}}, Credentials{}))
	c.Wait()

	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, 3, attempts)
	assert.Len(t, d.entries, 1)
}

func TestCircuitOpenFailsRowWithoutAbortingRun(t *testing.T) {
	d := &fakeDriver{}
	d.entryFn = func(row classify.Row) error {
		if row.Extra == "bad" {
			return errors.New("dependency down")
		}
		return nil
	}
	cfg := fastConfig()
	cfg.BreakerThreshold = 2
	col := &collector{}
	c := newTestController(d, col, cfg)

	rows := []classify.Row{
		{Account: "acme", Project: "p100", Extra: "bad"}, // trips the breaker via retries
		{Account: "acme", Project: "p100", Extra: "bad"}, // sheds on open circuit
		{Account: "vac"}, // also shed while the breaker cools down
	}
	require.NoError(t, c.Start(context.Background(), rows, Credentials{}))
	c.Wait()

	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 3, c.RowFailures())
	assert.Empty(t, d.entries)
	assert.Empty(t, d.specials)
	assert.Equal(t, 1, d.closeCalls)
}

func TestOpenFailureEndsRunInError(t *testing.T) {
	d := &fakeDriver{openErr: errors.New("login rejected")}
	c := newTestController(d, NopEmitter{}, fastConfig())

	require.NoError(t, c.Start(context.Background(), []classify.Row{{Account: "acme", Project: "p100"}}, Credentials{}))
	c.Wait()

	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 0, d.closeCalls) // no session was ever opened
}

func TestInternalFaultAbortsRunAndReleasesSession(t *testing.T) {
	d := &fakeDriver{}
	d.entryFn = func(classify.Row) error {
		panic("programmer error")
	}
	c := newTestController(d, NopEmitter{}, fastConfig())

	require.NoError(t, c.Start(context.Background(), []classify.Row{{Account: "acme", Project: "p100"}}, Credentials{}))
	c.Wait()

	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 1, d.closeCalls)
}

func TestProgressMonotonicWithinRun(t *testing.T) {
	d := &fakeDriver{}
	col := &collector{}
	c := newTestController(d, col, fastConfig())

	rows := []classify.Row{
		{Account: "acme", Project: "p100"},
		{Account: "fds"},
		{Account: "acme", Project: "p100"},
	}
	require.NoError(t, c.Start(context.Background(), rows, Credentials{}))
	c.Wait()

	col.mu.Lock()
	defer col.mu.Unlock()
	last := 0
	for _, p := range col.progress {
		assert.GreaterOrEqual(t, p.CurrentIndex, last)
		last = p.CurrentIndex
	}
	assert.Equal(t, 3, last)
}
