package commands

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veligo/chronodrive/classify"
	"github.com/veligo/chronodrive/config"
	"github.com/veligo/chronodrive/logger"
	"github.com/veligo/chronodrive/run"
	"github.com/veligo/chronodrive/schedule"
	"github.com/veligo/chronodrive/server"
)

// ServeCmd runs the scheduler daemon with the progress server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon with the progress server",
	Long: `Run chronodrive as a daemon:

- The scheduler triggers task runs when they come due.
- The websocket hub streams run progress and log events.
- The HTTP API exposes run control (pause/resume/stop) and task CRUD.
- The mappings file is watched and reloaded on change.
- The config file is watched; runner tuning applies to subsequent runs.

Runs until interrupted; an in-flight run is stopped at its next row
boundary before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		classifier, err := loadClassifier(cfg)
		if err != nil {
			return err
		}
		holder := classify.NewHolder(classifier)

		mappingsWatcher, err := classify.NewWatcher(cfg.Mappings.Path)
		if err != nil {
			return err
		}
		mappingsWatcher.OnReload(holder.Replace)
		mappingsWatcher.Start()
		defer mappingsWatcher.Stop()

		// Runner tuning and the batch path follow config edits; each
		// scheduled trigger reads the latest value. Server and database
		// settings need a restart.
		liveCfg := &atomic.Pointer[config.Config]{}
		liveCfg.Store(cfg)
		cfgWatcher, err := newConfigWatcher(cmd)
		if err != nil {
			logger.Warnw("Config reload disabled", "error", err)
		} else if cfgWatcher != nil {
			cfgWatcher.OnReload(func(c *config.Config) error {
				liveCfg.Store(c)
				logger.Infow("Runner tuning reloaded",
					"actions_per_minute", c.Runner.ActionsPerMinute,
					"retry_max_attempts", c.Runner.RetryMaxAttempts,
					"batch_path", c.Batch.Path)
				return nil
			})
			cfgWatcher.Start()
			defer cfgWatcher.Stop()
		}

		hub := server.NewHub(cfg.Server.AllowedOrigins, logger.Logger)
		registry := &run.Registry{}

		tasks := schedule.NewStore(database)
		execs := schedule.NewExecutionStore(database)

		factory := func(task *schedule.Task) schedule.Runner {
			return &taskRunner{
				cfg:      liveCfg,
				holder:   holder,
				emitter:  hub,
				registry: registry,
				logger:   logger.Logger.With("task_id", task.ID, "task_name", task.Name),
			}
		}

		scheduler := schedule.NewScheduler(tasks, execs, factory,
			schedule.SchedulerConfig{Interval: cfg.Scheduler.TickerInterval()},
			logger.Logger)
		scheduler.Start()
		defer scheduler.Stop()

		srv := server.New(cfg.Server, hub, registry, tasks, execs, scheduler, logger.Logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger.Infow("Shutting down", "signal", sig.String())
		}

		// Stop the active run at its row boundary before exiting.
		if active := registry.Active(); active != nil {
			active.Stop()
			active.Wait()
		}
		return srv.Shutdown(context.Background())
	},
}

// taskRunner adapts a run controller to the scheduler's Runner interface.
// Each scheduled trigger gets a fresh controller so it picks up the current
// classifier and config; the adapter itself is long-lived per task, which
// is what the skip-if-running guard keys on.
type taskRunner struct {
	cfg      *atomic.Pointer[config.Config]
	holder   *classify.Holder
	emitter  run.Emitter
	registry *run.Registry
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	current *run.Controller
}

func (r *taskRunner) Start(ctx context.Context, accountIDs []string) error {
	cfg := r.cfg.Load()

	rows, err := run.LoadRows(cfg.Batch.Path)
	if err != nil {
		return err
	}
	rows = run.FilterRows(rows, accountIDs)

	c := run.NewController(newDriver(), r.holder.Get(), r.emitter, runnerConfig(cfg), r.logger)
	if err := c.Start(ctx, rows, credentials(cfg)); err != nil {
		return err
	}

	r.mu.Lock()
	r.current = c
	r.mu.Unlock()
	r.registry.Register(c)
	return nil
}

func (r *taskRunner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil && r.current.State().Active()
}

func (r *taskRunner) Wait() {
	r.mu.Lock()
	c := r.current
	r.mu.Unlock()
	if c != nil {
		c.Wait()
	}
}

func (r *taskRunner) Result() (int, int) {
	r.mu.Lock()
	c := r.current
	r.mu.Unlock()
	if c == nil {
		return 0, 0
	}
	snapshot := c.Snapshot()
	return snapshot.TotalRows, c.RowFailures()
}
