// Package commands implements the chronodrive CLI commands.
package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/veligo/chronodrive/classify"
	"github.com/veligo/chronodrive/config"
	"github.com/veligo/chronodrive/db"
	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/logger"
	"github.com/veligo/chronodrive/resilience"
	"github.com/veligo/chronodrive/run"
)

// loadConfig honors the --config flag, otherwise uses the merged lookup.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens and migrates the configured SQLite database.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return conn, nil
}

// newConfigWatcher watches whichever config file is driving this process:
// the --config flag if set, else the project chronodrive.toml when found.
// Returns nil when there is no file to watch.
func newConfigWatcher(cmd *cobra.Command) (*config.Watcher, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.NewFileWatcher(path)
	}
	if path := config.ProjectConfigFile(); path != "" {
		return config.NewWatcher(path)
	}
	return nil, nil
}

// loadClassifier reads the mappings file into a classifier.
func loadClassifier(cfg *config.Config) (*classify.Classifier, error) {
	mappings, err := classify.LoadMappings(cfg.Mappings.Path)
	if err != nil {
		return nil, err
	}
	return classify.NewClassifier(mappings), nil
}

// runnerConfig translates config values into controller tuning.
func runnerConfig(cfg *config.Config) run.Config {
	return run.Config{
		Retry: resilience.RetryOptions{
			MaxAttempts:       cfg.Runner.RetryMaxAttempts,
			InitialDelay:      cfg.Runner.RetryInitialDelay(),
			BackoffMultiplier: cfg.Runner.RetryBackoffMultiplier,
		},
		BreakerThreshold:    cfg.Runner.BreakerThreshold,
		BreakerResetTimeout: cfg.Runner.BreakerResetTimeout(),
		ActionsPerMinute:    int(cfg.Runner.ActionsPerMinute),
	}
}

// newDriver returns the automation driver. Browser backends plug in here;
// until one is wired, entries are logged instead of driven.
func newDriver() run.Driver {
	return run.NewLoggingDriver(logger.Logger)
}

// credentials pulls portal credentials from config/env.
func credentials(cfg *config.Config) run.Credentials {
	return run.Credentials{
		Username: cfg.Portal.Username,
		Password: cfg.Portal.Password,
	}
}
