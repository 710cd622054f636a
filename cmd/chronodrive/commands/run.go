package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veligo/chronodrive/logger"
	"github.com/veligo/chronodrive/run"
)

// RunCmd executes one batch run from a CSV file.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one batch run from a CSV file",
	Long: `Execute a single batch run in the foreground.

Rows are read from the batch CSV, classified against the mappings file,
and entered one at a time. Ctrl+C requests a stop; the run halts at the
next row boundary and releases the session cleanly.

Example:
  chronodrive run --batch today.csv
  chronodrive run --batch today.csv --accounts acme,globex`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		batchPath, _ := cmd.Flags().GetString("batch")
		if batchPath == "" {
			batchPath = cfg.Batch.Path
		}
		accounts, _ := cmd.Flags().GetStringSlice("accounts")

		rows, err := run.LoadRows(batchPath)
		if err != nil {
			return err
		}
		rows = run.FilterRows(rows, accounts)
		if len(rows) == 0 {
			return fmt.Errorf("no rows to process in %s", batchPath)
		}

		classifier, err := loadClassifier(cfg)
		if err != nil {
			return err
		}

		// Reject nothing up front; unmapped regular rows fail
		// individually during the run. The report is advisory.
		report := classifier.ValidateBatch(rows)
		for code := range report.UnmappedAccounts {
			logger.Warnw("Batch references unmapped account", "account", code)
		}
		for key := range report.UnmappedProjects {
			logger.Warnw("Batch references unmapped project", "project", key)
		}

		controller := run.NewController(newDriver(), classifier, nil, runnerConfig(cfg), logger.Logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := controller.Start(ctx, rows, credentials(cfg)); err != nil {
			return err
		}
		logger.Infow("Run started", "rows", len(rows), "batch", batchPath)

		// Ctrl+C stops at the next row boundary.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Infow("Stop requested, finishing current row")
			controller.Stop()
		}()

		controller.Wait()
		signal.Stop(sigCh)

		snapshot := controller.Snapshot()
		failures := controller.RowFailures()
		logger.Infow("Run finished",
			"state", snapshot.Status,
			"rows_done", snapshot.CurrentIndex,
			"rows_total", snapshot.TotalRows,
			"rows_failed", failures)

		if failures > 0 {
			return fmt.Errorf("%d of %d rows failed", failures, snapshot.TotalRows)
		}
		return nil
	},
}

func init() {
	RunCmd.Flags().String("batch", "", "Batch CSV path (default: batch.path from config)")
	RunCmd.Flags().StringSlice("accounts", nil, "Only process rows for these accounts")
}
