package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/veligo/chronodrive/logger"
	"github.com/veligo/chronodrive/run"
	"github.com/veligo/chronodrive/schedule"
)

// TaskCmd manages scheduled tasks.
var TaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled tasks",
	Long: `Manage scheduled batch tasks.

Examples:
  chronodrive task create --name "weekday entry" --kind weekly --time 09:00 --days 1,2,3,4,5
  chronodrive task create --name "month close" --kind monthly --time 08:00 --day 1 --accounts acme
  chronodrive task ls
  chronodrive task toggle <id>
  chronodrive task run-now <id>
  chronodrive task rm <id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a scheduled task",
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

		name, _ := cmd.Flags().GetString("name")
		accounts, _ := cmd.Flags().GetStringSlice("accounts")

		spec, err := specFromFlags(cmd)
		if err != nil {
			return err
		}

		task, err := schedule.NewTask(name, spec, accounts, time.Now())
		if err != nil {
			return err
		}
		if err := schedule.NewStore(database).CreateTask(task); err != nil {
			return err
		}

		pterm.Printf("%s Task %s created\n", pterm.LightGreen("✓"), pterm.White(task.Name))
		if task.NextRunAt != nil {
			pterm.Printf("  %s next run %s\n", pterm.Gray("→"), task.NextRunAt.Format("Mon 2006-01-02 15:04"))
		}
		return nil
	},
}

// specFromFlags builds a schedule spec from the create flags.
func specFromFlags(cmd *cobra.Command) (schedule.Spec, error) {
	kind, _ := cmd.Flags().GetString("kind")
	timeStr, _ := cmd.Flags().GetString("time")

	at, err := schedule.ParseTimeOfDay(timeStr)
	if err != nil {
		return nil, err
	}

	switch kind {
	case schedule.KindDaily:
		return schedule.Daily{At: at}, nil

	case schedule.KindWeekly:
		dayNums, _ := cmd.Flags().GetIntSlice("days")
		days := make([]time.Weekday, 0, len(dayNums))
		for _, d := range dayNums {
			days = append(days, time.Weekday(d))
		}
		s := schedule.Weekly{At: at, Days: days}
		return s, s.Validate()

	case schedule.KindMonthly:
		day, _ := cmd.Flags().GetInt("day")
		s := schedule.Monthly{At: at, Day: day}
		return s, s.Validate()

	case schedule.KindOnce:
		dateStr, _ := cmd.Flags().GetString("date")
		date, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
		if err != nil {
			return nil, fmt.Errorf("--date must be YYYY-MM-DD, got %q", dateStr)
		}
		return schedule.Once{At: at, Date: date}, nil

	default:
		return nil, fmt.Errorf("--kind must be daily, weekly, monthly or once, got %q", kind)
	}
}

var taskLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List scheduled tasks",
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

		tasks, err := schedule.NewStore(database).ListTasks()
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			pterm.Println(pterm.Gray("No scheduled tasks"))
			return nil
		}

		data := pterm.TableData{{"ID", "NAME", "KIND", "ENABLED", "NEXT RUN", "LAST RUN"}}
		for _, t := range tasks {
			enabled := pterm.LightGreen("yes")
			if !t.Enabled {
				enabled = pterm.Gray("no")
			}
			data = append(data, []string{
				t.ID[:8],
				t.Name,
				t.Spec.Kind(),
				enabled,
				formatRunTime(t.NextRunAt),
				formatRunTime(t.LastRunAt),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func formatRunTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

var taskToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Enable or disable a task",
	Args:  cobra.ExactArgs(1),
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

		store := schedule.NewStore(database)
		task, err := resolveTask(store, args[0])
		if err != nil {
			return err
		}

		if err := store.SetEnabled(task.ID, !task.Enabled, time.Now()); err != nil {
			return err
		}
		if task.Enabled {
			pterm.Printf("%s Task %s disabled\n", pterm.Gray("✓"), task.Name)
		} else {
			pterm.Printf("%s Task %s enabled\n", pterm.LightGreen("✓"), task.Name)
		}
		return nil
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task and its history",
	Args:  cobra.ExactArgs(1),
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

		store := schedule.NewStore(database)
		task, err := resolveTask(store, args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteTask(task.ID); err != nil {
			return err
		}
		pterm.Printf("%s Task %s deleted\n", pterm.LightGreen("✓"), task.Name)
		return nil
	},
}

var taskRunNowCmd = &cobra.Command{
	Use:   "run-now <id>",
	Short: "Run a task immediately, outside its schedule",
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

		store := schedule.NewStore(database)
		task, err := resolveTask(store, args[0])
		if err != nil {
			return err
		}

		rows, err := run.LoadRows(cfg.Batch.Path)
		if err != nil {
			return err
		}
		rows = run.FilterRows(rows, task.AccountIDs)
		if len(rows) == 0 {
			return fmt.Errorf("no batch rows for task %s", task.Name)
		}

		classifier, err := loadClassifier(cfg)
		if err != nil {
			return err
		}

		startedAt := time.Now()
		exec := schedule.NewExecution(task.ID, startedAt)
		execs := schedule.NewExecutionStore(database)
		if err := execs.CreateExecution(exec); err != nil {
			return err
		}

		controller := run.NewController(newDriver(), classifier, nil, runnerConfig(cfg), logger.Logger)
		if err := controller.Start(context.Background(), rows, credentials(cfg)); err != nil {
			return err
		}
		logger.Infow("Task run started", "task_name", task.Name, "rows", len(rows))
		controller.Wait()

		snapshot := controller.Snapshot()
		failures := controller.RowFailures()

		status := schedule.ExecutionCompleted
		errMsg := ""
		if failures > 0 {
			status = schedule.ExecutionFailed
			errMsg = fmt.Sprintf("%d of %d rows failed", failures, snapshot.TotalRows)
		}
		exec.Finish(status, time.Now(), snapshot.TotalRows, failures, errMsg)
		if err := execs.UpdateExecution(exec); err != nil {
			return err
		}

		var next *time.Time
		if n, ok := task.Spec.NextRun(time.Now()); ok {
			next = &n
		}
		if err := store.MarkRun(task.ID, startedAt, next); err != nil {
			return err
		}

		if failures > 0 {
			return fmt.Errorf("%s", errMsg)
		}
		pterm.Printf("%s Task %s completed, %d rows\n", pterm.LightGreen("✓"), task.Name, snapshot.TotalRows)
		return nil
	},
	Args: cobra.ExactArgs(1),
}

// resolveTask accepts a full task ID or an unambiguous prefix.
func resolveTask(store *schedule.Store, ref string) (*schedule.Task, error) {
	if task, err := store.GetTask(ref); err == nil {
		return task, nil
	}

	tasks, err := store.ListTasks()
	if err != nil {
		return nil, err
	}

	var match *schedule.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, ref) || t.Name == ref {
			if match != nil {
				return nil, fmt.Errorf("task reference %q is ambiguous", ref)
			}
			match = t
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no task matches %q", ref)
	}
	return match, nil
}

func init() {
	taskCreateCmd.Flags().String("name", "", "Task name (required)")
	taskCreateCmd.Flags().String("kind", "", "Schedule kind: daily, weekly, monthly, once (required)")
	taskCreateCmd.Flags().String("time", "", "Time of day HH:MM (required)")
	taskCreateCmd.Flags().IntSlice("days", nil, "Weekdays for weekly schedules (0=Sunday .. 6=Saturday)")
	taskCreateCmd.Flags().Int("day", 0, "Day of month for monthly schedules (short months are skipped)")
	taskCreateCmd.Flags().String("date", "", "Date YYYY-MM-DD for one-shot schedules")
	taskCreateCmd.Flags().StringSlice("accounts", nil, "Accounts this task covers (empty = whole batch)")
	taskCreateCmd.MarkFlagRequired("name")
	taskCreateCmd.MarkFlagRequired("kind")
	taskCreateCmd.MarkFlagRequired("time")

	TaskCmd.AddCommand(taskCreateCmd)
	TaskCmd.AddCommand(taskLsCmd)
	TaskCmd.AddCommand(taskToggleCmd)
	TaskCmd.AddCommand(taskRmCmd)
	TaskCmd.AddCommand(taskRunNowCmd)
}
