package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veligo/chronodrive/cmd/chronodrive/commands"
	"github.com/veligo/chronodrive/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chronodrive",
	Short: "chronodrive - scheduled batch entry automation",
	Long: `chronodrive drives batch entries into a human-paced web application,
on demand or on a schedule.

Available commands:
  run    - Execute one batch run from a CSV file
  serve  - Run the scheduler daemon with the progress server
  task   - Manage scheduled tasks

Examples:
  chronodrive run --batch batch.csv         # One-shot run
  chronodrive serve                         # Scheduler + websocket progress
  chronodrive task ls                       # List scheduled tasks
  chronodrive task create --name "daily" --kind daily --time 09:00`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: merged chronodrive.toml lookup)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.TaskCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
