package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/app"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var tasksHistoryLimit int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show scheduled maintenance tasks",
	Long: `The indexer runs two maintenance tasks while serving: integrity-check
repairs drift between the database and the indexes, and resume-scan re-queues
files whose processing never finished.`,
	Args: cobra.NoArgs,
	RunE: runTasksList,
}

var tasksRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a maintenance task now",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksRun,
}

var tasksHistoryCmd = &cobra.Command{
	Use:   "history <task>",
	Short: "Show recent runs of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksHistory,
}

func init() {
	tasksHistoryCmd.Flags().IntVarP(&tasksHistoryLimit, "limit", "n", 10, "number of runs to show")
	tasksCmd.AddCommand(tasksRunCmd, tasksHistoryCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	return withLocalApp(cmd, func(a *app.App) error {
		tasks, err := a.Scheduler.Tasks(cmd.Context())
		if err != nil {
			return err
		}
		for i := range tasks {
			printTask(cmd, &tasks[i])
		}
		return nil
	})
}

func printTask(cmd *cobra.Command, t *domain.ScheduledTask) {
	state := "enabled"
	if !t.Enabled {
		state = "disabled"
	}
	cmd.Printf("%-16s %-8s every %s\n", t.ID, state, t.Interval)
	cmd.Printf("  last run:  %s\n", formatWhen(t.LastRun))
	cmd.Printf("  next run:  %s\n", formatWhen(t.NextRun))
	if t.LastError != "" {
		cmd.Printf("  last error: %s\n", t.LastError)
	}
}

func runTasksRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return withLocalApp(cmd, func(a *app.App) error {
		if err := a.Pipeline.Start(ctx); err != nil {
			return err
		}
		if err := a.Scheduler.RunNow(ctx, args[0]); err != nil {
			return err
		}
		// resume-scan only queues; finish the work before closing.
		if err := a.Pipeline.WaitIdle(ctx); err != nil {
			return err
		}

		history, err := a.Scheduler.History(ctx, args[0], 1)
		if err != nil {
			return err
		}
		items := 0
		if len(history) > 0 {
			items = history[0].ItemsProcessed
		}
		cmd.Printf("Ran %s (%d items)\n", args[0], items)
		return nil
	})
}

func runTasksHistory(cmd *cobra.Command, args []string) error {
	return withLocalApp(cmd, func(a *app.App) error {
		history, err := a.Scheduler.History(cmd.Context(), args[0], tasksHistoryLimit)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			cmd.Printf("%s has not run yet.\n", args[0])
			return nil
		}
		for _, r := range history {
			outcome := "ok"
			if !r.Success {
				outcome = fmt.Sprintf("failed: %s", r.Error)
			}
			cmd.Printf("  %s  %6s  %4d items  %s\n",
				formatWhen(r.StartedAt), r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond), r.ItemsProcessed, outcome)
		}
		return nil
	})
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
