package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/mcp"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
)

// localQueue controls the pipeline of this process.
type localQueue struct {
	svc driving.IndexingService
}

func (q localQueue) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	return q.svc.QueueStatus(ctx)
}

func (q localQueue) Pause(context.Context) error {
	q.svc.Pause()
	return nil
}

func (q localQueue) Resume(context.Context) error {
	q.svc.Resume()
	return nil
}

func (q localQueue) Clear(context.Context) (int, error) {
	return q.svc.Clear(), nil
}

// remoteQueue controls a running indexer over MCP.
type remoteQueue struct {
	client *mcp.Client
}

func (q remoteQueue) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	out, err := q.client.QueueStatus(ctx)
	if err != nil {
		return domain.QueueStatus{}, err
	}
	return out.QueueStatus(), nil
}

func (q remoteQueue) Pause(ctx context.Context) error {
	_, err := q.client.Pause(ctx)
	return err
}

func (q remoteQueue) Resume(ctx context.Context) error {
	_, err := q.client.Resume(ctx)
	return err
}

func (q remoteQueue) Clear(ctx context.Context) (int, error) {
	out, err := q.client.Clear(ctx)
	return out.Dropped, err
}

// runMonitor shows the queue monitor until the user quits or, with
// quitWhenIdle, the queue drains. It reports whether the queue drained.
func runMonitor(ctx context.Context, queue tui.QueueController, search driving.QueryService, quitWhenIdle bool) (bool, error) {
	app, err := tui.NewApp(&tui.Ports{Queue: queue, Search: search}, tui.Options{
		QuitWhenIdle: quitWhenIdle,
	})
	if err != nil {
		return false, err
	}
	return app.WithContext(ctx).Run()
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a running indexer",
	Long:  `Stops the running indexer from starting new files. Files in flight finish.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		out, err := client.Pause(cmd.Context())
		if err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		cmd.Printf("Paused (%d pending)\n", out.Pending)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused indexer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		out, err := client.Resume(cmd.Context())
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		cmd.Printf("Resumed (%d pending)\n", out.Pending)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending file from a running indexer",
	Long: `Discards the pending queue of the running indexer. Files in flight
finish, and their progress is kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		out, err := client.Clear(cmd.Context())
		if err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		cmd.Printf("Cleared %d pending files\n", out.Dropped)
		return nil
	},
}

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the indexing queue",
	Long: `Shows the queue of a running indexer. With no indexer running it
summarises the stored progress instead.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep showing the queue")
	rootCmd.AddCommand(pauseCmd, resumeCmd, clearCmd, statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	client, err := connectServer(ctx)
	if err != nil {
		return err
	}

	if client != nil {
		defer client.Close()
		queue := remoteQueue{client: client}
		if statusWatch {
			_, err := runMonitor(ctx, queue, nil, false)
			return err
		}
		st, err := queue.QueueStatus(ctx)
		if err != nil {
			return fmt.Errorf("queue status: %w", err)
		}
		printQueueStatus(cmd, st, time.Now())
		return nil
	}

	if statusWatch {
		return fmt.Errorf("--watch: %w at %s", errNoServer, serverAddr)
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	summary, err := a.Documents.ProgressSummary(ctx)
	if err != nil {
		return fmt.Errorf("progress summary: %w", err)
	}
	cmd.Println("No indexer running; stored progress:")
	for _, st := range []domain.ProgressStatus{
		domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted, domain.StatusFailed,
	} {
		cmd.Printf("  %-12s %d\n", st, summary[st])
	}

	failed, err := a.Documents.ListProgress(ctx, domain.StatusFailed)
	if err != nil {
		return err
	}
	printFailed(cmd, failed)
	return nil
}

// maxFailedShown bounds the failed paths printed.
const maxFailedShown = 10

func printQueueStatus(cmd *cobra.Command, st domain.QueueStatus, now time.Time) {
	state := "running"
	switch {
	case st.Paused:
		state = "paused"
	case !st.Running:
		state = "stopped"
	}
	cmd.Printf("Queue:    %s, %d high, %d normal\n", state, st.HighPending, st.NormalPending)
	cmd.Printf("Done:     %d completed, %d failed\n", st.Completed, st.FailedCount)

	cmd.Printf("Active:   %d\n", len(st.Active))
	for _, item := range st.Active {
		cmd.Printf("  %-9s %s (%s)\n", item.Stage, item.Path, now.Sub(item.StartedAt).Round(time.Second))
	}

	alive := 0
	for _, w := range st.Workers {
		if w.Alive {
			alive++
		}
	}
	cmd.Printf("Workers:  %d alive, %d stale\n", alive, len(st.Workers)-alive)
	printFailed(cmd, st.Failed)
}

func printFailed(cmd *cobra.Command, failed []domain.ProcessingProgress) {
	if len(failed) == 0 {
		return
	}
	cmd.Println("Failed:")
	for i, row := range failed {
		if i == maxFailedShown {
			cmd.Printf("  ... and %d more\n", len(failed)-maxFailedShown)
			break
		}
		cmd.Printf("  %s: %s\n", row.Path, row.LastError)
	}
}
