package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	watchScan      bool
	watchNoMonitor bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <dirs...>",
	Short: "Index directories and follow their changes",
	Long: `Queues every file under the directories, then watches them and queues
each created, changed, removed or renamed file until interrupted. Removed
files are deleted from the index. Other commands reach this process through
--addr while it runs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchScan, "scan", true, "queue existing files before watching")
	watchCmd.Flags().BoolVar(&watchNoMonitor, "no-monitor", false, "log instead of showing the queue monitor")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := ensureNoServer(ctx); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	roots := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}
		roots = append(roots, abs)
	}

	w, err := newWatcher(a, roots)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = w.Close()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if watchScan {
		queued, _, err := enqueueTree(ctx, a, roots, domain.PriorityNormal)
		if err != nil {
			_ = w.Close()
			return err
		}
		cmd.Printf("Queued %d files\n", queued)
	}
	waitServer := serveInBackground(ctx, a)

	monitorDone := make(chan struct{})
	if !watchNoMonitor && isTerminal(cmd) {
		go func() {
			defer close(monitorDone)
			if _, err := runMonitor(ctx, localQueue{svc: a.Pipeline}, a.Search, false); err != nil {
				cmd.PrintErrf("monitor: %v\n", err)
			}
			cancel()
		}()
	} else {
		close(monitorDone)
		cmd.Printf("Watching %d directories; press Ctrl+C to stop\n", len(roots))
	}

	err = w.Run(ctx)
	cancel()
	<-monitorDone
	waitServer()
	if err != nil {
		return err
	}
	st, err := a.Pipeline.QueueStatus(context.Background())
	if err == nil {
		cmd.Printf("Indexed %d files, %d failed\n", st.Completed, st.FailedCount)
	}
	return nil
}
