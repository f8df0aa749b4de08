package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/watcher"
	"github.com/custodia-labs/sercha-indexer/internal/app"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	indexHigh      bool
	indexNoMonitor bool
)

var indexCmd = &cobra.Command{
	Use:   "index <paths...>",
	Short: "Index files and directories",
	Long: `Queues files for indexing. Directories are walked recursively, skipping
hidden entries and anything matched by .gitignore or .serchaignore.

With a running indexer the files are queued there. Otherwise the pipeline
runs in this process until every queued file is done, serving --addr
meanwhile so other commands can use it. On a terminal the queue monitor is
shown while it works.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexHigh, "high", false, "queue at high priority")
	indexCmd.Flags().BoolVar(&indexNoMonitor, "no-monitor", false, "print a summary instead of the queue monitor")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	priority := domain.PriorityNormal
	if indexHigh {
		priority = domain.PriorityHigh
	}

	paths := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}
		paths = append(paths, abs)
	}
	monitor := !indexNoMonitor && isTerminal(cmd)

	client, err := connectServer(ctx)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
		out, err := client.Enqueue(ctx, paths, priority.String())
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		cmd.Printf("Queued %d files on %s (%d already queued)\n", out.Queued, serverAddr, out.Skipped)
		if monitor {
			_, err := runMonitor(ctx, remoteQueue{client: client}, nil, true)
			return err
		}
		return nil
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	serveCtx, stopServing := context.WithCancel(ctx)
	waitServer := serveInBackground(serveCtx, a)
	defer func() {
		stopServing()
		waitServer()
	}()

	queued, skipped, err := enqueueTree(ctx, a, paths, priority)
	if err != nil {
		return err
	}
	cmd.Printf("Queued %d files (%d already queued)\n", queued, skipped)

	if monitor {
		if _, err := runMonitor(ctx, localQueue{svc: a.Pipeline}, a.Search, true); err != nil {
			return err
		}
	} else if err := a.Pipeline.WaitIdle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			cmd.Println("Interrupted; unfinished files resume on the next run")
			return nil
		}
		return fmt.Errorf("wait for pipeline: %w", err)
	}

	st, err := a.Pipeline.QueueStatus(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Indexed %d files, %d failed\n", st.Completed, st.FailedCount)
	printFailed(cmd, st.Failed)
	return nil
}

// enqueueTree walks each path and queues the files it finds.
func enqueueTree(ctx context.Context, a *app.App, paths []string, priority domain.Priority) (queued, skipped int, err error) {
	for _, root := range paths {
		err := watcher.Walk(ctx, root, func(path string) error {
			added, err := a.Pipeline.EnqueueForIndexing(ctx, path, priority)
			if err != nil {
				return err
			}
			if added {
				queued++
			} else {
				skipped++
			}
			return nil
		})
		if err != nil {
			return queued, skipped, fmt.Errorf("queue %s: %w", root, err)
		}
	}
	return queued, skipped, nil
}
