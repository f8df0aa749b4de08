package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/mcp"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/watcher"
	"github.com/custodia-labs/sercha-indexer/internal/app"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve [dirs...]",
	Short: "Run the indexer in the background",
	Long: `Runs the pipeline, the scheduler and a watcher over watch.paths and any
directories given, and serves MCP over streamable HTTP at --addr until
interrupted. Other commands send their work to it while it runs.`,
	RunE: runServe,
}

var mcpHTTPAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP over stdio",
	Long: `Runs the indexer and serves the Model Context Protocol over stdio, for
AI assistants that launch their tools as subprocesses. Use --http to serve
streamable HTTP instead.

Example configuration for an MCP client:
  {
    "mcpServers": {
      "sercha-indexer": {
        "command": "/path/to/sercha-indexer",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}

// serverPorts exposes every service of a to MCP.
func serverPorts(a *app.App) *mcp.Ports {
	return &mcp.Ports{
		Query:     a.Search,
		Indexing:  a.Pipeline,
		Integrity: a.Integrity,
		Document:  a.Documents,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
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

	server, err := mcp.NewServer(serverPorts(a))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	roots := append(append([]string(nil), a.Config.Watch.Paths...), args...)
	var w *watcher.Watcher
	if len(roots) > 0 {
		w, err = newWatcher(a, roots)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(a.Scheduler.Start(gctx))
	})
	if w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		return server.RunHTTP(gctx, serverAddr)
	})
	cmd.Printf("Serving on %s (watching %d directories)\n", serverAddr, len(roots))

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func runMCP(cmd *cobra.Command, _ []string) error {
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

	server, err := mcp.NewServer(serverPorts(a))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	if mcpHTTPAddr != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://%s\n", mcpHTTPAddr)
		return server.RunHTTP(ctx, mcpHTTPAddr)
	}
	return ignoreCanceled(server.Run(ctx))
}

// serveInBackground serves a's tools on --addr until ctx is done, so
// commands started elsewhere reach this process instead of opening the
// data directory. It is skipped with --local. The returned func waits
// for the listener to close after ctx is done.
func serveInBackground(ctx context.Context, a *app.App) func() {
	if localOnly {
		return func() {}
	}
	server, err := mcp.NewServer(serverPorts(a))
	if err != nil {
		logger.Warn("mcp server: %v", err)
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.RunHTTP(ctx, serverAddr); err != nil {
			logger.Warn("serve on %s: %v", serverAddr, err)
		}
	}()
	return func() { <-done }
}

// newWatcher watches roots and enqueues their changes into a's pipeline.
func newWatcher(a *app.App, roots []string) (*watcher.Watcher, error) {
	w, err := watcher.New(a.Pipeline, a.Config.Watch.Debounce)
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		if err := w.Add(root); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", root, err)
		}
	}
	return w, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
