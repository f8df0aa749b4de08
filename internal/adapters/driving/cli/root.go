// Package cli implements the sercha-indexer command line.
//
// Commands that a running server can answer are sent to it over MCP when
// one is reachable at --addr. Otherwise they open the data directory
// directly. Only one process may own the data directory at a time.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/mcp"
	"github.com/custodia-labs/sercha-indexer/internal/app"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// version is set at build time.
var version = "dev"

// probeTimeout bounds the check for a running server.
const probeTimeout = 300 * time.Millisecond

var (
	errNoServer      = errors.New("no indexer is serving")
	errServerRunning = errors.New("an indexer is already serving")
)

// Persistent flags.
var (
	verbose    bool
	configDir  string
	dataDir    string
	serverAddr string
	localOnly  bool
)

// appOpener opens the data directory. Replaced in tests.
var appOpener = func() (*app.App, error) {
	return app.Open(app.Options{ConfigDir: configDir, DataDir: dataDir})
}

var rootCmd = &cobra.Command{
	Use:   "sercha-indexer",
	Short: "Local hybrid search indexer",
	Long: `sercha-indexer indexes local files into a keyword index and a vector
index, and answers hybrid queries over both.

Files are queued, chunked, embedded and stored by a background pipeline.
Run 'sercha-indexer serve' to keep one indexer running; other commands
then talk to it over MCP at --addr.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&configDir, "config-dir", "", "directory holding config.toml (default ~/.sercha-indexer)")
	flags.StringVar(&dataDir, "data-dir", "", "directory holding the database and indexes (default <config-dir>/data)")
	flags.StringVar(&serverAddr, "addr", mcp.DefaultAddr, "address of a running indexer")
	flags.BoolVar(&localOnly, "local", false, "never contact a running indexer")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// signalContext is cancelled on interrupt or termination.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// connectServer returns a client when an indexer answers at --addr, and
// nil when nothing is listening.
func connectServer(ctx context.Context) (*mcp.Client, error) {
	if localOnly {
		return nil, nil
	}
	conn, err := net.DialTimeout("tcp", hostPort(serverAddr), probeTimeout)
	if err != nil {
		return nil, nil
	}
	_ = conn.Close()

	client, err := mcp.Dial(ctx, serverAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", serverAddr, err)
	}
	logger.Debug("using indexer at %s", serverAddr)
	return client, nil
}

// requireServer is connectServer for commands that only make sense
// against a running indexer.
func requireServer(ctx context.Context) (*mcp.Client, error) {
	client, err := connectServer(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w at %s; start one with 'sercha-indexer serve'", errNoServer, serverAddr)
	}
	return client, nil
}

// ensureNoServer fails when another process owns the data directory.
func ensureNoServer(ctx context.Context) error {
	client, err := connectServer(ctx)
	if err != nil {
		return err
	}
	if client != nil {
		_ = client.Close()
		return fmt.Errorf("%w at %s; stop it first", errServerRunning, serverAddr)
	}
	return nil
}

// openApp opens the data directory in this process.
func openApp() (*app.App, error) {
	a, err := appOpener()
	if errors.Is(err, domain.ErrIndexLocked) {
		return nil, fmt.Errorf("%w: the data directory is held by another process: %w", errServerRunning, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open indexer: %w", err)
	}
	return a, nil
}

// closeApp closes a and logs any failure.
func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		logger.Error("close indexer: %v", err)
	}
}

// hostPort strips an optional scheme and path from addr.
func hostPort(addr string) string {
	if !strings.Contains(addr, "://") {
		return addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return addr
	}
	return u.Host
}

// isTerminal reports whether the command writes to a terminal.
func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
