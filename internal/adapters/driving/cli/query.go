package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/mcp"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/components/list"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	queryLimit     int
	queryThreshold float64
	queryBreadth   int
	queryJSON      bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Query indexed files",
	Long: `Runs a hybrid query: keyword (BM25) and vector similarity results are
fused by reciprocal rank, then optionally reranked. When one path fails the
other answers alone and the response is marked degraded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 10, "maximum number of results")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "drop results scoring below this")
	queryCmd.Flags().IntVar(&queryBreadth, "breadth", 0, "vector search breadth (0 = configured)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.Join(args, " ")
	opts := domain.QueryOptions{TopK: queryLimit, Threshold: queryThreshold, Breadth: queryBreadth}

	client, err := connectServer(ctx)
	if err != nil {
		return err
	}

	var resp *domain.QueryResponse
	if client != nil {
		defer client.Close()
		out, err := client.Query(ctx, mcp.QueryInput{
			Query: text, TopK: opts.TopK, Threshold: opts.Threshold, Breadth: opts.Breadth,
		})
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		resp = out.Response()
	} else {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer closeApp(a)

		resp, err = a.Search.Query(ctx, text, opts)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
	}

	if queryJSON {
		data, err := json.MarshalIndent(mcp.NewQueryOutput(resp), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printResults(cmd, resp)
	return nil
}

// previewLen bounds the chunk preview printed per result.
const previewLen = 160

func printResults(cmd *cobra.Command, resp *domain.QueryResponse) {
	if resp.Degraded != "" {
		cmd.Printf("Degraded (%s): %s\n\n", resp.Mode, resp.Degraded)
	}
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return
	}

	for i := range resp.Results {
		r := &resp.Results[i]
		title := r.Title
		if title == "" {
			title = r.DocumentID
		}
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, title, r.Score)
		cmd.Printf("      %s  %s\n", r.Path, list.Explain(r))
		if preview := strings.Join(strings.Fields(r.Content), " "); preview != "" {
			if runes := []rune(preview); len(runes) > previewLen {
				preview = string(runes[:previewLen-3]) + "..."
			}
			cmd.Printf("      %s\n", preview)
		}
		cmd.Println()
	}
}
