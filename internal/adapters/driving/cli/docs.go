package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/app"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Inspect indexed documents",
	Long: `List, show and open indexed documents, and inspect or clear their
processing progress. Needs exclusive access to the data directory.`,
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id|path>",
	Short: "Show a document and its progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsShow,
}

var docsContentCmd = &cobra.Command{
	Use:   "content <id|path>",
	Short: "Print a document's indexed text",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsContent,
}

var docsOpenCmd = &cobra.Command{
	Use:   "open <id|path>",
	Short: "Open a document in the default application",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsOpen,
}

var docsProgressStatus string

var docsProgressCmd = &cobra.Command{
	Use:   "progress",
	Short: "List processing progress rows",
	Args:  cobra.NoArgs,
	RunE:  runDocsProgress,
}

var docsClearCmd = &cobra.Command{
	Use:   "clear-progress [paths...]",
	Short: "Forget progress so paths are indexed from scratch",
	Long: `Deletes the progress rows of the given paths, or of every failed path
when none are given. The next index of those paths starts over.`,
	RunE: runDocsClear,
}

func init() {
	docsProgressCmd.Flags().StringVar(&docsProgressStatus, "status", "",
		"only rows in this status (pending, in_progress, completed, failed)")
	docsCmd.AddCommand(docsListCmd, docsShowCmd, docsContentCmd, docsOpenCmd, docsProgressCmd, docsClearCmd)
	rootCmd.AddCommand(docsCmd)
}

// withLocalApp runs fn against the data directory, refusing while a
// server owns it.
func withLocalApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	if err := ensureNoServer(cmd.Context()); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)
	return fn(a)
}

func runDocsList(cmd *cobra.Command, _ []string) error {
	return withLocalApp(cmd, func(a *app.App) error {
		docs, err := a.Documents.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		if len(docs) == 0 {
			cmd.Println("No documents indexed.")
			return nil
		}
		for i := range docs {
			cmd.Printf("  %s  %-9s %4d chunks  %s\n", docs[i].ID, docs[i].Kind, docs[i].TotalChunks, docs[i].Path)
		}
		cmd.Printf("\nTotal: %d documents\n", len(docs))
		return nil
	})
}

func runDocsShow(cmd *cobra.Command, args []string) error {
	return withLocalApp(cmd, func(a *app.App) error {
		ctx := cmd.Context()
		doc, err := a.Documents.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		details, err := a.Documents.GetDetails(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to get details: %w", err)
		}

		cmd.Printf("Document: %s\n\n", doc.ID)
		cmd.Printf("  Title:    %s\n", doc.Title)
		cmd.Printf("  Path:     %s\n", doc.Path)
		cmd.Printf("  Kind:     %s\n", doc.Kind)
		cmd.Printf("  Hash:     %s\n", doc.ContentHash)
		cmd.Printf("  Chunks:   %d\n", details.ChunkCount)
		cmd.Printf("  Status:   %s\n", doc.Status)
		cmd.Printf("  Created:  %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))

		if p := details.Progress; p != nil {
			cmd.Println("\n  Progress:")
			cmd.Printf("    %s, %d/%d chunks", p.Status, p.ChunksProcessed, p.TotalChunks)
			if p.LastError != "" {
				cmd.Printf(", last error: %s", p.LastError)
			}
			cmd.Println()
		}
		return nil
	})
}

func runDocsContent(cmd *cobra.Command, args []string) error {
	return withLocalApp(cmd, func(a *app.App) error {
		ctx := cmd.Context()
		doc, err := a.Documents.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		content, err := a.Documents.GetContent(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to get content: %w", err)
		}
		cmd.Println(content)
		return nil
	})
}

func runDocsOpen(cmd *cobra.Command, args []string) error {
	return withLocalApp(cmd, func(a *app.App) error {
		if err := a.Documents.Open(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to open document: %w", err)
		}
		return nil
	})
}

func runDocsProgress(cmd *cobra.Command, _ []string) error {
	var statuses []domain.ProgressStatus
	if docsProgressStatus != "" {
		statuses = append(statuses, domain.ProgressStatus(docsProgressStatus))
	}
	return withLocalApp(cmd, func(a *app.App) error {
		rows, err := a.Documents.ListProgress(cmd.Context(), statuses...)
		if err != nil {
			return fmt.Errorf("failed to list progress: %w", err)
		}
		if len(rows) == 0 {
			cmd.Println("No progress rows.")
			return nil
		}
		for _, row := range rows {
			cmd.Printf("  %-11s %3d/%-3d retries %d  %s\n",
				row.Status, row.ChunksProcessed, row.TotalChunks, row.RetryCount, row.Path)
			if row.LastError != "" {
				cmd.Printf("              %s\n", row.LastError)
			}
		}
		return nil
	})
}

func runDocsClear(cmd *cobra.Command, args []string) error {
	return withLocalApp(cmd, func(a *app.App) error {
		n, err := a.Documents.ClearProgress(cmd.Context(), args...)
		if err != nil {
			return err
		}
		cmd.Printf("Cleared %d progress rows\n", n)
		return nil
	})
}
