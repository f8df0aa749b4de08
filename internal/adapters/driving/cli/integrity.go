package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var integrityDryRun bool

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Check and repair the indexes",
	Long: `Compares the database with the keyword and vector indexes and repairs
drift: dangling chunks, missing index entries, count mismatches and a
vector index that disagrees with the stored embeddings.`,
}

var integrityCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report problems without repairing them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIntegrity(cmd, true)
	},
}

var integrityRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair every problem found",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIntegrity(cmd, integrityDryRun)
	},
}

var integrityRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rewrite the vector index from stored embeddings",
	Long:  `Rewrites the vector index from the embeddings in the database. Needs exclusive access to the data directory.`,
	Args:  cobra.NoArgs,
	RunE:  runRebuild,
}

func init() {
	integrityRepairCmd.Flags().BoolVar(&integrityDryRun, "dry-run", false, "show planned repairs only")
	integrityRebuildCmd.Flags().BoolVar(&integrityDryRun, "dry-run", false, "show the planned rebuild only")
	integrityCmd.AddCommand(integrityCheckCmd, integrityRepairCmd, integrityRebuildCmd)
	rootCmd.AddCommand(integrityCmd)
}

func runIntegrity(cmd *cobra.Command, dryRun bool) error {
	ctx := cmd.Context()
	report, err := integrityReport(ctx, dryRun)
	if err != nil {
		return err
	}
	printReport(cmd, report)
	return nil
}

func integrityReport(ctx context.Context, dryRun bool) (*domain.IntegrityReport, error) {
	client, err := connectServer(ctx)
	if err != nil {
		return nil, err
	}
	if client != nil {
		defer client.Close()
		out, err := client.Integrity(ctx, dryRun)
		if err != nil {
			return nil, fmt.Errorf("integrity check: %w", err)
		}
		return out.Report(), nil
	}

	a, err := openApp()
	if err != nil {
		return nil, err
	}
	defer closeApp(a)

	report, err := a.Integrity.RunIntegrityCheck(ctx, dryRun)
	if err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	return report, nil
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := ensureNoServer(ctx); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	action, err := a.Integrity.RebuildIndex(ctx, integrityDryRun)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	printAction(cmd, action)
	return nil
}

func printReport(cmd *cobra.Command, report *domain.IntegrityReport) {
	if report.Healthy() {
		cmd.Println("No problems found.")
		return
	}

	cmd.Printf("Found %d problems:\n", len(report.Issues))
	for _, issue := range report.Issues {
		line := fmt.Sprintf("  [%s] %s %s", issue.Check, issue.Kind, issue.Target)
		if issue.Detail != "" {
			line += ": " + issue.Detail
		}
		cmd.Println(line)
	}

	if len(report.Actions) == 0 {
		return
	}
	if report.DryRun {
		cmd.Println("\nPlanned repairs:")
	} else {
		cmd.Println("\nRepairs:")
	}
	for i := range report.Actions {
		printAction(cmd, &report.Actions[i])
	}
}

func printAction(cmd *cobra.Command, action *domain.RepairAction) {
	state := "planned"
	if action.Applied {
		state = "applied"
	}
	cmd.Printf("  %s (%s, %d -> %d) %s\n", action.Description, state, action.Before, action.After, action.Target)
}
