package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// IntegrityService detects and repairs drift between the record of truth
// and the derived indexes.
type IntegrityService interface {
	// RunIntegrityCheck runs every check and repairs what it finds unless dryRun.
	RunIntegrityCheck(ctx context.Context, dryRun bool) (*domain.IntegrityReport, error)

	// Repair runs every check and returns the repair actions, planned or applied.
	Repair(ctx context.Context, dryRun bool) ([]domain.RepairAction, error)

	// RebuildIndex rewrites the vector index from stored embeddings.
	RebuildIndex(ctx context.Context, dryRun bool) (*domain.RepairAction, error)
}
