package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// ProgressStore persists pipeline checkpoints keyed by path.
type ProgressStore interface {
	// GetProgress returns the progress for a path, or ErrNotFound.
	GetProgress(ctx context.Context, path string) (*domain.ProcessingProgress, error)

	// SaveProgress creates or replaces the progress row.
	SaveProgress(ctx context.Context, p *domain.ProcessingProgress) error

	// ListProgress returns rows in any of the given statuses, or all rows when none given.
	ListProgress(ctx context.Context, statuses ...domain.ProgressStatus) ([]domain.ProcessingProgress, error)

	// MovePath re-keys a progress row after a file move.
	MovePath(ctx context.Context, oldPath, newPath string) error

	// DeleteProgress removes a row, or returns ErrNotFound. Called by
	// explicit maintenance and for files removed before they were indexed.
	DeleteProgress(ctx context.Context, path string) error
}
