package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// DocumentService inspects indexed documents and their processing progress.
type DocumentService interface {
	// List returns every document ordered by path.
	List(ctx context.Context) ([]domain.Document, error)

	// Get retrieves a document by ID, or by path when no document has that ID.
	Get(ctx context.Context, idOrPath string) (*domain.Document, error)

	// GetContent returns the chunk contents of a document joined in sequence order.
	GetContent(ctx context.Context, documentID string) (string, error)

	// GetDetails returns a document with its chunk count and progress.
	GetDetails(ctx context.Context, documentID string) (*DocumentDetails, error)

	// ListProgress returns progress rows in the given statuses, or all rows.
	ListProgress(ctx context.Context, statuses ...domain.ProgressStatus) ([]domain.ProcessingProgress, error)

	// ProgressSummary counts progress rows per status.
	ProgressSummary(ctx context.Context) (map[domain.ProgressStatus]int, error)

	// ClearProgress deletes the progress rows of the given paths, or of every
	// failed path when none are given. Returns how many rows were removed.
	ClearProgress(ctx context.Context, paths ...string) (int, error)

	// Open opens the document's file with the system default application.
	Open(ctx context.Context, documentID string) error
}

// DocumentDetails is a document with derived display information.
type DocumentDetails struct {
	Document   domain.Document
	ChunkCount int

	// Progress is nil when the path has no progress row.
	Progress *domain.ProcessingProgress
}
