package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// KeywordIndex provides probabilistic keyword scoring over chunks.
// Every chunk sharing at least one query term receives a score; queries
// are never boolean AND.
type KeywordIndex interface {
	// Index adds or updates chunks together with their document title.
	Index(ctx context.Context, title string, chunks []domain.Chunk) error

	// Delete removes chunks from the index.
	Delete(ctx context.Context, chunkIDs []string) error

	// Search scores chunks against the query and returns the best matches.
	Search(ctx context.Context, query string, limit int) ([]KeywordHit, error)

	// Count returns the number of indexed chunks.
	Count() (uint64, error)

	// Reset removes every chunk from the index.
	Reset(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// KeywordHit represents a keyword search result.
type KeywordHit struct {
	ChunkID    string
	DocumentID string

	// Title is the document title stored alongside the chunk.
	Title string

	// Score is the relevance score before any title boost.
	Score float64
}
