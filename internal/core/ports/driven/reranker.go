package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// Reranker reorders an already bounded candidate set.
// Implementations must return a permutation of the input: no candidate may
// be added or dropped.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.SearchResult) ([]domain.SearchResult, error)
}
