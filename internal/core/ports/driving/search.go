package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// QueryService answers hybrid keyword and vector queries.
type QueryService interface {
	// Query returns ranked results. A failure of one retrieval path
	// degrades the response rather than failing it.
	Query(ctx context.Context, text string, opts domain.QueryOptions) (*domain.QueryResponse, error)
}
