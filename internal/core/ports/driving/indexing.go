package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// IndexingService accepts work for the indexing pipeline and reports its state.
type IndexingService interface {
	// EnqueueForIndexing queues a path. Returns false if it is already pending.
	EnqueueForIndexing(ctx context.Context, path string, priority domain.Priority) (bool, error)

	// Pause stops new dequeues. In-flight documents finish.
	Pause()

	// Resume allows dequeues again.
	Resume()

	// Clear discards pending items and returns how many were dropped.
	Clear() int

	// QueueStatus returns queue sizes, active items and worker liveness.
	QueueStatus(ctx context.Context) (domain.QueueStatus, error)
}
