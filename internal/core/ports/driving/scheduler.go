package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// Scheduler runs the periodic integrity check and resume scan.
type Scheduler interface {
	// Start runs due tasks until ctx is done or Stop is called. It returns
	// immediately when scheduling is disabled.
	Start(ctx context.Context) error

	// Stop waits for running tasks and ends Start.
	Stop() error

	// RunNow runs one task in the caller's goroutine and pushes its next
	// scheduled run back by one interval.
	RunNow(ctx context.Context, taskID string) error

	// Tasks returns the built-in tasks with their stored schedule.
	Tasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// History returns recent results of a task, newest first.
	History(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)
}
