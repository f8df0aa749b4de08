package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// TaskStore keeps maintenance task schedules and run history across restarts.
type TaskStore interface {
	// GetTask returns domain.ErrNotFound for a task that was never saved.
	GetTask(ctx context.Context, id string) (*domain.ScheduledTask, error)

	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask inserts or replaces a task by ID.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// TaskHistory returns up to limit results of one task, newest first.
	TaskHistory(ctx context.Context, id string, limit int) ([]domain.TaskResult, error)

	// PruneHistory keeps the newest keep results of every task.
	PruneHistory(ctx context.Context, keep int) error
}
