package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestTaskStore_SaveGetList(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	tasks := store.TaskStore()
	ctx := context.Background()

	_, err := tasks.GetTask(ctx, domain.TaskIDResumeScan)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	next := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	require.NoError(t, tasks.SaveTask(ctx, &domain.ScheduledTask{
		ID: domain.TaskIDResumeScan, Name: "Resume Scan",
		Interval: 15 * time.Minute, NextRun: next, Enabled: true,
	}))
	require.NoError(t, tasks.SaveTask(ctx, &domain.ScheduledTask{
		ID: domain.TaskIDIntegrityCheck, Name: "Integrity Check", Interval: 6 * time.Hour,
	}))

	got, err := tasks.GetTask(ctx, domain.TaskIDResumeScan)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, got.Interval)
	assert.True(t, got.NextRun.Equal(next))
	assert.True(t, got.LastRun.IsZero())
	assert.Empty(t, got.LastError)
	assert.True(t, got.Enabled)

	got.LastError = "disk full"
	got.LastRun = next
	got.Enabled = false
	require.NoError(t, tasks.SaveTask(ctx, got))

	all, err := tasks.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.TaskIDIntegrityCheck, all[0].ID, "ordered by id")
	assert.Equal(t, "disk full", all[1].LastError)
	assert.False(t, all[1].Enabled)
	assert.True(t, all[1].LastRun.Equal(next))

	assert.ErrorIs(t, tasks.SaveTask(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, tasks.SaveTask(ctx, &domain.ScheduledTask{}), domain.ErrInvalidInput)
}

func TestTaskStore_HistoryAndPrune(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	tasks := store.TaskStore()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		result := &domain.TaskResult{
			TaskID: domain.TaskIDIntegrityCheck, StartedAt: start, EndedAt: start.Add(time.Second),
			Success: true, ItemsProcessed: i,
		}
		if i == 3 {
			result.Success = false
			result.Error = "boom"
		}
		require.NoError(t, tasks.RecordResult(ctx, result))
	}
	require.NoError(t, tasks.RecordResult(ctx, &domain.TaskResult{
		TaskID: domain.TaskIDResumeScan, StartedAt: base, EndedAt: base, Success: true,
	}))

	history, err := tasks.TaskHistory(ctx, domain.TaskIDIntegrityCheck, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 4, history[0].ItemsProcessed, "newest first")
	assert.False(t, history[1].Success)
	assert.Equal(t, "boom", history[1].Error)
	assert.True(t, history[0].StartedAt.Equal(base.Add(4*time.Minute)))

	empty, err := tasks.TaskHistory(ctx, domain.TaskIDIntegrityCheck, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, tasks.PruneHistory(ctx, 2))
	history, err = tasks.TaskHistory(ctx, domain.TaskIDIntegrityCheck, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[1].ItemsProcessed)

	resume, err := tasks.TaskHistory(ctx, domain.TaskIDResumeScan, 10)
	require.NoError(t, err)
	assert.Len(t, resume, 1, "pruning is per task")

	assert.ErrorIs(t, tasks.RecordResult(ctx, nil), domain.ErrInvalidInput)
}
