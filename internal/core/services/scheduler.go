package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyRetention is how many results are kept per task.
const historyRetention = 100

// Resumer re-queues paths whose processing never completed.
type Resumer interface {
	RequeueUnfinished(ctx context.Context) (int, error)
}

// Scheduler manages background maintenance tasks.
type Scheduler struct {
	config    domain.SchedulerConfig
	store     driven.TaskStore
	integrity driving.IntegrityService
	resumer   Resumer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// inflight prevents the same task from overlapping with itself.
	inflight map[string]bool
	tick     time.Duration
}

// NewScheduler creates a scheduler with configuration. Either of integrity
// and resumer may be nil, in which case its task does nothing.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.TaskStore,
	integrity driving.IntegrityService,
	resumer Resumer,
) *Scheduler {
	return &Scheduler{
		config:    config,
		store:     store,
		integrity: integrity,
		resumer:   resumer,
		inflight:  make(map[string]bool),
		tick:      time.Minute,
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logger.Debug("scheduler disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.initialiseTasks(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	return s.run(ctx)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()

	return nil
}

// RunNow executes a task immediately and waits for it to finish. The next
// scheduled run is pushed back by one interval.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	task, err := s.task(ctx, taskID)
	if err != nil {
		return err
	}
	if !s.claim(taskID) {
		return fmt.Errorf("%w: task %s is already running", domain.ErrInvalidInput, taskID)
	}
	s.wg.Add(1)
	result := s.execute(ctx, task)
	if !result.Success {
		return fmt.Errorf("task %s: %s", taskID, result.Error)
	}
	return nil
}

var taskNames = map[string]string{
	domain.TaskIDIntegrityCheck: "Integrity Check",
	domain.TaskIDResumeScan:     "Resume Scan",
}

var taskOrder = []string{domain.TaskIDIntegrityCheck, domain.TaskIDResumeScan}

// task returns the stored state of a built-in task, or its configured
// defaults when it has never been saved.
func (s *Scheduler) task(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	name, ok := taskNames[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown task %q", domain.ErrNotFound, id)
	}
	task, err := s.store.GetTask(ctx, id)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	cfg := s.config.GetTaskConfig(id)
	return &domain.ScheduledTask{ID: id, Name: name, Interval: cfg.Interval, Enabled: cfg.Enabled}, nil
}

// Tasks returns every built-in task in a fixed order.
func (s *Scheduler) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	tasks := make([]domain.ScheduledTask, 0, len(taskOrder))
	for _, id := range taskOrder {
		task, err := s.task(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

// History returns up to limit recent results of a task, newest first.
func (s *Scheduler) History(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	if _, ok := taskNames[taskID]; !ok {
		return nil, fmt.Errorf("%w: unknown task %q", domain.ErrNotFound, taskID)
	}
	return s.store.TaskHistory(ctx, taskID, limit)
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	for _, id := range taskOrder {
		taskCfg := s.config.GetTaskConfig(id)
		if !taskCfg.Enabled {
			continue
		}
		if err := s.ensureTask(ctx, id, taskNames[id], taskCfg); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  cfg.Enabled,
			NextRun:  time.Now().Add(cfg.Interval),
		}
	} else {
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			// Recalculate next run from now
			task.NextRun = time.Now().Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	// Check for due tasks immediately on startup
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := time.Now()
	for i := range tasks {
		task := &tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, task)
		}
	}
}

// runTask executes a single task in the background.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	if _, ok := taskNames[task.ID]; !ok {
		logger.Warn("scheduler: unknown task ID: %s", task.ID)
		return
	}
	if !s.claim(task.ID) {
		logger.Debug("scheduler: %s still running, skipping", task.ID)
		return
	}
	s.wg.Add(1)
	go s.execute(ctx, task)
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

// execute runs a claimed task and records its result.
func (s *Scheduler) execute(ctx context.Context, task *domain.ScheduledTask) *domain.TaskResult {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, task.ID)
		s.mu.Unlock()
	}()

	result := &domain.TaskResult{
		TaskID:    task.ID,
		StartedAt: time.Now(),
	}

	var err error
	switch task.ID {
	case domain.TaskIDIntegrityCheck:
		result.ItemsProcessed, err = s.runIntegrityCheck(ctx)
	case domain.TaskIDResumeScan:
		result.ItemsProcessed, err = s.runResumeScan(ctx)
	}

	result.EndedAt = time.Now()
	if err != nil {
		result.Error = err.Error()
		task.LastError = err.Error()
		logger.Warn("scheduler: %s failed: %v", task.ID, err)
	} else {
		result.Success = true
		task.LastError = ""
		task.LastSuccess = result.EndedAt
		logger.Debug("scheduler: %s done, %d items", task.ID, result.ItemsProcessed)
	}

	task.LastRun = result.StartedAt
	task.NextRun = result.EndedAt.Add(task.Interval)

	if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
		logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
	}
	if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
		logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
	}
	if pruneErr := s.store.PruneHistory(ctx, historyRetention); pruneErr != nil {
		logger.Warn("scheduler: failed to prune history: %v", pruneErr)
	}
	return result
}

// runIntegrityCheck repairs drift and returns the number of applied actions.
func (s *Scheduler) runIntegrityCheck(ctx context.Context) (int, error) {
	if s.integrity == nil {
		return 0, nil
	}
	report, err := s.integrity.RunIntegrityCheck(ctx, false)
	if report == nil {
		return 0, err
	}
	applied := 0
	for _, a := range report.Actions {
		if a.Applied {
			applied++
		}
	}
	return applied, err
}

// runResumeScan re-queues unfinished paths.
func (s *Scheduler) runResumeScan(ctx context.Context) (int, error) {
	if s.resumer == nil {
		return 0, nil
	}
	return s.resumer.RequeueUnfinished(ctx)
}
