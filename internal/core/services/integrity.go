package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure IntegrityService implements the interface.
var _ driving.IntegrityService = (*IntegrityService)(nil)

// IntegrityService finds and repairs drift between the record of truth and
// the vector and keyword indexes. Every check is safe to run repeatedly: a
// second run with no writes in between finds nothing.
type IntegrityService struct {
	storage  *StorageLayer
	progress driven.ProgressStore
	queue    *IndexingQueue

	now func() time.Time
}

// NewIntegrityService creates an integrity service. Paths whose document
// went missing are re-queued on queue at HIGH priority.
func NewIntegrityService(storage *StorageLayer, progress driven.ProgressStore, queue *IndexingQueue) *IntegrityService {
	return &IntegrityService{
		storage:  storage,
		progress: progress,
		queue:    queue,
		now:      time.Now,
	}
}

// Check runs the given checks, or all of them, without repairing anything.
func (s *IntegrityService) Check(ctx context.Context, kinds ...domain.CheckKind) ([]domain.IntegrityIssue, error) {
	if len(kinds) == 0 {
		kinds = domain.AllChecks()
	}
	var (
		issues []domain.IntegrityIssue
		errs   []error
	)
	for _, kind := range kinds {
		found, _, err := s.run(ctx, kind, true)
		issues = append(issues, found...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return issues, errors.Join(errs...)
}

// RunIntegrityCheck runs every check in order, repairing each finding
// before the next check runs unless dryRun is set.
func (s *IntegrityService) RunIntegrityCheck(ctx context.Context, dryRun bool) (*domain.IntegrityReport, error) {
	logger.Section("Integrity Check")
	report := &domain.IntegrityReport{DryRun: dryRun, StartedAt: s.now()}

	var errs []error
	for _, kind := range domain.AllChecks() {
		issues, actions, err := s.run(ctx, kind, dryRun)
		report.Issues = append(report.Issues, issues...)
		report.Actions = append(report.Actions, actions...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s check: %w", kind, err))
		}
		logger.Debug("%s check: %d issues", kind, len(issues))
	}
	report.FinishedAt = s.now()

	if len(report.Issues) == 0 {
		logger.Info("integrity check: no issues")
	} else {
		logger.Info("integrity check: %d issues, %d actions (dry run: %t)",
			len(report.Issues), len(report.Actions), dryRun)
	}
	return report, errors.Join(errs...)
}

// Repair runs every check and returns the actions, planned or applied.
func (s *IntegrityService) Repair(ctx context.Context, dryRun bool) ([]domain.RepairAction, error) {
	report, err := s.RunIntegrityCheck(ctx, dryRun)
	if report == nil {
		return nil, err
	}
	return report.Actions, err
}

// RebuildIndex rewrites the vector index from stored embeddings.
func (s *IntegrityService) RebuildIndex(ctx context.Context, dryRun bool) (*domain.RepairAction, error) {
	stored, err := s.storage.Documents().Audit().CountEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("count embeddings: %w", err)
	}
	action := &domain.RepairAction{
		Kind:        domain.IssueVectorIndexDrift,
		Target:      "vector_index",
		Description: "rebuild vector index from stored embeddings",
		Before:      s.storage.IndexLen(),
		After:       stored,
	}
	if dryRun {
		return action, nil
	}
	before, after, err := s.storage.RebuildIndex(ctx)
	if err != nil {
		return nil, err
	}
	action.Before, action.After, action.Applied = before, after, true
	return action, nil
}

func (s *IntegrityService) run(ctx context.Context, kind domain.CheckKind, dryRun bool) ([]domain.IntegrityIssue, []domain.RepairAction, error) {
	switch kind {
	case domain.CheckReferential:
		return s.checkReferential(ctx, dryRun)
	case domain.CheckCounts:
		return s.checkCounts(ctx, dryRun)
	case domain.CheckOrphans:
		return s.checkOrphans(ctx, dryRun)
	case domain.CheckIndex:
		return s.checkIndex(ctx, dryRun)
	default:
		return nil, nil, fmt.Errorf("%w: check %q", domain.ErrInvalidInput, kind)
	}
}

func (s *IntegrityService) checkReferential(ctx context.Context, dryRun bool) ([]domain.IntegrityIssue, []domain.RepairAction, error) {
	audit := s.storage.Documents().Audit()
	var (
		issues  []domain.IntegrityIssue
		actions []domain.RepairAction
	)

	chunks, err := audit.DanglingChunks(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("find dangling chunks: %w", err)
	}
	for _, id := range chunks {
		issues = append(issues, domain.IntegrityIssue{
			Check: domain.CheckReferential, Kind: domain.IssueDanglingChunk,
			Target: id, Detail: "chunk references a missing document",
		})
	}
	if len(chunks) > 0 {
		action, err := s.repairCount(ctx, dryRun, domain.RepairAction{
			Kind:        domain.IssueDanglingChunk,
			Target:      "chunks",
			Description: fmt.Sprintf("delete %d chunks without a document", len(chunks)),
		}, audit.CountChunks, func() error {
			if _, err := audit.DeleteDanglingChunks(ctx, chunks); err != nil {
				return err
			}
			if err := s.storage.dropDerived(ctx, chunks); err != nil {
				return err
			}
			return s.storage.Flush()
		})
		if err != nil {
			return issues, actions, fmt.Errorf("delete dangling chunks: %w", err)
		}
		actions = append(actions, action)
	}

	embeddings, err := audit.DanglingEmbeddings(ctx)
	if err != nil {
		return issues, actions, fmt.Errorf("find dangling embeddings: %w", err)
	}
	for _, id := range embeddings {
		issues = append(issues, domain.IntegrityIssue{
			Check: domain.CheckReferential, Kind: domain.IssueDanglingEmbedding,
			Target: id, Detail: "embedding references a missing chunk",
		})
	}
	if len(embeddings) > 0 {
		action, err := s.repairCount(ctx, dryRun, domain.RepairAction{
			Kind:        domain.IssueDanglingEmbedding,
			Target:      "embeddings",
			Description: fmt.Sprintf("delete %d embeddings without a chunk", len(embeddings)),
		}, audit.CountEmbeddings, func() error {
			if _, err := audit.DeleteDanglingEmbeddings(ctx, embeddings); err != nil {
				return err
			}
			if err := s.storage.dropDerived(ctx, embeddings); err != nil {
				return err
			}
			return s.storage.Flush()
		})
		if err != nil {
			return issues, actions, fmt.Errorf("delete dangling embeddings: %w", err)
		}
		actions = append(actions, action)
	}
	return issues, actions, nil
}

func (s *IntegrityService) checkCounts(ctx context.Context, dryRun bool) ([]domain.IntegrityIssue, []domain.RepairAction, error) {
	audit := s.storage.Documents().Audit()
	mismatches, err := audit.CountMismatches(ctx, domain.StatusCompleted)
	if err != nil {
		return nil, nil, fmt.Errorf("compare chunk counts: %w", err)
	}

	var (
		issues  []domain.IntegrityIssue
		actions []domain.RepairAction
	)
	for _, m := range mismatches {
		issues = append(issues, domain.IntegrityIssue{
			Check: domain.CheckCounts, Kind: domain.IssueCountMismatch, Target: m.DocumentID,
			Detail: fmt.Sprintf("total_chunks is %d, %d stored", m.Recorded, m.Actual),
		})
		action := domain.RepairAction{
			Kind:        domain.IssueCountMismatch,
			Target:      m.DocumentID,
			Description: "backfill total_chunks from stored chunks",
			Before:      m.Recorded,
			After:       m.Actual,
		}
		if !dryRun {
			if err := audit.SetTotalChunks(ctx, m.DocumentID, m.Actual); err != nil {
				return issues, actions, fmt.Errorf("backfill %s: %w", m.DocumentID, err)
			}
			action.Applied = true
			logger.Info("repair: %s total_chunks %d -> %d", m.DocumentID, m.Recorded, m.Actual)
		}
		actions = append(actions, action)
	}
	return issues, actions, nil
}

func (s *IntegrityService) checkOrphans(ctx context.Context, dryRun bool) ([]domain.IntegrityIssue, []domain.RepairAction, error) {
	docs := s.storage.Documents()
	var (
		issues  []domain.IntegrityIssue
		actions []domain.RepairAction
	)

	empty, err := docs.Audit().EmptyDocuments(ctx, domain.StatusInProgress)
	if err != nil {
		return nil, nil, fmt.Errorf("find empty documents: %w", err)
	}
	for i := range empty {
		doc := &empty[i]
		issues = append(issues, domain.IntegrityIssue{
			Check: domain.CheckOrphans, Kind: domain.IssueEmptyDocument,
			Target: doc.ID, Detail: fmt.Sprintf("%s has no chunks", doc.Path),
		})
		action := domain.RepairAction{
			Kind:        domain.IssueEmptyDocument,
			Target:      doc.ID,
			Description: fmt.Sprintf("delete document %s without chunks", doc.Path),
			Before:      1,
		}
		if !dryRun {
			if err := s.storage.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return issues, actions, fmt.Errorf("delete empty document %s: %w", doc.ID, err)
			}
			action.Applied = true
			logger.Info("repair: deleted empty document %s (%s)", doc.ID, doc.Path)
		}
		actions = append(actions, action)
	}

	completed, err := s.progress.ListProgress(ctx, domain.StatusCompleted)
	if err != nil {
		return issues, actions, fmt.Errorf("list completed progress: %w", err)
	}
	var missing []domain.ProcessingProgress
	for _, p := range completed {
		if p.DocumentID != "" {
			_, err := docs.GetDocument(ctx, p.DocumentID)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return issues, actions, fmt.Errorf("look up document %s: %w", p.DocumentID, err)
			}
		}
		missing = append(missing, p)
	}
	for i := range missing {
		p := &missing[i]
		issues = append(issues, domain.IntegrityIssue{
			Check: domain.CheckOrphans, Kind: domain.IssueMissingDocument,
			Target: p.Path, Detail: "completed progress without a stored document",
		})
		action := domain.RepairAction{
			Kind:        domain.IssueMissingDocument,
			Target:      p.Path,
			Description: "reset progress to pending and re-queue at high priority",
			Before:      p.ChunksProcessed,
		}
		if !dryRun {
			p.Status = domain.StatusPending
			p.DocumentID = ""
			p.ChunksProcessed = 0
			p.UpdatedAt = s.now()
			if err := s.progress.SaveProgress(ctx, p); err != nil {
				return issues, actions, fmt.Errorf("reset progress %s: %w", p.Path, err)
			}
			if s.queue != nil {
				s.queue.Enqueue(p.Path, domain.PriorityHigh)
			}
			action.Applied = true
			logger.Info("repair: re-queued %s at high priority", p.Path)
		}
		actions = append(actions, action)
	}
	return issues, actions, nil
}

func (s *IntegrityService) checkIndex(ctx context.Context, dryRun bool) ([]domain.IntegrityIssue, []domain.RepairAction, error) {
	audit := s.storage.Documents().Audit()
	var (
		issues  []domain.IntegrityIssue
		actions []domain.RepairAction
	)

	stored, err := audit.CountEmbeddings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("count embeddings: %w", err)
	}
	if indexed := s.storage.IndexLen(); indexed != stored {
		issues = append(issues, domain.IntegrityIssue{
			Check: domain.CheckIndex, Kind: domain.IssueVectorIndexDrift, Target: "vector_index",
			Detail: fmt.Sprintf("index holds %d vectors, %d embeddings stored", indexed, stored),
		})
		action, err := s.RebuildIndex(ctx, dryRun)
		if err != nil {
			return issues, actions, fmt.Errorf("rebuild vector index: %w", err)
		}
		actions = append(actions, *action)
	}

	if s.storage.Keywords() == nil {
		return issues, actions, nil
	}
	chunks, err := audit.CountChunks(ctx)
	if err != nil {
		return issues, actions, fmt.Errorf("count chunks: %w", err)
	}
	indexed, err := s.storage.KeywordCount()
	if err != nil {
		return issues, actions, fmt.Errorf("count keyword index: %w", err)
	}
	if indexed != chunks {
		issues = append(issues, domain.IntegrityIssue{
			Check: domain.CheckIndex, Kind: domain.IssueKeywordIndexDrift, Target: "keyword_index",
			Detail: fmt.Sprintf("keyword index holds %d chunks, %d stored", indexed, chunks),
		})
		action := domain.RepairAction{
			Kind:        domain.IssueKeywordIndexDrift,
			Target:      "keyword_index",
			Description: "rebuild keyword index from stored chunks",
			Before:      indexed,
			After:       chunks,
		}
		if !dryRun {
			before, after, err := s.storage.RebuildKeywords(ctx)
			if err != nil {
				return issues, actions, err
			}
			action.Before, action.After, action.Applied = before, after, true
		}
		actions = append(actions, action)
	}
	return issues, actions, nil
}

// repairCount applies fn unless dryRun and records the count around it.
func (s *IntegrityService) repairCount(
	ctx context.Context,
	dryRun bool,
	action domain.RepairAction,
	count func(context.Context) (int, error),
	fn func() error,
) (domain.RepairAction, error) {
	before, err := count(ctx)
	if err != nil {
		return action, err
	}
	action.Before = before
	action.After = before
	if dryRun {
		return action, nil
	}
	if err := fn(); err != nil {
		return action, err
	}
	after, err := count(ctx)
	if err != nil {
		return action, err
	}
	action.After = after
	action.Applied = true
	logger.Info("repair: %s (%s %d -> %d)", action.Description, action.Target, before, after)
	return action, nil
}
