package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// progressStore implements driven.ProgressStore.
type progressStore struct {
	store *Store
}

var _ driven.ProgressStore = (*progressStore)(nil)

const progressColumns = `path, document_id, content_hash, status, chunks_processed, total_chunks, last_error, retry_count, updated_at`

// GetProgress returns the progress for a path, or ErrNotFound.
func (s *progressStore) GetProgress(ctx context.Context, path string) (*domain.ProcessingProgress, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM processing_progress WHERE path = ?`, path)
	return scanProgress(row)
}

// SaveProgress creates or replaces the progress row.
func (s *progressStore) SaveProgress(ctx context.Context, p *domain.ProcessingProgress) error {
	if p == nil || p.Path == "" {
		return domain.ErrInvalidInput
	}
	return upsertProgress(ctx, s.store.db, p)
}

func upsertProgress(ctx context.Context, db execer, p *domain.ProcessingProgress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = nowUTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO processing_progress (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			document_id = excluded.document_id,
			content_hash = excluded.content_hash,
			status = excluded.status,
			chunks_processed = excluded.chunks_processed,
			total_chunks = excluded.total_chunks,
			last_error = excluded.last_error,
			retry_count = excluded.retry_count,
			updated_at = excluded.updated_at
	`, p.Path, nullString(p.DocumentID), p.ContentHash, string(p.Status), p.ChunksProcessed,
		p.TotalChunks, nullString(p.LastError), p.RetryCount, formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	return nil
}

// ListProgress returns rows in any of the given statuses, or all rows.
func (s *progressStore) ListProgress(ctx context.Context, statuses ...domain.ProgressStatus) ([]domain.ProcessingProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM processing_progress`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY updated_at, path`

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying progress: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingProgress //nolint:prealloc // size unknown from query
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress: %w", err)
	}
	return out, nil
}

// MovePath re-keys a progress row after a file move. A row already at
// newPath is replaced.
func (s *progressStore) MovePath(ctx context.Context, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM processing_progress WHERE path = ?`, newPath); err != nil {
		return fmt.Errorf("moving progress: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE processing_progress SET path = ?, updated_at = ? WHERE path = ?`,
		newPath, formatTime(nowUTC()), oldPath)
	if err != nil {
		return fmt.Errorf("moving progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}

// DeleteProgress removes a row, or returns ErrNotFound.
func (s *progressStore) DeleteProgress(ctx context.Context, path string) error {
	res, err := s.store.db.ExecContext(ctx, `DELETE FROM processing_progress WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("deleting progress: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanProgress(row rowScanner) (*domain.ProcessingProgress, error) {
	var p domain.ProcessingProgress
	var docID, lastError sql.NullString
	var status, updatedAt string
	if err := row.Scan(&p.Path, &docID, &p.ContentHash, &status, &p.ChunksProcessed,
		&p.TotalChunks, &lastError, &p.RetryCount, &updatedAt); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning progress: %w", err)
	}
	p.DocumentID = docID.String
	p.Status = domain.ProgressStatus(status)
	p.LastError = lastError.String
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
