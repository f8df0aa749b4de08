package sqlite

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// auditStore implements driven.AuditStore.
type auditStore struct {
	store *Store
}

var _ driven.AuditStore = (*auditStore)(nil)

// DanglingChunks returns IDs of chunks whose document is missing.
func (s *auditStore) DanglingChunks(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT c.id FROM chunks c
		LEFT JOIN documents d ON d.id = c.document_id
		WHERE d.id IS NULL
		ORDER BY c.id
	`)
}

// DanglingEmbeddings returns chunk IDs of embeddings whose chunk is missing.
func (s *auditStore) DanglingEmbeddings(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT e.chunk_id FROM embeddings e
		LEFT JOIN chunks c ON c.id = e.chunk_id
		WHERE c.id IS NULL
		ORDER BY e.chunk_id
	`)
}

// DeleteDanglingChunks removes chunks and their embeddings by ID.
func (s *auditStore) DeleteDanglingChunks(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	in := placeholders(len(ids))
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE chunk_id IN (`+in+`)`, stringArgs(ids)...); err != nil {
		return 0, fmt.Errorf("deleting dangling embeddings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id IN (`+in+`)`, stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("deleting dangling chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return int(n), nil
}

// DeleteDanglingEmbeddings removes embeddings by chunk ID.
func (s *auditStore) DeleteDanglingEmbeddings(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.store.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE chunk_id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("deleting dangling embeddings: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountMismatches compares total_chunks with stored chunks for documents
// in the given status.
func (s *auditStore) CountMismatches(ctx context.Context, status domain.ProgressStatus) ([]driven.CountMismatch, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT d.id, d.total_chunks, COUNT(c.id) AS actual
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		WHERE d.status = ?
		GROUP BY d.id, d.total_chunks
		HAVING d.total_chunks != COUNT(c.id)
		ORDER BY d.id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying count mismatches: %w", err)
	}
	defer rows.Close()

	var out []driven.CountMismatch //nolint:prealloc // size unknown from query
	for rows.Next() {
		var m driven.CountMismatch
		if err := rows.Scan(&m.DocumentID, &m.Recorded, &m.Actual); err != nil {
			return nil, fmt.Errorf("scanning count mismatch: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count mismatches: %w", err)
	}
	return out, nil
}

// SetTotalChunks persists a recomputed chunk total.
func (s *auditStore) SetTotalChunks(ctx context.Context, documentID string, total int) error {
	res, err := s.store.db.ExecContext(ctx,
		`UPDATE documents SET total_chunks = ?, updated_at = ? WHERE id = ?`,
		total, formatTime(nowUTC()), documentID)
	if err != nil {
		return fmt.Errorf("setting total chunks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// EmptyDocuments returns documents with no chunks, excluding the given status.
func (s *auditStore) EmptyDocuments(ctx context.Context, exclude domain.ProgressStatus) ([]domain.Document, error) {
	docs := &documentStore{store: s.store}
	return docs.queryDocuments(ctx, `
		SELECT d.id, d.path, d.content_hash, d.title, d.kind, d.total_chunks, d.status, d.created_at, d.updated_at
		FROM documents d
		WHERE d.status != ?
		AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = d.id)
		ORDER BY d.path
	`, string(exclude))
}

// CountEmbeddings returns the number of stored embeddings.
func (s *auditStore) CountEmbeddings(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM embeddings`)
}

// CountChunks returns the number of stored chunks.
func (s *auditStore) CountChunks(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM chunks`)
}

func (s *auditStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.store.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}

func (s *auditStore) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
