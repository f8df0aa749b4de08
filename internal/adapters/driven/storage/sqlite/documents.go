package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, path, content_hash, title, kind, total_chunks, status, created_at, updated_at`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveDocument creates or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}
	return upsertDocument(ctx, s.store.db, doc)
}

func upsertDocument(ctx context.Context, db execer, doc *domain.Document) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			content_hash = excluded.content_hash,
			title = excluded.title,
			kind = excluded.kind,
			total_chunks = excluded.total_chunks,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Path, doc.ContentHash, doc.Title, string(doc.Kind), doc.TotalChunks,
		string(doc.Status), formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentByPath resolves a path, following aliases.
func (s *documentStore) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	doc, err := scanDocument(row)
	if err == nil || !isNotFound(err) {
		return doc, err
	}

	row = s.store.db.QueryRowContext(ctx, `
		SELECT d.id, d.path, d.content_hash, d.title, d.kind, d.total_chunks, d.status, d.created_at, d.updated_at
		FROM document_aliases a JOIN documents d ON d.id = a.document_id
		WHERE a.path = ?
	`, path)
	return scanDocument(row)
}

// GetDocumentByHash finds the most recently updated document with the hash.
func (s *documentStore) GetDocumentByHash(ctx context.Context, hash string) (*domain.Document, error) {
	if hash == "" {
		return nil, domain.ErrNotFound
	}
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE content_hash = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, hash)
	return scanDocument(row)
}

// ListDocuments returns every document ordered by path.
func (s *documentStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY path`)
}

func (s *documentStore) queryDocuments(ctx context.Context, query string, args ...any) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// MoveDocument changes the path of a document without touching its chunks.
// An alias previously registered for the new path is dropped.
func (s *documentStore) MoveDocument(ctx context.Context, id, newPath string) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET path = ?, updated_at = ? WHERE id = ?`,
		newPath, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("moving document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_aliases WHERE path = ?`, newPath); err != nil {
		return fmt.Errorf("moving document: %w", err)
	}
	return tx.Commit()
}

// AddAlias links an additional path to an existing document.
func (s *documentStore) AddAlias(ctx context.Context, path, documentID string) error {
	if path == "" || documentID == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO document_aliases (path, document_id) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET document_id = excluded.document_id
	`, path, documentID)
	if err != nil {
		return fmt.Errorf("adding alias: %w", err)
	}
	return nil
}

// RemoveAlias unlinks an alias path.
func (s *documentStore) RemoveAlias(ctx context.Context, path string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM document_aliases WHERE path = ?`, path); err != nil {
		return fmt.Errorf("removing alias: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and cascades to its chunks and embeddings.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// SaveChunkBatch stores the document row, chunks, embeddings and progress
// checkpoint in one transaction. Either all of it is visible or none.
func (s *documentStore) SaveChunkBatch(ctx context.Context, batch driven.ChunkBatch) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transient(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	if batch.Document != nil {
		if err := upsertDocument(ctx, tx, batch.Document); err != nil {
			return err
		}
	}

	if len(batch.Chunks) > 0 {
		chunkStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, seq, content, token_count, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				document_id = excluded.document_id,
				seq = excluded.seq,
				content = excluded.content,
				token_count = excluded.token_count,
				metadata = excluded.metadata
		`)
		if err != nil {
			return fmt.Errorf("preparing chunk statement: %w", err)
		}
		defer chunkStmt.Close()

		embStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO embeddings (chunk_id, dimension, vector) VALUES (?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				dimension = excluded.dimension,
				vector = excluded.vector
		`)
		if err != nil {
			return fmt.Errorf("preparing embedding statement: %w", err)
		}
		defer embStmt.Close()

		for i := range batch.Chunks {
			c := &batch.Chunks[i]
			metadata, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("marshalling chunk metadata: %w", err)
			}
			if _, err := chunkStmt.ExecContext(ctx, c.ID, c.DocumentID, c.Seq, c.Content,
				c.TokenCount, string(metadata)); err != nil {
				return fmt.Errorf("saving chunk %s: %w", c.ID, err)
			}
			if len(c.Embedding) == 0 {
				continue
			}
			if _, err := embStmt.ExecContext(ctx, c.ID, len(c.Embedding),
				float32SliceToBytes(c.Embedding)); err != nil {
				return fmt.Errorf("saving embedding %s: %w", c.ID, err)
			}
		}
	}

	if batch.Progress != nil {
		if err := upsertProgress(ctx, tx, batch.Progress); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Transient(fmt.Errorf("committing chunk batch: %w", err))
	}
	return nil
}

const chunkSelect = `
	SELECT c.id, c.document_id, c.seq, c.content, c.token_count, c.metadata, e.vector
	FROM chunks c LEFT JOIN embeddings e ON e.chunk_id = c.id`

// GetChunk retrieves a chunk by ID, including its embedding.
func (s *documentStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx, chunkSelect+` WHERE c.id = ?`, id)
	return scanChunk(row)
}

// GetChunks returns the chunks of a document ordered by sequence.
func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx,
		chunkSelect+` WHERE c.document_id = ? ORDER BY c.seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// DeleteChunks removes every chunk of a document.
func (s *documentStore) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// EachEmbedding streams every stored embedding.
func (s *documentStore) EachEmbedding(ctx context.Context, fn func(chunkID string, vector []float32) error) error {
	rows, err := s.store.db.QueryContext(ctx, `SELECT chunk_id, vector FROM embeddings ORDER BY chunk_id`)
	if err != nil {
		return fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scanning embedding: %w", err)
		}
		if err := fn(id, bytesToFloat32Slice(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EachChunk streams every stored chunk with its document title.
func (s *documentStore) EachChunk(ctx context.Context, fn func(title string, chunk domain.Chunk) error) error {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT d.title, c.id, c.document_id, c.seq, c.content, c.token_count, c.metadata
		FROM chunks c JOIN documents d ON d.id = c.document_id
		ORDER BY c.document_id, c.seq
	`)
	if err != nil {
		return fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var title string
		var c domain.Chunk
		var metadata sql.NullString
		if err := rows.Scan(&title, &c.ID, &c.DocumentID, &c.Seq, &c.Content, &c.TokenCount, &metadata); err != nil {
			return fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Metadata, err = decodeMetadata(metadata); err != nil {
			return err
		}
		if err := fn(title, c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Audit exposes the integrity queries.
func (s *documentStore) Audit() driven.AuditStore {
	return &auditStore{store: s.store}
}

// ==================== Scanners ====================

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var kind, status, createdAt, updatedAt string
	if err := row.Scan(&doc.ID, &doc.Path, &doc.ContentHash, &doc.Title, &kind,
		&doc.TotalChunks, &status, &createdAt, &updatedAt); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.Kind = domain.ContentKind(kind)
	doc.Status = domain.ProgressStatus(status)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var c domain.Chunk
	var metadata sql.NullString
	var vector []byte
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Content, &c.TokenCount, &metadata, &vector); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	var err error
	if c.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	c.Embedding = bytesToFloat32Slice(vector)
	return &c, nil
}

func decodeMetadata(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshalling chunk metadata: %w", err)
	}
	return m, nil
}
