package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// DocumentStore is the record of truth for documents, chunks and embeddings.
// Writes that span several rows happen in one explicit transaction.
type DocumentStore interface {
	// SaveDocument creates or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// GetDocumentByPath resolves a path, following aliases.
	GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error)

	// GetDocumentByHash finds the active document with the given content hash.
	GetDocumentByHash(ctx context.Context, hash string) (*domain.Document, error)

	// ListDocuments returns every document ordered by path.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// MoveDocument changes the path of a document without touching its chunks.
	MoveDocument(ctx context.Context, id, newPath string) error

	// AddAlias links an additional path to an existing document.
	AddAlias(ctx context.Context, path, documentID string) error

	// RemoveAlias unlinks an alias path.
	RemoveAlias(ctx context.Context, path string) error

	// DeleteDocument removes a document and cascades to its chunks and embeddings.
	DeleteDocument(ctx context.Context, id string) error

	// SaveChunkBatch stores chunks, their embeddings and the progress
	// checkpoint in a single transaction.
	SaveChunkBatch(ctx context.Context, batch ChunkBatch) error

	// GetChunk retrieves a chunk by ID, including its embedding.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// GetChunks returns the chunks of a document ordered by sequence,
	// including embeddings.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// DeleteChunks removes every chunk of a document.
	DeleteChunks(ctx context.Context, documentID string) error

	// EachEmbedding streams every stored embedding.
	EachEmbedding(ctx context.Context, fn func(chunkID string, vector []float32) error) error

	// EachChunk streams every stored chunk with its document title.
	EachChunk(ctx context.Context, fn func(title string, chunk domain.Chunk) error) error

	// Audit exposes the queries used by integrity checks.
	Audit() AuditStore
}

// ChunkBatch is one transactional unit of pipeline output.
type ChunkBatch struct {
	Document *domain.Document
	Chunks   []domain.Chunk
	Progress *domain.ProcessingProgress
}

// CountMismatch is a document whose recorded chunk total disagrees with storage.
type CountMismatch struct {
	DocumentID string
	Recorded   int
	Actual     int
}

// AuditStore runs the consistency queries of the integrity service.
type AuditStore interface {
	// DanglingChunks returns IDs of chunks whose document is missing.
	DanglingChunks(ctx context.Context) ([]string, error)

	// DanglingEmbeddings returns chunk IDs of embeddings whose chunk is missing.
	DanglingEmbeddings(ctx context.Context) ([]string, error)

	// DeleteDanglingChunks removes chunks (and embeddings) by ID.
	DeleteDanglingChunks(ctx context.Context, ids []string) (int, error)

	// DeleteDanglingEmbeddings removes embeddings by chunk ID.
	DeleteDanglingEmbeddings(ctx context.Context, ids []string) (int, error)

	// CountMismatches compares total_chunks with stored chunks for
	// documents in the given status.
	CountMismatches(ctx context.Context, status domain.ProgressStatus) ([]CountMismatch, error)

	// SetTotalChunks persists a recomputed chunk total.
	SetTotalChunks(ctx context.Context, documentID string, total int) error

	// EmptyDocuments returns documents with no chunks, excluding the given status.
	EmptyDocuments(ctx context.Context, exclude domain.ProgressStatus) ([]domain.Document, error)

	// CountEmbeddings returns the number of stored embeddings.
	CountEmbeddings(ctx context.Context) (int, error)

	// CountChunks returns the number of stored chunks.
	CountChunks(ctx context.Context) (int, error)
}
