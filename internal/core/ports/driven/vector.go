package driven

import "context"

// VectorIndex provides approximate nearest neighbour search.
//
// Inserts only mutate the in-memory representation. The on-disk file is
// rewritten wholesale by Close, so a writer makes data durable by closing
// and reopening its connection. A connection that must not overwrite the
// file (a stale reader) is released with Discard instead.
type VectorIndex interface {
	// Add inserts or replaces the vector for the given chunk ID.
	Add(ctx context.Context, chunkID string, embedding []float32) error

	// Delete removes a vector from the index. Missing IDs are ignored.
	Delete(ctx context.Context, chunkID string) error

	// Search returns up to k nearest neighbours ordered by similarity.
	// Breadth controls how much of the index is explored; it must be positive.
	Search(ctx context.Context, query []float32, k, breadth int) ([]VectorHit, error)

	// Len returns the number of vectors held in memory.
	Len() int

	// Dimension returns the fixed vector size of the index.
	Dimension() int

	// Reset drops every vector from the in-memory state.
	Reset() error

	// Close persists the in-memory state to disk and releases the connection.
	Close() error

	// Discard releases the connection without persisting anything.
	Discard() error
}

// VectorIndexOpener opens a new connection to the persistent vector index.
type VectorIndexOpener func() (VectorIndex, error)

// VectorHit represents a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Similarity is the cosine similarity score (-1 to 1).
	Similarity float64
}
