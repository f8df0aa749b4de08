package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown content kind or provider.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrNoChunks indicates extraction produced nothing to index.
	// The document stays retryable rather than being marked completed.
	ErrNoChunks = errors.New("no chunks extracted")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	// Vector/semantic search is disabled without embeddings.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrSearchUnavailable indicates neither retrieval path produced results.
	ErrSearchUnavailable = errors.New("search engine unavailable")

	// ErrVectorIndexUnavailable indicates the vector index is not open.
	ErrVectorIndexUnavailable = errors.New("vector index unavailable")

	// ErrKeywordIndexUnavailable indicates the keyword index is not open.
	ErrKeywordIndexUnavailable = errors.New("keyword index unavailable")

	// ErrIndexLocked indicates another process holds an index open.
	ErrIndexLocked = errors.New("index is locked by another process")

	// ErrDimensionMismatch indicates a vector does not match the index dimension.
	// Changing the embedding model requires rebuilding the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrPipelineStopped indicates the pipeline is not running.
	ErrPipelineStopped = errors.New("pipeline stopped")

	// ErrTransient marks failures worth retrying (timeouts, lock contention).
	ErrTransient = errors.New("transient failure")
)

// transientError tags an error as retryable while keeping its chain intact.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient wraps err so that errors.Is(err, ErrTransient) reports true.
// A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
