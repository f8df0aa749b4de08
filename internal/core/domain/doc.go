// Package domain defines the core business entities for the indexer.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: an ingested file identified by its content hash
//   - Chunk: an ordered, retrievable slice of a document
//   - ProcessingProgress: per-path pipeline state used for resumption
//   - QueueItem: a pending unit of indexing work
//   - SearchResult: a fused, explainable query hit
//   - IntegrityReport: findings and repairs of the integrity checks
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
