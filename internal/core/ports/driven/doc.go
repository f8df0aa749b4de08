// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - DocumentStore: record of truth for documents, chunks and embeddings (SQLite)
//   - ProgressStore: per-path pipeline checkpoints (SQLite)
//   - VectorIndex: approximate nearest neighbour index with flush-on-close persistence
//   - KeywordIndex: probabilistic keyword scoring (Bleve)
//   - EmbeddingService: turns text into fixed-dimension vectors
//   - ExtractorRegistry: routes a file to the extractor for its ContentKind
//   - ConfigStore: application configuration
//
// # Optional Interfaces
//
//   - Reranker: reorders the top fused candidates. Nil disables reranking.
//   - TaskStore: maintenance task schedules and run history.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or extractor package
package driven
