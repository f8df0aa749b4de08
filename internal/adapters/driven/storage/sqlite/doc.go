// Package sqlite provides the SQLite record of truth for the indexer.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. One database holds:
//
//   - DocumentStore: documents, path aliases, chunks and embeddings
//   - ProgressStore: per-path pipeline checkpoints
//   - AuditStore: consistency queries used by the integrity service
//   - TaskStore: maintenance task schedules and run history
//
// # Transactions
//
// A chunk batch (chunks, embeddings, progress checkpoint and document
// totals) is written in one explicit transaction, so a partially stored
// batch is never observable.
//
// # Schema
//
// The schema is managed through versioned migrations embedded from the
// migrations/ directory. Applied versions are recorded in schema_migrations.
package sqlite
