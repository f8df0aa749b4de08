// Package services contains the indexer core: the priority queue, the
// chunk-embed-store pipeline, the storage layer that keeps SQLite and both
// indexes consistent, hybrid retrieval, integrity repair and scheduling.
//
// Services depend only on domain types and driven ports.
package services
