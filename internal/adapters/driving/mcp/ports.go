package mcp

import (
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Query answers hybrid queries.
	Query driving.QueryService

	// Indexing accepts paths and controls the queue. Optional.
	Indexing driving.IndexingService

	// Integrity runs consistency checks. Optional.
	Integrity driving.IntegrityService

	// Document serves document content. Optional.
	Document driving.DocumentService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Query == nil {
		return ErrMissingQueryService
	}
	return nil
}
