// Package tui provides the interactive queue monitor and query screen.
// It is a driving adapter over the indexing and query ports.
package tui

import (
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/views/monitor"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
)

// QueueController reads and controls the indexing queue.
type QueueController = monitor.Controller

// Ports aggregates the services the TUI drives.
type Ports struct {
	// Queue is required.
	Queue QueueController

	// Search enables the query view when set.
	Search driving.QueryService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p == nil || p.Queue == nil {
		return ErrMissingQueueController
	}
	return nil
}
