// Package messages defines Bubbletea message types for the TUI.
// Messages represent events and commands that flow through the Elm architecture.
package messages

import (
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// Tick asks the monitor to poll the queue again.
type Tick struct {
	At time.Time
}

// StatusLoaded carries a queue status snapshot.
type StatusLoaded struct {
	Status domain.QueueStatus
	Err    error
}

// ControlAction names a queue control.
type ControlAction string

// Queue controls.
const (
	ActionPause  ControlAction = "pause"
	ActionResume ControlAction = "resume"
	ActionClear  ControlAction = "clear"
)

// ControlDone reports the outcome of a queue control.
type ControlDone struct {
	Action  ControlAction
	Dropped int
	Err     error
}

// SearchCompleted carries query results back to the model.
type SearchCompleted struct {
	Query    string
	Response *domain.QueryResponse
	Err      error
}

// ViewChanged is sent when navigating between views.
type ViewChanged struct {
	View ViewType
}

// ViewType identifies which view is currently active.
type ViewType int

const (
	// ViewMonitor shows the indexing queue.
	ViewMonitor ViewType = iota
	// ViewSearch is the query input and results view.
	ViewSearch
	// ViewHelp is the help/keybindings view.
	ViewHelp
)

// String returns the string representation of the view type.
func (v ViewType) String() string {
	switch v {
	case ViewMonitor:
		return "monitor"
	case ViewSearch:
		return "search"
	case ViewHelp:
		return "help"
	default:
		return "unknown"
	}
}

// ErrorOccurred signals that an error happened.
type ErrorOccurred struct {
	Err error
}

// Idle is sent once the queue has drained and nothing is in flight.
type Idle struct{}

// Quit signals the application should exit.
type Quit struct{}
