// Package status provides status bar components for the TUI.
package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// State represents the current application state for display.
type State string

const (
	StateMonitoring State = "monitoring"
	StatePaused     State = "paused"
	StateIdle       State = "idle"
	StateSearching  State = "searching"
	StateResults    State = "results"
	StateError      State = "error"
	StateReady      State = "ready"
)

// Bar displays queue state and keybinding hints.
type Bar struct {
	styles      *styles.Styles
	keymap      *keymap.KeyMap
	state       State
	message     string
	queue       domain.QueueStatus
	resultCount int
	width       int
}

// NewBar creates a new status bar component.
func NewBar(s *styles.Styles, km *keymap.KeyMap) *Bar {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}

	return &Bar{
		styles: s,
		keymap: km,
		state:  StateMonitoring,
		width:  80,
	}
}

// View renders the status bar.
func (s *Bar) View() string {
	left := s.renderLeft()
	right := s.renderRight()

	padding := s.width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 1 {
		padding = 1
	}

	return s.styles.StatusBar.Width(s.width).Render(
		left + strings.Repeat(" ", padding) + right,
	)
}

// renderLeft renders the state and message.
func (s *Bar) renderLeft() string {
	var text string
	switch s.state {
	case StateError:
		if s.message != "" {
			return s.styles.Error.Render("Error: " + s.message)
		}
		return s.styles.Error.Render("Error")
	case StateSearching:
		return s.styles.Muted.Render("Searching...")
	case StateResults:
		text = fmt.Sprintf("%d results", s.resultCount)
	case StatePaused:
		return s.styles.Warning.Render("Paused · " + s.queueSummary())
	case StateIdle:
		text = "Idle · " + s.queueSummary()
	case StateMonitoring:
		text = "Indexing · " + s.queueSummary()
	case StateReady:
		text = "Ready"
	}
	if s.message != "" {
		text += " · " + s.message
	}
	return s.styles.Normal.Render(text)
}

func (s *Bar) queueSummary() string {
	return fmt.Sprintf("%d high, %d normal, %d active",
		s.queue.HighPending, s.queue.NormalPending, len(s.queue.Active))
}

// renderRight renders keybinding hints.
func (s *Bar) renderRight() string {
	var bindings []key.Binding
	switch s.state {
	case StateResults:
		bindings = s.keymap.ResultsHelp()
	case StateMonitoring, StatePaused, StateIdle:
		bindings = s.keymap.MonitorHelp()
	default:
		bindings = s.keymap.ShortHelp()
	}

	hints := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		hints = append(hints, fmt.Sprintf("%s: %s", h.Key, h.Desc))
	}
	return s.styles.Muted.Render(strings.Join(hints, " | "))
}

// SetQueue records the latest queue status and derives the state from it.
func (s *Bar) SetQueue(st domain.QueueStatus) {
	s.queue = st
	switch {
	case st.Paused:
		s.state = StatePaused
	case st.Size() == 0 && len(st.Active) == 0:
		s.state = StateIdle
	default:
		s.state = StateMonitoring
	}
}

// SetState sets the current state.
func (s *Bar) SetState(state State) {
	s.state = state
}

// State returns the current state.
func (s *Bar) State() State {
	return s.state
}

// SetMessage sets a custom message.
func (s *Bar) SetMessage(message string) {
	s.message = message
}

// Message returns the current message.
func (s *Bar) Message() string {
	return s.message
}

// SetResultCount sets the result count.
func (s *Bar) SetResultCount(count int) {
	s.resultCount = count
}

// SetWidth sets the status bar width.
func (s *Bar) SetWidth(width int) {
	s.width = width
}

// Clear resets the message and error state.
func (s *Bar) Clear() {
	s.message = ""
	s.resultCount = 0
	s.SetQueue(s.queue)
}
