package status

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestBar_SetQueueDerivesState(t *testing.T) {
	bar := NewBar(nil, nil)
	assert.Equal(t, StateMonitoring, bar.State())

	bar.SetQueue(domain.QueueStatus{HighPending: 2})
	assert.Equal(t, StateMonitoring, bar.State())

	bar.SetQueue(domain.QueueStatus{HighPending: 2, Paused: true})
	assert.Equal(t, StatePaused, bar.State())

	bar.SetQueue(domain.QueueStatus{})
	assert.Equal(t, StateIdle, bar.State())

	bar.SetQueue(domain.QueueStatus{Active: []domain.ActiveItem{{Path: "/a"}}})
	assert.Equal(t, StateMonitoring, bar.State())
}

func TestBar_View(t *testing.T) {
	bar := NewBar(nil, nil)
	bar.SetWidth(120)

	bar.SetQueue(domain.QueueStatus{HighPending: 1, NormalPending: 4})
	view := bar.View()
	assert.Contains(t, view, "Indexing")
	assert.Contains(t, view, "1 high, 4 normal, 0 active")
	assert.Contains(t, view, "p: pause")

	bar.SetQueue(domain.QueueStatus{Paused: true})
	assert.Contains(t, bar.View(), "Paused")

	bar.SetState(StateError)
	bar.SetMessage("server gone")
	assert.Contains(t, bar.View(), "Error: server gone")

	bar.Clear()
	assert.Equal(t, StatePaused, bar.State())
	assert.Empty(t, bar.Message())

	bar.SetState(StateResults)
	bar.SetResultCount(3)
	view = bar.View()
	assert.Contains(t, view, "3 results")
	assert.Contains(t, view, "n: new query")

	bar.SetState(StateReady)
	view = bar.View()
	assert.Contains(t, view, "Ready")
	assert.Contains(t, view, "q: quit")
}
