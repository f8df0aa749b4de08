package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

type stubQueue struct {
	status domain.QueueStatus
}

func (s *stubQueue) QueueStatus(context.Context) (domain.QueueStatus, error) { return s.status, nil }
func (s *stubQueue) Pause(context.Context) error                            { s.status.Paused = true; return nil }
func (s *stubQueue) Resume(context.Context) error                           { s.status.Paused = false; return nil }
func (s *stubQueue) Clear(context.Context) (int, error)                     { return 0, nil }

type stubQuery struct{}

func (stubQuery) Query(context.Context, string, domain.QueryOptions) (*domain.QueryResponse, error) {
	return &domain.QueryResponse{Mode: domain.SearchModeHybrid}, nil
}

func newTestApp(t *testing.T, ports *Ports, opts Options) *App {
	t.Helper()
	app, err := NewApp(ports, opts)
	require.NoError(t, err)
	app.SetDimensions(100, 30)
	return app
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPorts_Validate(t *testing.T) {
	var nilPorts *Ports
	assert.ErrorIs(t, nilPorts.Validate(), ErrMissingQueueController)
	assert.ErrorIs(t, (&Ports{Search: stubQuery{}}).Validate(), ErrMissingQueueController)
	assert.NoError(t, (&Ports{Queue: &stubQueue{}}).Validate())
}

func TestNewApp(t *testing.T) {
	_, err := NewApp(&Ports{}, Options{})
	assert.ErrorIs(t, err, ErrMissingQueueController)

	app, err := NewApp(&Ports{Queue: &stubQueue{}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, messages.ViewMonitor, app.CurrentView())
	assert.Nil(t, app.Search())
	assert.False(t, app.Ready())
	assert.Equal(t, "Initialising...", app.View())
	assert.NotNil(t, app.Init())
	assert.Same(t, app, app.WithContext(context.Background()))
}

func TestApp_WindowSize(t *testing.T) {
	app, err := NewApp(&Ports{Queue: &stubQueue{}, Search: stubQuery{}}, Options{})
	require.NoError(t, err)

	model, cmd := app.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	assert.Equal(t, app, model)
	assert.Nil(t, cmd)
	assert.True(t, app.Ready())
	assert.True(t, app.Search().Ready())
}

func TestApp_StatusReachesMonitorFromAnyView(t *testing.T) {
	app := newTestApp(t, &Ports{Queue: &stubQueue{}, Search: stubQuery{}}, Options{})
	app.Update(messages.ViewChanged{View: messages.ViewSearch})
	require.Equal(t, messages.ViewSearch, app.CurrentView())

	app.Update(messages.StatusLoaded{Status: domain.QueueStatus{HighPending: 4}})
	assert.Equal(t, 4, app.Monitor().Status().HighPending)
}

func TestApp_SearchNavigation(t *testing.T) {
	app := newTestApp(t, &Ports{Queue: &stubQueue{}, Search: stubQuery{}}, Options{})

	_, cmd := app.Update(runes("/"))
	require.NotNil(t, cmd)
	app.Update(cmd())
	assert.Equal(t, messages.ViewSearch, app.CurrentView())
	assert.Contains(t, app.View(), "Query")

	app.Update(runes("q"))
	assert.Equal(t, "q", app.Search().Query(), "keys are typed into the query")

	_, cmd = app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	app.Update(cmd())
	assert.Equal(t, messages.ViewMonitor, app.CurrentView())
}

func TestApp_SearchUnavailable(t *testing.T) {
	app := newTestApp(t, &Ports{Queue: &stubQueue{}}, Options{})
	_, cmd := app.Update(messages.ViewChanged{View: messages.ViewSearch})
	assert.Nil(t, cmd)
	assert.Equal(t, messages.ViewMonitor, app.CurrentView())

	_, cmd = app.Update(messages.SearchCompleted{Query: "x"})
	assert.Nil(t, cmd)
}

func TestApp_SearchCompleted(t *testing.T) {
	app := newTestApp(t, &Ports{Queue: &stubQueue{}, Search: stubQuery{}}, Options{})
	app.Update(messages.ViewChanged{View: messages.ViewSearch})

	app.Update(messages.SearchCompleted{Query: "x", Response: &domain.QueryResponse{
		Results: []domain.SearchResult{{ChunkID: "c1", Title: "Hit"}},
	}})
	assert.Len(t, app.Search().Results(), 1)
}

func TestApp_Help(t *testing.T) {
	app := newTestApp(t, &Ports{Queue: &stubQueue{}}, Options{})

	app.Update(runes("?"))
	assert.Equal(t, messages.ViewHelp, app.CurrentView())
	out := app.View()
	assert.Contains(t, out, "Help")
	assert.Contains(t, out, "pause")

	app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, messages.ViewMonitor, app.CurrentView())
}

func TestApp_IdleQuits(t *testing.T) {
	app := newTestApp(t, &Ports{Queue: &stubQueue{}}, Options{QuitWhenIdle: true})
	_, cmd := app.Update(messages.Idle{})
	require.NotNil(t, cmd)
	assert.True(t, app.Drained())
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestApp_Quit(t *testing.T) {
	app := newTestApp(t, &Ports{Queue: &stubQueue{}}, Options{})

	_, cmd := app.Update(messages.Quit{})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)

	_, cmd = app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.False(t, app.Drained())
}

func TestApp_ControlFromMonitor(t *testing.T) {
	q := &stubQueue{}
	app := newTestApp(t, &Ports{Queue: q}, Options{})

	_, cmd := app.Update(runes("p"))
	require.NotNil(t, cmd)
	_, cmd = app.Update(cmd())
	require.NotNil(t, cmd, "a control triggers a fresh poll")
	assert.True(t, q.status.Paused)
	assert.Equal(t, "paused", app.Monitor().StatusBar().Message())
}
