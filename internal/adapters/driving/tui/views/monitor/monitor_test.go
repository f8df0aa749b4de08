package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/components/status"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

type mockController struct {
	mu      sync.Mutex
	status  domain.QueueStatus
	err     error
	cleared int
}

func (m *mockController) QueueStatus(context.Context) (domain.QueueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.err
}

func (m *mockController) Pause(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Paused = true
	return m.err
}

func (m *mockController) Resume(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Paused = false
	return m.err
}

func (m *mockController) Clear(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.status.Size()
	m.status.HighPending, m.status.NormalPending = 0, 0
	m.cleared += n
	return n, m.err
}

func busyStatus() domain.QueueStatus {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.QueueStatus{
		HighPending:   2,
		NormalPending: 5,
		Running:       true,
		Active: []domain.ActiveItem{
			{Path: "/docs/report.pdf", Stage: domain.StageEmbedding, StartedAt: started},
		},
		Workers: []domain.WorkerStatus{
			{Name: "chunker-0", Alive: true, LastSeen: started},
		},
		Failed: []domain.ProcessingProgress{
			{Path: "/docs/broken.pdf", Status: domain.StatusFailed, LastError: "no text layer"},
		},
		Completed:   3,
		FailedCount: 1,
	}
}

func newTestView(ctrl *mockController) *View {
	v := NewView(nil, nil, ctrl, time.Millisecond)
	v.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 4, 0, time.UTC) }
	v.SetDimensions(120, 40)
	return v
}

func TestNewView_Defaults(t *testing.T) {
	v := NewView(nil, nil, &mockController{}, 0)
	assert.Equal(t, DefaultPollInterval, v.interval)
	assert.Contains(t, v.View(), "Loading queue")
}

func TestView_InitPolls(t *testing.T) {
	ctrl := &mockController{status: busyStatus()}
	v := newTestView(ctrl)

	cmd := v.Init()
	require.NotNil(t, cmd)
	msg, ok := cmd().(messages.StatusLoaded)
	require.True(t, ok)
	assert.NoError(t, msg.Err)
	assert.Equal(t, 2, msg.Status.HighPending)
}

func TestView_StatusLoaded(t *testing.T) {
	v := newTestView(&mockController{})

	_, cmd := v.Update(messages.StatusLoaded{Status: busyStatus()})
	require.NotNil(t, cmd)
	_, ok := cmd().(messages.Tick)
	assert.True(t, ok, "a loaded status schedules the next poll")

	assert.Equal(t, 7, v.Status().Size())
	assert.Equal(t, status.StateMonitoring, v.StatusBar().State())

	out := v.View()
	assert.Contains(t, out, "high 2")
	assert.Contains(t, out, "normal 5")
	assert.Contains(t, out, "/docs/report.pdf")
	assert.Contains(t, out, "embedding")
	assert.Contains(t, out, "4s")
	assert.Contains(t, out, "chunker-0 alive")
	assert.Contains(t, out, "no text layer")
	assert.Contains(t, out, "4/12")
}

func TestView_StatusError(t *testing.T) {
	v := newTestView(&mockController{})

	_, cmd := v.Update(messages.StatusLoaded{Err: errors.New("connection refused")})
	assert.NotNil(t, cmd, "polling continues after an error")
	assert.Error(t, v.Err())
	assert.Equal(t, status.StateError, v.StatusBar().State())
	assert.Contains(t, v.View(), "connection refused")
}

func TestView_TickPolls(t *testing.T) {
	v := newTestView(&mockController{status: busyStatus()})
	_, cmd := v.Update(messages.Tick{At: time.Now()})
	require.NotNil(t, cmd)
	_, ok := cmd().(messages.StatusLoaded)
	assert.True(t, ok)
}

func TestView_QuitWhenIdle(t *testing.T) {
	v := newTestView(&mockController{}).QuitWhenIdle(true)
	idle := domain.QueueStatus{Running: true, Completed: 3}

	_, cmd := v.Update(messages.StatusLoaded{Status: busyStatus()})
	_, ok := cmd().(messages.Tick)
	assert.True(t, ok)

	_, cmd = v.Update(messages.StatusLoaded{Status: idle})
	_, ok = cmd().(messages.Tick)
	assert.True(t, ok, "one idle poll is not enough")

	_, cmd = v.Update(messages.StatusLoaded{Status: idle})
	_, ok = cmd().(messages.Idle)
	assert.True(t, ok)
}

func TestView_PausedQueueIsNotIdle(t *testing.T) {
	v := newTestView(&mockController{}).QuitWhenIdle(true)
	paused := domain.QueueStatus{Running: true, Paused: true}
	for i := 0; i < 3; i++ {
		_, cmd := v.Update(messages.StatusLoaded{Status: paused})
		_, ok := cmd().(messages.Tick)
		assert.True(t, ok)
	}
	assert.Equal(t, status.StatePaused, v.StatusBar().State())
	assert.Contains(t, v.View(), "[paused]")
}

func TestView_ControlKeys(t *testing.T) {
	ctrl := &mockController{status: busyStatus()}
	v := newTestView(ctrl)

	_, cmd := v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	require.NotNil(t, cmd)
	done, ok := cmd().(messages.ControlDone)
	require.True(t, ok)
	assert.Equal(t, messages.ActionPause, done.Action)
	assert.True(t, ctrl.status.Paused)

	_, cmd = v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	done = cmd().(messages.ControlDone)
	assert.Equal(t, messages.ActionResume, done.Action)
	assert.False(t, ctrl.status.Paused)

	_, cmd = v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	done = cmd().(messages.ControlDone)
	assert.Equal(t, messages.ActionClear, done.Action)
	assert.Equal(t, 7, done.Dropped)

	_, cmd = v.Update(done)
	require.NotNil(t, cmd)
	assert.Equal(t, "cleared 7 pending", v.StatusBar().Message())
}

func TestView_ControlError(t *testing.T) {
	v := newTestView(&mockController{})
	v.Update(messages.ControlDone{Action: messages.ActionPause, Err: errors.New("no server")})
	assert.Equal(t, status.StateError, v.StatusBar().State())
	assert.Contains(t, v.StatusBar().Message(), "no server")
}

func TestView_NavigationKeys(t *testing.T) {
	v := newTestView(&mockController{})

	_, cmd := v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	require.NotNil(t, cmd)
	assert.Equal(t, messages.ViewChanged{View: messages.ViewSearch}, cmd())

	_, cmd = v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, messages.Quit{}, cmd())

	_, cmd = v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, cmd)
}

func TestView_FailedRowsAreBounded(t *testing.T) {
	v := newTestView(&mockController{})
	st := domain.QueueStatus{Running: true}
	for i := 0; i < maxFailedRows+3; i++ {
		st.Failed = append(st.Failed, domain.ProcessingProgress{Path: "/f", LastError: "bad"})
	}
	v.Update(messages.StatusLoaded{Status: st})
	assert.Contains(t, v.View(), "and 3 more")
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "/a/b.txt", shorten("/a/b.txt", 40))
	got := shorten("/very/long/directory/name/file.txt", 16)
	assert.Equal(t, 16, len([]rune(got)))
	assert.Equal(t, "...name/file.txt", got)
}
