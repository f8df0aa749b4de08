// Package monitor provides the queue monitor view for the TUI.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/components/status"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// DefaultPollInterval is how often the queue is polled.
const DefaultPollInterval = 500 * time.Millisecond

// maxFailedRows bounds the failed paths shown.
const maxFailedRows = 5

// Controller reads and controls an indexing queue, local or remote.
type Controller interface {
	QueueStatus(ctx context.Context) (domain.QueueStatus, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clear(ctx context.Context) (int, error)
}

// View polls a Controller and renders the queue.
type View struct {
	styles    *styles.Styles
	keymap    *keymap.KeyMap
	statusbar *status.Bar

	queue    Controller
	ctx      context.Context
	interval time.Duration
	now      func() time.Time

	// quitWhenIdle sends messages.Idle after two consecutive idle polls.
	quitWhenIdle bool
	idlePolls    int

	status domain.QueueStatus
	loaded bool
	err    error

	width  int
	height int
}

// NewView creates a monitor view. An interval of zero uses DefaultPollInterval.
func NewView(s *styles.Styles, km *keymap.KeyMap, queue Controller, interval time.Duration) *View {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &View{
		styles:    s,
		keymap:    km,
		statusbar: status.NewBar(s, km),
		queue:     queue,
		ctx:       context.Background(),
		interval:  interval,
		now:       time.Now,
		width:     80,
		height:    24,
	}
}

// WithContext sets the context used for queue calls.
func (v *View) WithContext(ctx context.Context) *View {
	v.ctx = ctx
	return v
}

// QuitWhenIdle makes the view announce when the queue has drained.
func (v *View) QuitWhenIdle(enabled bool) *View {
	v.quitWhenIdle = enabled
	return v
}

// Init loads the first status.
func (v *View) Init() tea.Cmd {
	return v.poll()
}

// Update handles messages for the monitor.
func (v *View) Update(msg tea.Msg) (*View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetDimensions(msg.Width, msg.Height)
		return v, nil

	case messages.Tick:
		return v, v.poll()

	case messages.StatusLoaded:
		return v, v.handleStatus(msg)

	case messages.ControlDone:
		v.handleControl(msg)
		return v, v.poll()

	case tea.KeyMsg:
		return v.handleKey(msg)
	}
	return v, nil
}

func (v *View) handleKey(msg tea.KeyMsg) (*View, tea.Cmd) {
	k := msg.String()
	switch {
	case keymap.Matches(k, v.keymap.Pause):
		return v, v.control(messages.ActionPause)
	case keymap.Matches(k, v.keymap.Resume):
		return v, v.control(messages.ActionResume)
	case keymap.Matches(k, v.keymap.Clear):
		return v, v.control(messages.ActionClear)
	case keymap.Matches(k, v.keymap.OpenSearch):
		return v, func() tea.Msg {
			return messages.ViewChanged{View: messages.ViewSearch}
		}
	case keymap.Matches(k, v.keymap.Quit):
		return v, func() tea.Msg { return messages.Quit{} }
	}
	return v, nil
}

func (v *View) handleStatus(msg messages.StatusLoaded) tea.Cmd {
	next := v.tick()
	if msg.Err != nil {
		v.err = msg.Err
		v.statusbar.SetState(status.StateError)
		v.statusbar.SetMessage(msg.Err.Error())
		return next
	}

	v.err = nil
	v.loaded = true
	v.status = msg.Status
	v.statusbar.SetMessage("")
	v.statusbar.SetQueue(msg.Status)

	if !v.quitWhenIdle {
		return next
	}
	if isIdle(msg.Status) {
		v.idlePolls++
	} else {
		v.idlePolls = 0
	}
	if v.idlePolls >= 2 {
		return func() tea.Msg { return messages.Idle{} }
	}
	return next
}

func (v *View) handleControl(msg messages.ControlDone) {
	if msg.Err != nil {
		v.statusbar.SetState(status.StateError)
		v.statusbar.SetMessage(fmt.Sprintf("%s: %v", msg.Action, msg.Err))
		return
	}
	switch msg.Action {
	case messages.ActionPause:
		v.statusbar.SetMessage("paused")
	case messages.ActionResume:
		v.statusbar.SetMessage("resumed")
	case messages.ActionClear:
		v.statusbar.SetMessage(fmt.Sprintf("cleared %d pending", msg.Dropped))
	}
}

// isIdle reports a drained, unpaused queue.
func isIdle(st domain.QueueStatus) bool {
	return !st.Paused && st.Size() == 0 && len(st.Active) == 0
}

func (v *View) poll() tea.Cmd {
	queue, ctx := v.queue, v.ctx
	return func() tea.Msg {
		st, err := queue.QueueStatus(ctx)
		return messages.StatusLoaded{Status: st, Err: err}
	}
}

func (v *View) tick() tea.Cmd {
	return tea.Tick(v.interval, func(t time.Time) tea.Msg {
		return messages.Tick{At: t}
	})
}

func (v *View) control(action messages.ControlAction) tea.Cmd {
	queue, ctx := v.queue, v.ctx
	return func() tea.Msg {
		done := messages.ControlDone{Action: action}
		switch action {
		case messages.ActionPause:
			done.Err = queue.Pause(ctx)
		case messages.ActionResume:
			done.Err = queue.Resume(ctx)
		case messages.ActionClear:
			done.Dropped, done.Err = queue.Clear(ctx)
		}
		return done
	}
}

// View renders the monitor.
func (v *View) View() string {
	sections := []string{v.styles.Title.Render("sercha-indexer · queue"), ""}

	if !v.loaded {
		if v.err != nil {
			sections = append(sections, v.styles.Error.Render("Error: "+v.err.Error()))
		} else {
			sections = append(sections, v.styles.Muted.Render("Loading queue..."))
		}
		sections = append(sections, "", v.statusbar.View())
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	sections = append(sections,
		v.renderPending(),
		v.renderProgress(),
		"",
		v.styles.Subtitle.Render("Active"),
		v.renderActive(),
		"",
		v.styles.Subtitle.Render("Workers"),
		v.renderWorkers(),
	)
	if len(v.status.Failed) > 0 {
		sections = append(sections, "", v.styles.Subtitle.Render("Failed"), v.renderFailed())
	}
	sections = append(sections, "", v.statusbar.View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (v *View) renderPending() string {
	line := fmt.Sprintf("Pending  high %d  normal %d", v.status.HighPending, v.status.NormalPending)
	if v.status.Paused {
		line += "  " + v.styles.Warning.Render("[paused]")
	}
	if !v.status.Running {
		line += "  " + v.styles.Muted.Render("[stopped]")
	}
	return v.styles.Normal.Render(line)
}

func (v *View) renderProgress() string {
	st := v.status
	done := st.Completed + st.FailedCount
	total := done + st.Size() + len(st.Active)
	width := v.width - 30
	if width > 40 {
		width = 40
	}
	if width < 10 {
		width = 10
	}
	return fmt.Sprintf("Progress %s %d/%d  (%d failed)",
		v.styles.Gauge(done, total, width), done, total, st.FailedCount)
}

func (v *View) renderActive() string {
	if len(v.status.Active) == 0 {
		return v.styles.Muted.Render("  nothing in flight")
	}
	pathWidth := v.width - 24
	lines := make([]string, 0, len(v.status.Active))
	for _, item := range v.status.Active {
		stage := v.styles.Stage(item.Stage).Render(fmt.Sprintf("%-9s", item.Stage))
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			stage, shorten(item.Path, pathWidth), v.styles.Muted.Render(v.age(item.StartedAt))))
	}
	return strings.Join(lines, "\n")
}

func (v *View) renderWorkers() string {
	if len(v.status.Workers) == 0 {
		return v.styles.Muted.Render("  no workers")
	}
	lines := make([]string, 0, len(v.status.Workers))
	for _, w := range v.status.Workers {
		state := "alive"
		if !w.Alive {
			state = "stale"
		}
		lines = append(lines, fmt.Sprintf("  %s %-12s last seen %s",
			v.styles.Worker(w.Alive).Render("●"), w.Name+" "+state, v.age(w.LastSeen)))
	}
	return strings.Join(lines, "\n")
}

func (v *View) renderFailed() string {
	rows := v.status.Failed
	extra := 0
	if len(rows) > maxFailedRows {
		extra = len(rows) - maxFailedRows
		rows = rows[:maxFailedRows]
	}
	lines := make([]string, 0, len(rows)+1)
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("  %s %s",
			shorten(row.Path, v.width/2), v.styles.Error.Render(row.LastError)))
	}
	if extra > 0 {
		lines = append(lines, v.styles.Muted.Render(fmt.Sprintf("  ... and %d more", extra)))
	}
	return strings.Join(lines, "\n")
}

func (v *View) age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := v.now().Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

// shorten keeps the tail of a path that is wider than width.
func shorten(path string, width int) string {
	if width < 10 {
		width = 10
	}
	r := []rune(path)
	if len(r) <= width {
		return path
	}
	return "..." + string(r[len(r)-width+3:])
}

// SetDimensions sets the view dimensions.
func (v *View) SetDimensions(width, height int) {
	v.width = width
	v.height = height
	v.statusbar.SetWidth(width)
}

// Status returns the last loaded queue status.
func (v *View) Status() domain.QueueStatus {
	return v.status
}

// Err returns the last polling error, if any.
func (v *View) Err() error {
	return v.err
}

// StatusBar exposes the status bar state.
func (v *View) StatusBar() *status.Bar {
	return v.statusbar
}
