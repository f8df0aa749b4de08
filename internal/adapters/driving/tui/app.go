package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/views/monitor"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/tui/views/search"
)

// Options tune the application.
type Options struct {
	// QuitWhenIdle exits once the queue has drained.
	QuitWhenIdle bool

	// PollInterval is how often the queue is polled. Zero uses the default.
	PollInterval time.Duration

	// TopK is the number of results per query. Zero uses the default.
	TopK int
}

// App is the root Bubbletea model. The monitor keeps polling while the
// query view is shown.
type App struct {
	ports  *Ports
	ctx    context.Context
	styles *styles.Styles
	keymap *keymap.KeyMap

	monitorView *monitor.View
	searchView  *search.View

	currentView messages.ViewType
	drained     bool

	width  int
	height int
	ready  bool
}

// Ensure App implements tea.Model.
var _ tea.Model = (*App)(nil)

// NewApp creates the application.
func NewApp(ports *Ports, opts Options) (*App, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("creating app: %w", err)
	}

	s := styles.DefaultStyles()
	km := keymap.DefaultKeyMap()
	a := &App{
		ports:       ports,
		ctx:         context.Background(),
		styles:      s,
		keymap:      km,
		monitorView: monitor.NewView(s, km, ports.Queue, opts.PollInterval).QuitWhenIdle(opts.QuitWhenIdle),
		currentView: messages.ViewMonitor,
	}
	if ports.Search != nil {
		a.searchView = search.NewView(s, km, ports.Search).WithTopK(opts.TopK)
	}
	return a, nil
}

// WithContext sets the context for service calls.
func (a *App) WithContext(ctx context.Context) *App {
	a.ctx = ctx
	a.monitorView.WithContext(ctx)
	if a.searchView != nil {
		a.searchView.WithContext(ctx)
	}
	return a
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle("sercha-indexer"),
		a.monitorView.Init(),
	)
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.SetDimensions(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case messages.Tick, messages.StatusLoaded, messages.ControlDone:
		a.monitorView, cmd = a.monitorView.Update(msg)
		return a, cmd

	case messages.SearchCompleted, messages.ErrorOccurred:
		if a.searchView != nil {
			a.searchView, cmd = a.searchView.Update(msg)
		}
		return a, cmd

	case messages.ViewChanged:
		return a, a.switchTo(msg.View)

	case messages.Idle:
		a.drained = true
		return a, tea.Quit

	case messages.Quit:
		return a, tea.Quit
	}

	if a.currentView == messages.ViewSearch && a.searchView != nil {
		a.searchView, cmd = a.searchView.Update(msg)
	}
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return a, tea.Quit
	}

	var cmd tea.Cmd
	switch a.currentView {
	case messages.ViewMonitor:
		if keymap.Matches(msg.String(), a.keymap.Help) {
			return a, a.switchTo(messages.ViewHelp)
		}
		a.monitorView, cmd = a.monitorView.Update(msg)
	case messages.ViewSearch:
		if a.searchView != nil {
			a.searchView, cmd = a.searchView.Update(msg)
		}
	case messages.ViewHelp:
		k := msg.String()
		if keymap.Matches(k, a.keymap.Back) || keymap.Matches(k, a.keymap.Help) {
			return a, a.switchTo(messages.ViewMonitor)
		}
		if keymap.Matches(k, a.keymap.Quit) {
			return a, tea.Quit
		}
	}
	return a, cmd
}

// switchTo changes the active view. The query view is unavailable without
// a query service.
func (a *App) switchTo(view messages.ViewType) tea.Cmd {
	if view == messages.ViewSearch {
		if a.searchView == nil {
			return nil
		}
		a.currentView = view
		a.searchView.Reset()
		return a.searchView.Init()
	}
	a.currentView = view
	return nil
}

// View implements tea.Model.
func (a *App) View() string {
	if !a.ready {
		return "Initialising..."
	}

	switch a.currentView {
	case messages.ViewSearch:
		if a.searchView != nil {
			return a.searchView.View()
		}
	case messages.ViewHelp:
		return a.viewHelp()
	case messages.ViewMonitor:
	}
	return a.monitorView.View()
}

func (a *App) viewHelp() string {
	groups := a.keymap.FullHelp()
	lines := []string{a.styles.Title.Render("Help"), ""}
	for _, group := range groups {
		for _, b := range group {
			lines = append(lines, formatBinding(b))
		}
		lines = append(lines, "")
	}
	lines = append(lines, a.styles.Muted.Render("[esc] back to monitor"))
	return strings.Join(lines, "\n")
}

func formatBinding(b key.Binding) string {
	h := b.Help()
	return fmt.Sprintf("  %-10s %s", h.Key, h.Desc)
}

// Run starts the program and blocks until it exits. It reports whether the
// queue drained when QuitWhenIdle was set.
func (a *App) Run() (bool, error) {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(a.ctx))
	if _, err := p.Run(); err != nil {
		return a.drained, fmt.Errorf("tui: %w", err)
	}
	return a.drained, nil
}

// CurrentView returns the active view.
func (a *App) CurrentView() messages.ViewType {
	return a.currentView
}

// Drained reports whether the app quit because the queue drained.
func (a *App) Drained() bool {
	return a.drained
}

// Ready returns whether the app has been sized.
func (a *App) Ready() bool {
	return a.ready
}

// Monitor returns the monitor view.
func (a *App) Monitor() *monitor.View {
	return a.monitorView
}

// Search returns the query view, or nil without a query service.
func (a *App) Search() *search.View {
	return a.searchView
}

// SetDimensions sizes every view.
func (a *App) SetDimensions(width, height int) {
	a.width = width
	a.height = height
	a.ready = true
	a.monitorView.SetDimensions(width, height)
	if a.searchView != nil {
		a.searchView.SetDimensions(width, height)
	}
}
