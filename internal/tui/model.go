package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries an updated snapshot pushed from outside the program.
type SnapshotMsg Snapshot

// ActionMsg reports the outcome of a key-triggered control-plane request.
type ActionMsg struct {
	Action string
	Err    error
	At     time.Time
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Sources
// =============================================================================

// Snapshot is everything the dashboard renders.
type Snapshot struct {
	Status          supervisor.Status
	Restarts        int
	BlocksPerMinute float64 // over the last minute
	RPCP50          time.Duration
	RPCP95          time.Duration
	RPCErrors       int64
	RecentLines     []string
}

// StatusSource provides dashboard snapshots.
type StatusSource interface {
	Snapshot() Snapshot
}

// Controller generates blocks on behalf of key bindings.
type Controller interface {
	GenerateBlocks(ctx context.Context, n uint64) error
	GenerateEpochs(ctx context.Context, n uint64) error
}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	metricsAddr   string
	actionTimeout time.Duration

	// Current state
	snapshot   Snapshot
	startTime  time.Time
	lastUpdate time.Time
	lastAction *ActionMsg

	// Display options
	width  int
	height int

	source     StatusSource
	controller Controller

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	MetricsAddr   string
	Source        StatusSource
	Controller    Controller
	ActionTimeout time.Duration // default 30s
}

// New creates a new TUI model.
func New(cfg Config) Model {
	timeout := cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Model{
		metricsAddr:   cfg.MetricsAddr,
		actionTimeout: timeout,
		source:        cfg.Source,
		controller:    cfg.Controller,
		startTime:     time.Now(),
		lastUpdate:    time.Now(),
		width:         80,
		height:        24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// tea.WithAltScreen() is passed when creating the program.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "g":
			return m, m.actionCmd("generate 1 block", func(ctx context.Context, c Controller) error {
				return c.GenerateBlocks(ctx, 1)
			})
		case "e":
			return m, m.actionCmd("generate 1 epoch", func(ctx context.Context, c Controller) error {
				return c.GenerateEpochs(ctx, 1)
			})
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.snapshot = m.source.Snapshot()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case SnapshotMsg:
		m.snapshot = Snapshot(msg)
		m.lastUpdate = time.Now()
		return m, nil

	case ActionMsg:
		m.lastAction = &msg
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// actionCmd runs fn against the controller off the UI goroutine.
func (m Model) actionCmd(action string, fn func(context.Context, Controller) error) tea.Cmd {
	if m.controller == nil {
		return nil
	}
	controller, timeout := m.controller, m.actionTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := fn(ctx, controller)
		return ActionMsg{Action: action, Err: err, At: time.Now()}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns the last rendered snapshot.
func (m Model) Snapshot() Snapshot {
	return m.snapshot
}

// LastAction returns the outcome of the most recent key action, if any.
func (m Model) LastAction() *ActionMsg {
	return m.lastAction
}

// SendSnapshot sends a snapshot to a running TUI program.
func SendSnapshot(p *tea.Program, s Snapshot) {
	if p != nil {
		p.Send(SnapshotMsg(s))
	}
}

// SendQuit tells a running TUI program to exit.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n uint64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
