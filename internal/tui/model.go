package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-worker-swarm/internal/controller"
	"github.com/randomizedcoder/go-worker-swarm/internal/stats"
)

// TickMsg is sent periodically to refresh the display.
type TickMsg time.Time

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// SlotSource provides the per-slot state to display.
type SlotSource interface {
	Snapshot() []controller.SlotInfo
	NumWorkers() int
}

// StatsSource provides run-level statistics.
type StatsSource interface {
	Snapshot() stats.Summary
}

// Config holds TUI configuration.
type Config struct {
	MetricsAddr string
	Slots       SlotSource
	Stats       StatsSource
}

// Model represents the TUI state.
type Model struct {
	metricsAddr string
	slotSource  SlotSource
	statsSource StatsSource

	slots      []controller.SlotInfo
	summary    stats.Summary
	target     int
	startTime  time.Time
	lastUpdate time.Time

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		metricsAddr: cfg.MetricsAddr,
		slotSource:  cfg.Slots,
		statsSource: cfg.Stats,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
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
		case "r":
			// Force refresh
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.slotSource != nil {
			m.slots = m.slotSource.Snapshot()
			m.target = m.slotSource.NumWorkers()
		}
		if m.statsSource != nil {
			m.summary = m.statsSource.Snapshot()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

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
	return m.render()
}

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Elapsed returns how long the dashboard has been running.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// LiveWorkers counts slots with a live monitor.
func (m Model) LiveWorkers() int {
	live := 0
	for _, s := range m.slots {
		if s.Alive {
			live++
		}
	}
	return live
}
