package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/channel"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries an updated channel snapshot.
type SnapshotMsg struct {
	Snapshot channel.Snapshot
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// SnapshotSource provides the channel status. *channel.Controller
// implements it.
type SnapshotSource interface {
	Snapshot() channel.Snapshot
}

// Config holds TUI configuration.
type Config struct {
	Source     SnapshotSource
	ListenAddr string
	Version    string

	// Refresh is the poll interval (default 500ms).
	Refresh time.Duration
}

// Model represents the TUI state.
type Model struct {
	source     SnapshotSource
	listenAddr string
	version    string
	refresh    time.Duration

	snap       *channel.Snapshot
	startTime  time.Time
	lastUpdate time.Time
	showOutput bool

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	refresh := cfg.Refresh
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}
	return Model{
		source:     cfg.Source,
		listenAddr: cfg.ListenAddr,
		version:    cfg.Version,
		refresh:    refresh,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
		width:      80,
		height:     24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// tea.WithAltScreen() is passed when creating the program.
	return tickCmd(m.refresh)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "o":
			m.showOutput = !m.showOutput
			return m, nil
		case "r":
			m = m.poll()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m = m.poll()
		return m, tickCmd(m.refresh)

	case SnapshotMsg:
		snap := msg.Snapshot
		m.snap = &snap
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) poll() Model {
	if m.source != nil {
		snap := m.source.Snapshot()
		m.snap = &snap
	}
	m.lastUpdate = time.Now()
	return m
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Uptime returns the channel uptime, or the dashboard's own age before the
// first snapshot arrives.
func (m Model) Uptime() time.Duration {
	if m.snap == nil {
		return time.Since(m.startTime)
	}
	return m.snap.Uptime
}

// CurrentTrack returns the track on air, or "" when off air.
func (m Model) CurrentTrack() string {
	if m.snap == nil || m.snap.Supervisor.Current == nil {
		return ""
	}
	return m.snap.Supervisor.Current.TrackKey
}

// DropRate returns the output pipeline drop rate.
func (m Model) DropRate() float64 {
	if m.snap == nil || m.snap.Supervisor.LinesRead == 0 {
		return 0
	}
	return float64(m.snap.Supervisor.LinesDropped) / float64(m.snap.Supervisor.LinesRead)
}

// BudgetUsed returns the share of the restart budget consumed (0.0 to 1.0).
func (m Model) BudgetUsed() float64 {
	if m.snap == nil || m.snap.Recovery.MaxRestartAttempts <= 0 {
		return 0
	}
	used := float64(m.snap.Recovery.RestartCount) / float64(m.snap.Recovery.MaxRestartAttempts)
	if used > 1 {
		used = 1
	}
	return used
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
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
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatBitrate formats kbit/s, switching to Mbit/s above 1000.
func formatBitrate(kbps float64) string {
	if kbps <= 0 {
		return "N/A"
	}
	if kbps >= 1000 {
		return fmt.Sprintf("%.2f Mbit/s", kbps/1000)
	}
	return fmt.Sprintf("%.1f kbit/s", kbps)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}

// formatSince formats the time elapsed since t, or "never" for the zero time.
func formatSince(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return formatDuration(now.Sub(t)) + " ago"
}
