package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/channel"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/health"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/parser"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/recovery"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/supervisor"
)

// =============================================================================
// Mock SnapshotSource
// =============================================================================

type mockSource struct {
	snap  channel.Snapshot
	calls int
}

func (m *mockSource) Snapshot() channel.Snapshot {
	m.calls++
	return m.snap
}

func onAirSnapshot() channel.Snapshot {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return channel.Snapshot{
		At:      at,
		Uptime:  90 * time.Minute,
		Healthy: true,
		Supervisor: supervisor.Status{
			State: supervisor.StateRunning,
			Current: &supervisor.ProcessHandle{
				SessionID: "sess-1",
				PID:       4242,
				StartedAt: at.Add(-time.Minute),
				TrackKey:  "sunrise",
				LoopPath:  "/loops/sunrise.mp4",
			},
			UptimeSeconds: 60,
			Switches:      3,
			Restarts:      1,
			Metrics: parser.MetricSample{
				Frame:       1800,
				FPS:         30,
				BitrateKbps: 2500,
				Speed:       1.01,
			},
			LinesRead:    200,
			LinesDropped: 0,
		},
		Health: health.Status{
			SessionID:       "sess-1",
			BitrateKbps:     2500,
			BaselineKbps:    2400,
			BaselineSamples: 12,
			LastFrameChange: at.Add(-time.Second),
		},
		Recovery: recovery.Stats{
			State:               recovery.State{RestartCount: 1},
			AutoRecoveryEnabled: true,
			MaxRestartAttempts:  4,
			AudioMaxRetries:     5,
		},
		Output: &parser.Summary{Samples: 60, AvgFPS: 29.9, SpeedP50: 1.0, SpeedP05: 0.98},
		Recent: []string{"frame= 1800 fps= 30 q=23.0 size=    1024kB time=00:01:00.00 bitrate=2500.0kbits/s speed=1.01x"},
	}
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{ListenAddr: "localhost:9090", Version: "v1.0.0"})

	if model.listenAddr != "localhost:9090" {
		t.Errorf("listenAddr = %s, want localhost:9090", model.listenAddr)
	}
	if model.refresh != 500*time.Millisecond {
		t.Errorf("refresh = %v, want 500ms", model.refresh)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}

	custom := New(Config{Refresh: 2 * time.Second})
	if custom.refresh != 2*time.Second {
		t.Errorf("refresh = %v, want 2s", custom.refresh)
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{}).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"o", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var msg tea.KeyMsg
			switch tt.key {
			case "ctrl+c":
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			case "esc":
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			default:
				msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)}
			}

			newModel, cmd := New(Config{}).Update(msg)
			m := newModel.(Model)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_ToggleOutput(t *testing.T) {
	model := New(Config{})
	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")}

	newModel, _ := model.Update(msg)
	m := newModel.(Model)
	if !m.showOutput {
		t.Error("showOutput should be true after pressing 'o'")
	}

	newModel, _ = m.Update(msg)
	m = newModel.(Model)
	if m.showOutput {
		t.Error("showOutput should be false after pressing 'o' again")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	newModel, _ := New(Config{}).Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := newModel.(Model)

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_TickPollsSource(t *testing.T) {
	src := &mockSource{snap: onAirSnapshot()}
	model := New(Config{Source: src})

	newModel, cmd := model.Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if src.calls != 1 {
		t.Errorf("Snapshot called %d times, want 1", src.calls)
	}
	if m.snap == nil {
		t.Fatal("snap should be set after tick")
	}
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
	if got := m.CurrentTrack(); got != "sunrise" {
		t.Errorf("CurrentTrack() = %q, want sunrise", got)
	}
}

func TestModel_Update_RefreshKey(t *testing.T) {
	src := &mockSource{snap: onAirSnapshot()}
	newModel, _ := New(Config{Source: src}).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})

	if src.calls != 1 {
		t.Errorf("Snapshot called %d times, want 1", src.calls)
	}
	if newModel.(Model).snap == nil {
		t.Error("snap should be set after refresh")
	}
}

func TestModel_Update_SnapshotMsg(t *testing.T) {
	newModel, cmd := New(Config{}).Update(SnapshotMsg{Snapshot: onAirSnapshot()})
	m := newModel.(Model)

	if m.snap == nil || m.snap.Supervisor.Current.SessionID != "sess-1" {
		t.Errorf("snap = %+v, want sess-1", m.snap)
	}
	if cmd != nil {
		t.Error("SnapshotMsg should not schedule a command")
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	newModel, cmd := New(Config{}).Update(QuitMsg{})
	m := newModel.(Model)

	if !m.quitting {
		t.Error("quitting should be true after QuitMsg")
	}
	if cmd == nil {
		t.Error("expected tea.Quit cmd")
	}
	if m.View() != "" {
		t.Error("View() should be empty when quitting")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Waiting(t *testing.T) {
	view := New(Config{}).View()

	if !strings.Contains(view, "Waiting for the first status update") {
		t.Errorf("view should show the waiting banner:\n%s", view)
	}
}

func TestModel_View_OnAir(t *testing.T) {
	model := New(Config{ListenAddr: "127.0.0.1:9090", Version: "v1.2.3"})
	model.width = 140
	newModel, _ := model.Update(SnapshotMsg{Snapshot: onAirSnapshot()})
	view := newModel.(Model).View()

	for _, want := range []string{
		"ON AIR",
		"sunrise",
		"sess-1",
		"4242",
		"2.50 Mbit/s",
		"1.01x",
		"1 / 4",
		"Health",
		"Recovery",
		"http://127.0.0.1:9090/metrics",
		"v1.2.3",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "Recent Output") {
		t.Error("recent output should be hidden by default")
	}
}

func TestModel_View_RecentOutput(t *testing.T) {
	model := New(Config{})
	model.width = 200
	model.showOutput = true
	newModel, _ := model.Update(SnapshotMsg{Snapshot: onAirSnapshot()})
	view := newModel.(Model).View()

	if !strings.Contains(view, "Recent Output") || !strings.Contains(view, "frame= 1800") {
		t.Errorf("view should include recent output:\n%s", view)
	}
}

func TestModel_View_Degraded(t *testing.T) {
	snap := onAirSnapshot()
	snap.Supervisor.State = supervisor.StateCrashed
	snap.Supervisor.Current = nil
	snap.Health.Frozen = true
	snap.Recovery.Escalated = true
	snap.Recovery.CooldownUntil = snap.At.Add(30 * time.Second)

	model := New(Config{})
	model.width = 140
	newModel, _ := model.Update(SnapshotMsg{Snapshot: snap})
	view := newModel.(Model).View()

	for _, want := range []string{"ESCALATED", "none", "yes", "left"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

// =============================================================================
// Tests: Accessors
// =============================================================================

func TestModel_DropRate(t *testing.T) {
	tests := []struct {
		name    string
		read    int64
		dropped int64
		want    float64
	}{
		{"no lines", 0, 0, 0},
		{"no drops", 100, 0, 0},
		{"10%", 100, 10, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := onAirSnapshot()
			snap.Supervisor.LinesRead = tt.read
			snap.Supervisor.LinesDropped = tt.dropped
			m := New(Config{})
			m.snap = &snap

			if got := m.DropRate(); got != tt.want {
				t.Errorf("DropRate() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := New(Config{}).DropRate(); got != 0 {
		t.Errorf("DropRate() without snapshot = %v, want 0", got)
	}
}

func TestModel_BudgetUsed(t *testing.T) {
	tests := []struct {
		name     string
		restarts int
		max      int
		want     float64
	}{
		{"unused", 0, 4, 0},
		{"half", 2, 4, 0.5},
		{"exhausted", 4, 4, 1},
		{"over", 6, 4, 1},
		{"no budget", 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := onAirSnapshot()
			snap.Recovery.RestartCount = tt.restarts
			snap.Recovery.MaxRestartAttempts = tt.max
			m := New(Config{})
			m.snap = &snap

			if got := m.BudgetUsed(); got != tt.want {
				t.Errorf("BudgetUsed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModel_Uptime(t *testing.T) {
	m := New(Config{})
	if m.Uptime() < 0 {
		t.Error("Uptime() should not be negative")
	}
	snap := onAirSnapshot()
	m.snap = &snap
	if got := m.Uptime(); got != 90*time.Minute {
		t.Errorf("Uptime() = %v, want 90m", got)
	}
}

// =============================================================================
// Tests: Formatting Helpers
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{time.Second, "00:00:01"},
		{time.Minute, "00:01:00"},
		{time.Hour, "01:00:00"},
		{time.Hour + 30*time.Minute + 45*time.Second, "01:30:45"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %s, want %s", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.0K"},
		{1500, "1.5K"},
		{1_000_000, "1.0M"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatNumber(tt.n); got != tt.want {
				t.Errorf("formatNumber(%d) = %s, want %s", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatBitrate(t *testing.T) {
	tests := []struct {
		kbps float64
		want string
	}{
		{0, "N/A"},
		{-1, "N/A"},
		{128, "128.0 kbit/s"},
		{2500, "2.50 Mbit/s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatBitrate(tt.kbps); got != tt.want {
				t.Errorf("formatBitrate(%v) = %s, want %s", tt.kbps, got, tt.want)
			}
		})
	}
}

func TestFormatPercent(t *testing.T) {
	if got := formatPercent(0.125); got != "12.5%" {
		t.Errorf("formatPercent(0.125) = %s, want 12.5%%", got)
	}
}

func TestFormatSince(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	if got := formatSince(now, time.Time{}); got != "never" {
		t.Errorf("formatSince(zero) = %s, want never", got)
	}
	if got := formatSince(now, now.Add(-30*time.Second)); got != "00:00:30 ago" {
		t.Errorf("formatSince(-30s) = %s, want 00:00:30 ago", got)
	}
}
