package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/supervisor"
)

// =============================================================================
// Tests: GetMetricsStatus
// =============================================================================

func TestGetMetricsStatus(t *testing.T) {
	tests := []struct {
		name     string
		dropRate float64
		want     MetricsStatus
	}{
		{"no drops", 0, MetricsStatusOK},
		{"tiny drops", 0.001, MetricsStatusDegraded},
		{"5% drops", 0.05, MetricsStatusDegraded},
		{"10% drops", 0.10, MetricsStatusDegraded},
		{"11% drops", 0.11, MetricsStatusSeverelyDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetMetricsStatus(tt.dropRate); got != tt.want {
				t.Errorf("GetMetricsStatus(%v) = %v, want %v", tt.dropRate, got, tt.want)
			}
		})
	}
}

func TestGetMetricsLabel(t *testing.T) {
	tests := []struct {
		name       string
		dropRate   float64
		wantSubstr string
	}{
		{"ok", 0, "Output"},
		{"degraded", 0.05, "degraded"},
		{"severely degraded", 0.15, "severely degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetMetricsLabel(tt.dropRate)
			if !strings.Contains(got, tt.wantSubstr) {
				t.Errorf("GetMetricsLabel(%v) = %q, want to contain %q", tt.dropRate, got, tt.wantSubstr)
			}
		})
	}
}

// =============================================================================
// Tests: Supervisor State
// =============================================================================

func TestGetStateStyle(t *testing.T) {
	tests := []struct {
		state supervisor.State
		want  lipgloss.TerminalColor
	}{
		{supervisor.StateRunning, colorSuccess},
		{supervisor.StateCrashed, colorError},
		{supervisor.StateRecoveryPending, colorWarning},
		{supervisor.StateStopping, colorWarning},
		{supervisor.StateIdle, colorTextMuted},
		{supervisor.StateSwitching, colorInfo},
		{supervisor.StateOverlapping, colorInfo},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := GetStateStyle(tt.state).GetForeground(); got != tt.want {
				t.Errorf("GetStateStyle(%s) foreground = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestGetStateLabel(t *testing.T) {
	tests := []struct {
		name      string
		state     supervisor.State
		escalated bool
		want      string
	}{
		{"on air", supervisor.StateRunning, false, "ON AIR"},
		{"escalated wins", supervisor.StateRunning, true, "ESCALATED"},
		{"idle", supervisor.StateIdle, false, "OFF AIR"},
		{"transition", supervisor.StateOverlapping, false, "overlapping"},
		{"crashed", supervisor.StateCrashed, false, "crashed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetStateLabel(tt.state, tt.escalated)
			if !strings.Contains(got, tt.want) {
				t.Errorf("GetStateLabel(%s, %t) = %q, want to contain %q", tt.state, tt.escalated, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: Speed
// =============================================================================

func TestGetSpeedStyle(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
		want  lipgloss.TerminalColor
	}{
		{"realtime", 1.0, colorSuccess},
		{"faster", 1.5, colorSuccess},
		{"slightly slow", 0.95, colorWarning},
		{"slow", 0.8, colorError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSpeedStyle(tt.speed).GetForeground(); got != tt.want {
				t.Errorf("GetSpeedStyle(%v) foreground = %v, want %v", tt.speed, got, tt.want)
			}
		})
	}
}

func TestFormatSpeedValue(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{0, "N/A"},
		{1.0, "1.00x"},
		{0.95, "0.95x"},
		{1.5, "1.50x"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatSpeedValue(tt.speed); got != tt.want {
				t.Errorf("formatSpeedValue(%v) = %q, want %q", tt.speed, got, tt.want)
			}
			if got := GetSpeedLabel(tt.speed); !strings.Contains(got, tt.want) {
				t.Errorf("GetSpeedLabel(%v) = %q, want to contain %q", tt.speed, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: Helpers
// =============================================================================

func TestRenderFlag(t *testing.T) {
	if got := RenderFlag(true); !strings.Contains(got, "yes") {
		t.Errorf("RenderFlag(true) = %q", got)
	}
	if got := RenderFlag(false); !strings.Contains(got, "no") {
		t.Errorf("RenderFlag(false) = %q", got)
	}
}

func TestRenderKeyValue(t *testing.T) {
	result := RenderKeyValue("Label", "Value")

	if !strings.Contains(result, "Label:") {
		t.Error("result should contain label")
	}
	if !strings.Contains(result, "Value") {
		t.Error("result should contain value")
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		width    int
		percent  string
	}{
		{"0%", 0, 20, "0%"},
		{"50%", 0.5, 20, "50%"},
		{"100%", 1.0, 20, "100%"},
		{"narrow", 0.5, 5, "50%"},
		{"over 100%", 1.5, 20, "150%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderProgressBar(tt.progress, tt.width)
			if !strings.Contains(result, tt.percent) {
				t.Errorf("RenderProgressBar(%v, %d) = %q, want %q", tt.progress, tt.width, result, tt.percent)
			}
		})
	}
}

func TestRepeatChar(t *testing.T) {
	tests := []struct {
		char  rune
		count int
		want  string
	}{
		{'x', 0, ""},
		{'x', 1, "x"},
		{'x', 5, "xxxxx"},
		{'█', 3, "███"},
		{'x', -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := repeatChar(tt.char, tt.count); got != tt.want {
				t.Errorf("repeatChar(%q, %d) = %q, want %q", tt.char, tt.count, got, tt.want)
			}
		})
	}
}
