package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderDashboard() string {
	var sections []string

	sections = append(sections, m.renderHeader())

	if m.snap == nil {
		sections = append(sections, boxStyle.Width(m.width-2).Render(
			statusInfo.Render("Waiting for the first status update..."),
		))
		sections = append(sections, m.renderFooter())
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	sections = append(sections, m.renderEncoder())
	sections = append(sections, m.renderOutput())
	sections = append(sections, m.renderHealth())
	sections = append(sections, m.renderRecovery())

	if m.showOutput {
		sections = append(sections, m.renderRecentLines())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	state := mutedStyle.Render("○ connecting")
	if m.snap != nil {
		state = GetStateLabel(m.snap.Supervisor.State, m.snap.Supervisor.Escalated || m.snap.Recovery.Escalated)
	}

	track := m.CurrentTrack()
	if track == "" {
		track = "-"
	}

	header := fmt.Sprintf(
		" loop-channel │ %s │ %s │ Track: %s │ Uptime: %s ",
		state,
		GetMetricsLabel(m.DropRate()),
		track,
		formatDuration(m.Uptime()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Encoder
// =============================================================================

func (m Model) renderEncoder() string {
	st := m.snap.Supervisor

	rows := []string{
		RenderKeyStyled("State", GetStateStyle(st.State).Render(st.State.String())),
	}
	if cur := st.Current; cur != nil {
		rows = append(rows,
			RenderKeyValue("Session", cur.SessionID),
			RenderKeyValue("PID", fmt.Sprintf("%d", cur.PID)),
			RenderKeyValue("Loop", cur.LoopPath),
			RenderKeyValue("Session Uptime", formatDuration(time.Duration(st.UptimeSeconds*float64(time.Second)))),
		)
	} else {
		rows = append(rows, RenderKeyStyled("Session", mutedStyle.Render("none")))
	}
	if prev := st.Previous; prev != nil {
		rows = append(rows, RenderKeyValue("Overlapping With", fmt.Sprintf("%s (%s)", prev.TrackKey, prev.SessionID)))
	}
	if pending := st.Pending; pending != nil {
		rows = append(rows, RenderKeyStyled("Pending", statusInfo.Render(pending.TrackKey)))
	}
	if last := st.LastExit; last != nil && last.ExitCode != nil {
		rows = append(rows, RenderKeyValue("Last Exit", fmt.Sprintf("%s code %d", last.TrackKey, *last.ExitCode)))
	}
	rows = append(rows,
		RenderKeyValue("Switches", fmt.Sprintf("%d", st.Switches)),
		RenderKeyValue("Restarts", fmt.Sprintf("%d", st.Restarts)),
	)

	return m.box("Encoder", rows)
}

// =============================================================================
// Output
// =============================================================================

func (m Model) renderOutput() string {
	sample := m.snap.Supervisor.Metrics

	errStyle := valueGoodStyle
	if m.snap.Supervisor.ErrorCount > 0 {
		errStyle = valueWarnStyle
	}

	rows := []string{
		RenderKeyValue("Frame", formatNumber(sample.Frame)),
		RenderKeyValue("FPS", fmt.Sprintf("%.1f", sample.FPS)),
		RenderKeyValue("Bitrate", formatBitrate(sample.BitrateKbps)),
		RenderKeyStyled("Speed", GetSpeedLabel(sample.Speed)),
		RenderKeyValue("Dropped / Dup", fmt.Sprintf("%d / %d", sample.DroppedFrames, sample.DuplicatedFrames)),
		RenderKeyStyled("Errors", errStyle.Render(fmt.Sprintf("%d", m.snap.Supervisor.ErrorCount))),
		RenderKeyValue("Lines Read", formatNumber(m.snap.Supervisor.LinesRead)),
	}
	if m.snap.Supervisor.LinesDropped > 0 {
		rows = append(rows, RenderKeyStyled("Lines Dropped",
			valueWarnStyle.Render(fmt.Sprintf("%s (%s)", formatNumber(m.snap.Supervisor.LinesDropped), formatPercent(m.DropRate())))))
	}
	if sum := m.snap.Output; sum != nil && sum.Samples > 0 {
		rows = append(rows,
			RenderKeyValue("Avg FPS", fmt.Sprintf("%.1f", sum.AvgFPS)),
			RenderKeyValue("Speed P50 / P05", fmt.Sprintf("%.2fx / %.2fx", sum.SpeedP50, sum.SpeedP05)),
		)
	}

	return m.box("Output", rows)
}

// =============================================================================
// Health
// =============================================================================

func (m Model) renderHealth() string {
	h := m.snap.Health

	rows := []string{
		RenderKeyStyled("Frozen", RenderFlag(h.Frozen)),
		RenderKeyStyled("Bitrate Collapsed", RenderFlag(h.Collapsed)),
		RenderKeyValue("Bitrate", formatBitrate(h.BitrateKbps)),
	}
	if h.BaselineSamples > 0 {
		rows = append(rows, RenderKeyValue("Baseline",
			fmt.Sprintf("%s (%d samples)", formatBitrate(h.BaselineKbps), h.BaselineSamples)))
	} else {
		rows = append(rows, RenderKeyStyled("Baseline", dimStyle.Render("collecting")))
	}
	rows = append(rows,
		RenderKeyValue("Last Frame Change", formatSince(m.snap.At, h.LastFrameChange)),
		RenderKeyValue("Signals", fmt.Sprintf("%d", h.Signals)),
	)

	return m.box("Health", rows)
}

// =============================================================================
// Recovery
// =============================================================================

func (m Model) renderRecovery() string {
	r := m.snap.Recovery

	auto := valueGoodStyle.Render("enabled")
	if !r.AutoRecoveryEnabled {
		auto = valueWarnStyle.Render("disabled")
	}

	barWidth := m.width - 40
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{
		RenderKeyStyled("Auto Recovery", auto),
		RenderKeyValue("Restart Budget", fmt.Sprintf("%d / %d", r.RestartCount, r.MaxRestartAttempts)),
		RenderProgressBar(m.BudgetUsed(), barWidth),
		RenderKeyValue("Last Restart", formatSince(m.snap.At, r.LastRestartAt)),
	}
	if r.CooldownUntil.After(m.snap.At) {
		rows = append(rows, RenderKeyStyled("Cooldown",
			valueWarnStyle.Render(formatDuration(r.CooldownUntil.Sub(m.snap.At))+" left")))
	}
	rows = append(rows,
		RenderKeyValue("Audio Retries", fmt.Sprintf("%d / %d", r.AudioRetryCount, r.AudioMaxRetries)),
		RenderKeyStyled("Escalated", RenderFlag(r.Escalated || r.AudioEscalated)),
	)

	return m.box("Recovery", rows)
}

// =============================================================================
// Recent Output
// =============================================================================

func (m Model) renderRecentLines() string {
	lines := m.snap.Recent
	if len(lines) == 0 {
		return m.box("Recent Output", []string{dimStyle.Render("(no output yet)")})
	}

	maxWidth := m.width - 6
	if maxWidth < 20 {
		maxWidth = 20
	}
	rows := make([]string, 0, len(lines))
	for _, line := range lines {
		if len(line) > maxWidth {
			line = line[:maxWidth-1] + "…"
		}
		rows = append(rows, dimStyle.Render(line))
	}
	return m.box("Recent Output", rows)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	parts := []string{"q quit", "o output", "r refresh"}
	if m.listenAddr != "" {
		parts = append(parts, "metrics http://"+m.listenAddr+"/metrics")
	}
	if m.version != "" {
		parts = append(parts, m.version)
	}
	parts = append(parts, "updated "+m.lastUpdate.Format("15:04:05"))
	return footerStyle.Render(strings.Join(parts, " • "))
}

func (m Model) box(title string, rows []string) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render(title)}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}
