package channel

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/health"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/metrics"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/parser"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/recovery"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/supervisor"
)

// Snapshot is the combined status document served at /status and rendered
// by the dashboard.
type Snapshot struct {
	At         time.Time         `json:"at"`
	Uptime     time.Duration     `json:"uptime"`
	Healthy    bool              `json:"healthy"`
	Supervisor supervisor.Status `json:"supervisor"`
	Health     health.Status     `json:"health"`
	Recovery   recovery.Stats    `json:"recovery"`
	Output     *parser.Summary   `json:"output,omitempty"`
	Recent     []string          `json:"recent_lines,omitempty"`
}

// Snapshot returns the current status of every component.
func (c *Controller) Snapshot() Snapshot {
	now := c.clock.Now()
	snap := Snapshot{
		At:         now,
		Uptime:     now.Sub(c.startedAt),
		Supervisor: c.sup.Status(),
		Health:     c.monitor.Status(),
		Recovery:   c.policy.Stats(),
		Recent:     c.sup.RecentLines(10),
	}
	if sum, ok := c.sup.Summary(); ok {
		snap.Output = &sum
	}
	snap.Healthy = snap.Supervisor.Current != nil &&
		!snap.Health.Frozen && !snap.Health.Collapsed &&
		!snap.Recovery.Escalated
	return snap
}

// The methods below implement metrics.ChannelAPI.

// Healthy reports whether an encoder is on air and not degraded.
func (c *Controller) Healthy() bool {
	return c.sup.IsRunning() && !c.monitor.Degraded() && !c.policy.Escalated()
}

// StatusDocument returns Snapshot.
func (c *Controller) StatusDocument() any { return c.Snapshot() }

// RecoveryStats returns the policy counters.
func (c *Controller) RecoveryStats() any { return c.policy.Stats() }

// RecoveryHistory returns up to limit records, newest first.
func (c *Controller) RecoveryHistory(limit int) any { return c.policy.History(limit) }

// RequestTrack validates trackKey and switches to it in the background.
func (c *Controller) RequestTrack(trackKey string) error {
	ctx := c.runContext()
	if _, err := c.resolver.Resolve(ctx, trackKey); err != nil {
		if errors.Is(err, ErrUnknownTrack) {
			return fmt.Errorf("%w: %w", metrics.ErrUnknownTrack, err)
		}
		return err
	}
	if !c.trackMu.TryLock() {
		return fmt.Errorf("%w: %w", metrics.ErrTransitionBusy, supervisor.ErrBusy)
	}
	if c.sup.State().IsTransition() {
		c.trackMu.Unlock()
		return fmt.Errorf("%w: %w", metrics.ErrTransitionBusy, supervisor.ErrBusy)
	}

	c.async.Add(1)
	go func() {
		defer c.async.Done()
		defer c.trackMu.Unlock()
		// Errors are logged by OnTrackChange.
		_ = c.OnTrackChange(ctx, trackKey)
	}()
	return nil
}

// ResetRecovery clears the restart budget and escalation. When nothing is
// on air, the last requested track is restarted.
func (c *Controller) ResetRecovery() {
	c.policy.Reset()
	c.sup.ClearEscalated()
	if c.sup.IsRunning() {
		return
	}

	ctx := c.runContext()
	c.async.Add(1)
	go func() {
		defer c.async.Done()
		if err := c.sup.Restart(ctx); err != nil {
			c.logger.Warn("reset_restart_failed", "error", err)
			return
		}
		c.collector.Restarted()
	}()
}

// PrintSummary writes the exit summary of the run.
func (c *Controller) PrintSummary(w io.Writer, listenAddr string) {
	summary := c.collector.GenerateSummary()
	stats := c.policy.Stats()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                      loop-channel Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(w, "Sessions Started:       %d\n", summary.Sessions)
	fmt.Fprintf(w, "Track Switches:         %d\n", summary.Switches)
	fmt.Fprintf(w, "Restarts:               %d\n", summary.Restarts)
	fmt.Fprintf(w, "Escalated:              %t\n", stats.Escalated || stats.AudioEscalated)
	fmt.Fprintln(w)

	if summary.SessionP50 > 0 || summary.LongestUptime > 0 {
		fmt.Fprintln(w, "Session Lifetime:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", formatDuration(summary.SessionP50))
		fmt.Fprintf(w, "  P95:                  %s\n", formatDuration(summary.SessionP95))
		fmt.Fprintf(w, "  Longest:              %s\n", formatDuration(summary.LongestUptime))
		fmt.Fprintln(w)
	}

	if len(summary.ExitCodes) > 0 {
		fmt.Fprintln(w, "Exit Codes:")
		codes := make([]int, 0, len(summary.ExitCodes))
		for code := range summary.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), summary.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if len(summary.ErrorCounts) > 0 {
		fmt.Fprintln(w, "Encoder Errors:")
		cats := make([]string, 0, len(summary.ErrorCounts))
		for cat := range summary.ErrorCounts {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			fmt.Fprintf(w, "  %-20s %d\n", cat, summary.ErrorCounts[cat])
		}
		fmt.Fprintln(w)
	}

	if listenAddr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", listenAddr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case -1:
		return "(unknown)"
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

var _ metrics.ChannelAPI = (*Controller)(nil)
