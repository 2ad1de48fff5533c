package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/metrics"
)

const metricPrefix = "loop_channel_"

// clientFlags are shared by the commands that talk to a running channel.
type clientFlags struct {
	addr    string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", config.DefaultConfig().ListenAddr, "Address of a running loop-channel")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Second, "HTTP request timeout")
}

func (f *clientFlags) client() *metrics.Client {
	return metrics.NewClient(f.addr, f.timeout)
}

func newStatusCommand() *cobra.Command {
	var flags clientFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client()
			if asJSON {
				var doc json.RawMessage
				if err := client.FetchJSON(cmd.Context(), "/status", &doc); err != nil {
					return wrapConnectError(err, flags.addr)
				}
				return writeJSON(cmd, doc)
			}

			snap, err := client.Scrape(cmd.Context())
			if err != nil {
				return wrapConnectError(err, flags.addr)
			}
			out := cmd.OutOrStdout()
			renderStatus(out, snap, shouldColorize(out))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw /status document")
	return cmd
}

func metricValue(s *metrics.Snapshot, name string) float64 {
	v, _ := s.Value(metricPrefix + name)
	return v
}

func renderStatus(w io.Writer, s *metrics.Snapshot, colorize bool) {
	var lines []string

	lines = append(lines, renderSectionHeader("Channel")...)
	if metricValue(s, "on_air") == 1 {
		lines = append(lines, renderStatusLine("On Air", statusOK, "", colorize))
	} else {
		lines = append(lines, renderStatusLine("On Air", statusError, "no encoder running", colorize))
	}
	state, _ := s.ActiveLabel(metricPrefix+"supervisor_state", "state")
	track, ok := s.ActiveLabel(metricPrefix+"track", "track")
	if !ok {
		track = "-"
	}
	lines = append(lines,
		renderValueLine("State", state),
		renderValueLine("Track", track),
		renderValueLine("Session Uptime", secondsDuration(metricValue(s, "session_uptime_seconds")).String()),
		"",
	)

	lines = append(lines, renderSectionHeader("Encoder")...)
	speed := metricValue(s, "encoder_speed")
	speedKind := statusOK
	switch {
	case speed == 0:
		speedKind = statusInfo
	case speed < 0.9:
		speedKind = statusError
	case speed < 1.0:
		speedKind = statusWarn
	}
	lines = append(lines,
		renderValueLine("FPS", fmt.Sprintf("%.1f", metricValue(s, "encoder_fps"))),
		renderValueLine("Bitrate", humanize.SIWithDigits(metricValue(s, "encoder_bitrate_kbps")*1000, 2, "bit/s")),
		renderStatusLine("Speed", speedKind, fmt.Sprintf("%.2fx", speed), colorize),
		renderValueLine("Frame", humanize.Comma(int64(metricValue(s, "encoder_frame")))),
		renderValueLine("Dropped Frames", humanize.Comma(int64(metricValue(s, "encoder_dropped_frames")))),
		"",
	)

	lines = append(lines, renderSectionHeader("Health")...)
	if metricValue(s, "health_degraded") == 1 {
		lines = append(lines, renderStatusLine("Stream", statusWarn, "freeze or bitrate collapse", colorize))
	} else {
		lines = append(lines, renderStatusLine("Stream", statusOK, "", colorize))
	}
	lines = append(lines,
		renderValueLine("Baseline", humanize.SIWithDigits(metricValue(s, "health_baseline_kbps")*1000, 2, "bit/s")),
		"",
	)

	lines = append(lines, renderSectionHeader("Recovery")...)
	if metricValue(s, "recovery_escalated") == 1 {
		lines = append(lines, renderStatusLine("Escalated", statusError, "operator action required (loop-channel reset)", colorize))
	} else {
		lines = append(lines, renderStatusLine("Escalated", statusOK, "no", colorize))
	}
	lines = append(lines,
		renderValueLine("Auto Recovery", yesNo(metricValue(s, "recovery_auto_enabled") == 1)),
		renderValueLine("Restart Count", fmt.Sprintf("%.0f", metricValue(s, "recovery_restart_count"))),
		renderValueLine("Audio Retries", fmt.Sprintf("%.0f", metricValue(s, "recovery_audio_retry_count"))),
		"",
	)

	for _, line := range lines {
		fmt.Fprintln(w, line)
	}

	counters := [][]string{
		{"Sessions started", humanize.Comma(int64(metricValue(s, "sessions_started_total")))},
		{"Track switches", humanize.Comma(int64(metricValue(s, "track_switches_total")))},
		{"Switch failures", humanize.Comma(int64(metricValue(s, "track_switch_failures_total")))},
		{"Restarts", humanize.Comma(int64(metricValue(s, "restarts_total")))},
		{"Encoder errors", humanize.Comma(int64(s.Sum(metricPrefix + "encoder_errors_total")))},
		{"Output lines read", humanize.Comma(int64(metricValue(s, "output_lines_read_total")))},
		{"Output lines dropped", humanize.Comma(int64(metricValue(s, "output_lines_dropped_total")))},
	}
	fmt.Fprintln(w, renderTable([]string{"Counter", "Value"}, counters, []columnAlignment{alignLeft, alignRight}))

	exits := s.ByLabel(metricPrefix+"session_exits_total", "category")
	if len(exits) > 0 {
		cats := make([]string, 0, len(exits))
		for cat := range exits {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		rows := make([][]string, 0, len(cats))
		for _, cat := range cats {
			rows = append(rows, []string{cat, humanize.Comma(int64(exits[cat]))})
		}
		fmt.Fprintln(w, renderTable([]string{"Exit Category", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}

func secondsDuration(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Second)
}

// historyRecord mirrors the JSON form of a recovery record.
type historyRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Trigger   string    `json:"trigger"`
	Reason    string    `json:"reason"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
}

func newHistoryCommand() *cobra.Command {
	var flags clientFlags
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent recovery decisions of a running channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []historyRecord
			path := fmt.Sprintf("/recovery/history?limit=%d", limit)
			if err := flags.client().FetchJSON(cmd.Context(), path, &records); err != nil {
				return wrapConnectError(err, flags.addr)
			}
			if asJSON {
				return writeJSON(cmd, records)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(records, time.Now()))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func renderHistory(records []historyRecord, now time.Time) string {
	if len(records) == 0 {
		return "No recovery decisions recorded."
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			humanize.RelTime(r.Timestamp, now, "ago", "from now"),
			r.Trigger,
			r.Action,
			r.Outcome,
			truncate(r.Reason, 60),
		})
	}
	return renderTable(
		[]string{"When", "Trigger", "Action", "Outcome", "Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func newTrackCommand() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "track <key>",
		Short: "Switch a running channel to another track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]string
			if err := flags.client().PostJSON(cmd.Context(), "/track", map[string]string{"track": args[0]}, &resp); err != nil {
				return wrapConnectError(err, flags.addr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switch to %q %s\n", resp["track"], resp["status"])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newResetCommand() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the restart budget and escalation of a running channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().PostJSON(cmd.Context(), "/recovery/reset", struct{}{}, nil); err != nil {
				return wrapConnectError(err, flags.addr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recovery state reset")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
