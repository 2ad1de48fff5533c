package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with an isolated registry.
func newTestCollector() (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{
		Version:      "test",
		SinkAddress:  "rtmp://127.0.0.1/live/test",
		VideoEncoder: "libx264",
	}, registry)
	return c, registry
}

// gatherValue returns the value of the sample in family name whose labels
// include all of want.
func gatherValue(t *testing.T, registry *prometheus.Registry, name string, want map[string]string) (float64, bool) {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, want) {
				return metricValue(m), true
			}
		}
	}
	return 0, false
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func mustValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string, want float64) {
	t.Helper()
	got, ok := gatherValue(t, registry, name, labels)
	if !ok {
		t.Fatalf("%s%v not found", name, labels)
	}
	if got != want {
		t.Errorf("%s%v = %v, want %v", name, labels, got, want)
	}
}

// =============================================================================
// Tests: NewCollector
// =============================================================================

func TestNewCollector_InitialValues(t *testing.T) {
	_, reg := newTestCollector()

	mustValue(t, reg, "loop_channel_info", map[string]string{
		"version":       "test",
		"sink":          "rtmp://127.0.0.1/live/test",
		"video_encoder": "libx264",
	}, 1)
	mustValue(t, reg, "loop_channel_supervisor_state", map[string]string{"state": "idle"}, 1)
	mustValue(t, reg, "loop_channel_on_air", nil, 0)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	// Two collectors must not collide on registration.
	newTestCollector()
	newTestCollector()
}

// =============================================================================
// Tests: RecordUpdate
// =============================================================================

func TestCollector_RecordUpdate(t *testing.T) {
	c, reg := newTestCollector()

	c.RecordUpdate(&ChannelUpdate{
		State:           "running",
		OnAir:           true,
		SessionID:       "s1",
		Track:           "sunrise",
		UptimeSeconds:   42,
		FPS:             30,
		BitrateKbps:     4500,
		Speed:           1.01,
		Frame:           1260,
		DroppedFrames:   2,
		QueueDepth:      1,
		StreamHealthy:   true,
		AutoRecovery:    true,
		RestartCount:    1,
		RecentAttempts:  2,
		BaselineKbps:    4480,
		LinesRead:       300,
		LinesDropped:    3,
		MetricsDegraded: false,
	})

	mustValue(t, reg, "loop_channel_on_air", nil, 1)
	mustValue(t, reg, "loop_channel_supervisor_state", map[string]string{"state": "running"}, 1)
	mustValue(t, reg, "loop_channel_track", map[string]string{"track": "sunrise"}, 1)
	mustValue(t, reg, "loop_channel_session_uptime_seconds", nil, 42)
	mustValue(t, reg, "loop_channel_encoder_fps", nil, 30)
	mustValue(t, reg, "loop_channel_encoder_bitrate_kbps", nil, 4500)
	mustValue(t, reg, "loop_channel_encoder_frame", nil, 1260)
	mustValue(t, reg, "loop_channel_encoder_dropped_frames", nil, 2)
	mustValue(t, reg, "loop_channel_stream_healthy", nil, 1)
	mustValue(t, reg, "loop_channel_recovery_auto_enabled", nil, 1)
	mustValue(t, reg, "loop_channel_recovery_restart_count", nil, 1)
	mustValue(t, reg, "loop_channel_recovery_recent_attempts", nil, 2)
	mustValue(t, reg, "loop_channel_health_baseline_kbps", nil, 4480)
	mustValue(t, reg, "loop_channel_output_lines_read_total", nil, 300)
	mustValue(t, reg, "loop_channel_output_lines_dropped_total", nil, 3)

	// Old state and track label sets are removed.
	if _, ok := gatherValue(t, reg, "loop_channel_supervisor_state", map[string]string{"state": "idle"}); ok {
		t.Error("stale idle state sample still exported")
	}

	c.RecordUpdate(&ChannelUpdate{State: "overlapping", OnAir: true, SessionID: "s1", Track: "sunset", LinesRead: 300, LinesDropped: 3})
	if _, ok := gatherValue(t, reg, "loop_channel_track", map[string]string{"track": "sunrise"}); ok {
		t.Error("stale track sample still exported")
	}
	mustValue(t, reg, "loop_channel_track", map[string]string{"track": "sunset"}, 1)
}

func TestCollector_RecordUpdate_LineDeltas(t *testing.T) {
	c, reg := newTestCollector()

	steps := []struct {
		sessionID string
		read      int64
		dropped   int64
		wantRead  float64
		wantDrop  float64
	}{
		{"s1", 100, 0, 100, 0},
		{"s1", 250, 5, 250, 5},
		{"s1", 250, 5, 250, 5}, // no change
		{"s2", 40, 1, 290, 6},  // new session restarts its counts
		{"s2", 100, 1, 350, 6},
	}

	for i, s := range steps {
		c.RecordUpdate(&ChannelUpdate{State: "running", SessionID: s.sessionID, LinesRead: s.read, LinesDropped: s.dropped})
		read, _ := gatherValue(t, reg, "loop_channel_output_lines_read_total", nil)
		dropped, _ := gatherValue(t, reg, "loop_channel_output_lines_dropped_total", nil)
		if read != s.wantRead || dropped != s.wantDrop {
			t.Errorf("step %d: read=%v dropped=%v, want %v/%v", i, read, dropped, s.wantRead, s.wantDrop)
		}
	}
}

// =============================================================================
// Tests: Events
// =============================================================================

func TestCollector_RecordExit(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		expected bool
		category string
	}{
		{"planned stop", 255, true, "planned"},
		{"clean exit", 0, false, "success"},
		{"error exit", 1, false, "crash"},
		{"signal exit", 137, false, "signal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reg := newTestCollector()
			c.RecordExit(tt.exitCode, time.Minute, tt.expected)
			mustValue(t, reg, "loop_channel_session_exits_total", map[string]string{"category": tt.category}, 1)
			mustValue(t, reg, "loop_channel_session_duration_seconds", nil, 1)
		})
	}
}

func TestCollector_Counters(t *testing.T) {
	c, reg := newTestCollector()

	c.SessionStarted()
	c.SessionStarted()
	c.TrackSwitched()
	c.SwitchFailed()
	c.Restarted()
	c.RecordError("sink_error", "fatal")
	c.RecordError("sink_error", "fatal")
	c.RecordError("stream_error", "warning")
	c.RecordDecision("restart", "crash")
	c.RecordSignal("freeze")

	mustValue(t, reg, "loop_channel_sessions_started_total", nil, 2)
	mustValue(t, reg, "loop_channel_track_switches_total", nil, 1)
	mustValue(t, reg, "loop_channel_track_switch_failures_total", nil, 1)
	mustValue(t, reg, "loop_channel_restarts_total", nil, 1)
	mustValue(t, reg, "loop_channel_encoder_errors_total", map[string]string{"category": "sink_error", "severity": "fatal"}, 2)
	mustValue(t, reg, "loop_channel_encoder_errors_total", map[string]string{"category": "stream_error", "severity": "warning"}, 1)
	mustValue(t, reg, "loop_channel_recovery_decisions_total", map[string]string{"action": "restart", "trigger": "crash"}, 1)
	mustValue(t, reg, "loop_channel_health_signals_total", map[string]string{"kind": "freeze"}, 1)
}

// =============================================================================
// Tests: Summary
// =============================================================================

func TestCollector_GenerateSummary(t *testing.T) {
	c, _ := newTestCollector()

	c.SessionStarted()
	c.SessionStarted()
	c.SessionStarted()
	c.TrackSwitched()
	c.Restarted()
	c.RecordExit(0, 10*time.Second, true)
	c.RecordExit(1, 30*time.Second, false)
	c.RecordExit(1, 20*time.Second, false)
	c.RecordError("sink_error", "fatal")

	s := c.GenerateSummary()
	if s.Sessions != 3 || s.Switches != 1 || s.Restarts != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/1/1", s.Sessions, s.Switches, s.Restarts)
	}
	if s.ExitCodes[1] != 2 || s.ExitCodes[0] != 1 {
		t.Errorf("ExitCodes = %v", s.ExitCodes)
	}
	if s.ErrorCounts["sink_error"] != 1 {
		t.Errorf("ErrorCounts = %v", s.ErrorCounts)
	}
	if s.SessionP50 != 20*time.Second || s.LongestUptime != 30*time.Second {
		t.Errorf("P50=%v longest=%v, want 20s/30s", s.SessionP50, s.LongestUptime)
	}
}

func TestCollector_GenerateSummary_Empty(t *testing.T) {
	c, _ := newTestCollector()

	s := c.GenerateSummary()
	if s.Sessions != 0 || s.SessionP50 != 0 || len(s.ExitCodes) != 0 {
		t.Errorf("empty summary = %+v", s)
	}
}

// =============================================================================
// Tests: Helpers
// =============================================================================

func TestSortDurations(t *testing.T) {
	tests := []struct {
		name  string
		input []time.Duration
		want  []time.Duration
	}{
		{"empty", []time.Duration{}, []time.Duration{}},
		{"single", []time.Duration{5}, []time.Duration{5}},
		{"reversed", []time.Duration{3, 2, 1}, []time.Duration{1, 2, 3}},
		{"duplicates", []time.Duration{2, 1, 2, 1}, []time.Duration{1, 1, 2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sortDurations(tt.input)
			for i := range tt.want {
				if tt.input[i] != tt.want[i] {
					t.Errorf("sortDurations() = %v, want %v", tt.input, tt.want)
					break
				}
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, 10},
		{0.5, 50},
		{0.95, 90},
		{1, 100},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("percentile(nil) = %v, want 0", got)
	}
}

func TestCollector_ThreadSafety(t *testing.T) {
	c, reg := newTestCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordUpdate(&ChannelUpdate{State: "running", SessionID: "s", LinesRead: int64(j)})
				c.SessionStarted()
				c.RecordExit(1, time.Second, false)
				c.RecordError("io_error", "fatal")
				_ = c.GenerateSummary()
			}
		}(i)
	}
	wg.Wait()

	mustValue(t, reg, "loop_channel_sessions_started_total", nil, 800)
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkCollector_RecordUpdate(b *testing.B) {
	c := NewCollectorWithRegistry(CollectorConfig{}, prometheus.NewRegistry())
	u := &ChannelUpdate{State: "running", OnAir: true, SessionID: "s", Track: "t", FPS: 30}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		u.LinesRead = int64(i)
		c.RecordUpdate(u)
	}
}
