// Package metrics provides Prometheus metrics and the HTTP surface for
// go-ffmpeg-loop-channel.
//
// Metrics are organized into panels:
//   - Channel: what is on air and for how long
//   - Encoder: the latest sample parsed from the authoritative session
//   - Lifecycle: starts, switches, restarts, exits, classified errors
//   - Recovery: policy counters and the escalation flag
//   - Health: freeze / bitrate-collapse signals
//   - Pipeline: output line drops
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "loop_channel"

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version      string
	SinkAddress  string
	VideoEncoder string
}

// Collector manages all Prometheus metrics for the channel.
type Collector struct {
	// --- Panel 1: Channel ---
	info          *prometheus.GaugeVec
	onAir         prometheus.Gauge
	state         *prometheus.GaugeVec
	track         *prometheus.GaugeVec
	uptimeSeconds prometheus.Gauge

	// --- Panel 2: Encoder ---
	fps              prometheus.Gauge
	bitrateKbps      prometheus.Gauge
	speed            prometheus.Gauge
	frame            prometheus.Gauge
	droppedFrames    prometheus.Gauge
	duplicatedFrames prometheus.Gauge
	queueDepth       prometheus.Gauge
	streamHealthy    prometheus.Gauge

	// --- Panel 3: Lifecycle ---
	sessionsTotal  prometheus.Counter
	switchesTotal  prometheus.Counter
	restartsTotal  prometheus.Counter
	exitsTotal     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	sessionUptime  prometheus.Histogram
	switchFailures prometheus.Counter

	// --- Panel 4: Recovery ---
	escalated       prometheus.Gauge
	restartCount    prometheus.Gauge
	audioRetryCount prometheus.Gauge
	recentAttempts  prometheus.Gauge
	autoRecovery    prometheus.Gauge
	decisionsTotal  *prometheus.CounterVec

	// --- Panel 5: Health ---
	healthDegraded prometheus.Gauge
	baselineKbps   prometheus.Gauge
	signalsTotal   *prometheus.CounterVec

	// --- Panel 6: Pipeline ---
	linesReadTotal    prometheus.Counter
	linesDroppedTotal prometheus.Counter
	metricsDegraded   prometheus.Gauge

	// Internal tracking for delta calculations
	mu               sync.Mutex
	prevSessionID    string
	prevLinesRead    int64
	prevLinesDropped int64
	currentTrack     string
	currentState     string

	// For summary generation
	startTime     time.Time
	totalSessions int64
	totalSwitches int64
	totalRestarts int64
	exitCodes     map[int]int64
	uptimes       []time.Duration
	errorCounts   map[string]int64
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the channel (value always 1)",
		}, []string{"version", "sink", "video_encoder"}),
		onAir: gauge("on_air", "1 when an authoritative encoder session is running"),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supervisor_state",
			Help:      "Current supervisor state (1 for the active state)",
		}, []string{"state"}),
		track: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "track",
			Help:      "Track currently on air (value always 1)",
		}, []string{"track"}),
		uptimeSeconds: gauge("session_uptime_seconds", "Uptime of the authoritative session"),

		fps:              gauge("encoder_fps", "Latest encoder frames per second"),
		bitrateKbps:      gauge("encoder_bitrate_kbps", "Latest encoder output bitrate"),
		speed:            gauge("encoder_speed", "Latest encoding speed (1.0 = realtime)"),
		frame:            gauge("encoder_frame", "Frames encoded by the authoritative session"),
		droppedFrames:    gauge("encoder_dropped_frames", "Frames dropped by the authoritative session"),
		duplicatedFrames: gauge("encoder_duplicated_frames", "Frames duplicated by the authoritative session"),
		queueDepth:       gauge("encoder_input_queue_warnings", "Input thread queue warnings since the previous metrics sample"),
		streamHealthy:    gauge("stream_healthy", "1 when the parsed output looks healthy"),

		sessionsTotal: counter("sessions_started_total", "Encoder sessions confirmed on air"),
		switchesTotal: counter("track_switches_total", "Completed overlap switches"),
		restartsTotal: counter("restarts_total", "Restarts performed by recovery or on request"),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_exits_total",
			Help:      "Encoder session exits by category",
		}, []string{"category"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoder_errors_total",
			Help:      "Classified encoder output lines",
		}, []string{"category", "severity"}),
		sessionUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of exited encoder sessions",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 4 * 3600, 24 * 3600},
		}),
		switchFailures: counter("track_switch_failures_total", "Switches aborted before the replacement went on air"),

		escalated:       gauge("recovery_escalated", "1 when automatic recovery has given up"),
		restartCount:    gauge("recovery_restart_count", "Restarts counted against the current budget"),
		audioRetryCount: gauge("recovery_audio_retry_count", "Consecutive live-audio retries"),
		recentAttempts:  gauge("recovery_recent_attempts", "Recovery attempts within the reporting window"),
		autoRecovery:    gauge("recovery_auto_enabled", "1 when automatic recovery is enabled"),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_decisions_total",
			Help:      "Recovery policy decisions by action and trigger",
		}, []string{"action", "trigger"}),

		healthDegraded: gauge("health_degraded", "1 while a freeze or bitrate collapse is latched"),
		baselineKbps:   gauge("health_baseline_kbps", "Median bitrate of the rolling baseline"),
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_signals_total",
			Help:      "Degradation signals raised by the health monitor",
		}, []string{"kind"}),

		linesReadTotal:    counter("output_lines_read_total", "Encoder output lines read"),
		linesDroppedTotal: counter("output_lines_dropped_total", "Encoder output lines dropped by a full parse buffer"),
		metricsDegraded:   gauge("output_metrics_degraded", "1 when the parse pipeline drops too many lines"),

		startTime:   time.Now(),
		exitCodes:   make(map[int]int64),
		errorCounts: make(map[string]int64),
	}

	registry.MustRegister(
		// Panel 1: Channel
		c.info, c.onAir, c.state, c.track, c.uptimeSeconds,

		// Panel 2: Encoder
		c.fps, c.bitrateKbps, c.speed, c.frame,
		c.droppedFrames, c.duplicatedFrames, c.queueDepth, c.streamHealthy,

		// Panel 3: Lifecycle
		c.sessionsTotal, c.switchesTotal, c.restartsTotal,
		c.exitsTotal, c.errorsTotal, c.sessionUptime, c.switchFailures,

		// Panel 4: Recovery
		c.escalated, c.restartCount, c.audioRetryCount,
		c.recentAttempts, c.autoRecovery, c.decisionsTotal,

		// Panel 5: Health
		c.healthDegraded, c.baselineKbps, c.signalsTotal,

		// Panel 6: Pipeline
		c.linesReadTotal, c.linesDroppedTotal, c.metricsDegraded,
	)

	// Set initial values
	c.info.WithLabelValues(cfg.Version, cfg.SinkAddress, cfg.VideoEncoder).Set(1)
	c.state.WithLabelValues("idle").Set(1)
	c.currentState = "idle"

	return c
}

// =============================================================================
// Update Methods
// =============================================================================

// ChannelUpdate is a point-in-time view of the channel used to refresh the
// gauges. Filled by the channel controller so this package does not depend
// on the supervisor or policy types.
type ChannelUpdate struct {
	// Channel
	State         string
	OnAir         bool
	SessionID     string
	Track         string
	UptimeSeconds float64

	// Encoder
	FPS              float64
	BitrateKbps      float64
	Speed            float64
	Frame            int64
	DroppedFrames    int64
	DuplicatedFrames int64
	QueueDepth       int64
	StreamHealthy    bool

	// Recovery
	AutoRecovery    bool
	Escalated       bool
	RestartCount    int
	AudioRetryCount int
	RecentAttempts  int

	// Health
	HealthDegraded bool
	BaselineKbps   float64

	// Pipeline (cumulative for SessionID)
	LinesRead       int64
	LinesDropped    int64
	MetricsDegraded bool
}

// RecordUpdate refreshes every gauge from u and advances the line counters.
func (c *Collector) RecordUpdate(u *ChannelUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// --- Panel 1: Channel ---
	c.onAir.Set(boolFloat(u.OnAir))
	if u.State != c.currentState {
		if c.currentState != "" {
			c.state.DeleteLabelValues(c.currentState)
		}
		c.state.WithLabelValues(u.State).Set(1)
		c.currentState = u.State
	}
	if u.Track != c.currentTrack {
		if c.currentTrack != "" {
			c.track.DeleteLabelValues(c.currentTrack)
		}
		if u.Track != "" {
			c.track.WithLabelValues(u.Track).Set(1)
		}
		c.currentTrack = u.Track
	}
	c.uptimeSeconds.Set(u.UptimeSeconds)

	// --- Panel 2: Encoder ---
	c.fps.Set(u.FPS)
	c.bitrateKbps.Set(u.BitrateKbps)
	c.speed.Set(u.Speed)
	c.frame.Set(float64(u.Frame))
	c.droppedFrames.Set(float64(u.DroppedFrames))
	c.duplicatedFrames.Set(float64(u.DuplicatedFrames))
	c.queueDepth.Set(float64(u.QueueDepth))
	c.streamHealthy.Set(boolFloat(u.StreamHealthy))

	// --- Panel 4: Recovery ---
	c.autoRecovery.Set(boolFloat(u.AutoRecovery))
	c.escalated.Set(boolFloat(u.Escalated))
	c.restartCount.Set(float64(u.RestartCount))
	c.audioRetryCount.Set(float64(u.AudioRetryCount))
	c.recentAttempts.Set(float64(u.RecentAttempts))

	// --- Panel 5: Health ---
	c.healthDegraded.Set(boolFloat(u.HealthDegraded))
	c.baselineKbps.Set(u.BaselineKbps)

	// --- Panel 6: Pipeline ---
	// Line counts restart with every session; only deltas reach the counters.
	if u.SessionID != c.prevSessionID {
		c.prevSessionID = u.SessionID
		c.prevLinesRead = 0
		c.prevLinesDropped = 0
	}
	if delta := u.LinesRead - c.prevLinesRead; delta > 0 {
		c.linesReadTotal.Add(float64(delta))
	}
	if delta := u.LinesDropped - c.prevLinesDropped; delta > 0 {
		c.linesDroppedTotal.Add(float64(delta))
	}
	c.prevLinesRead = u.LinesRead
	c.prevLinesDropped = u.LinesDropped
	c.metricsDegraded.Set(boolFloat(u.MetricsDegraded))
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// SessionStarted records a session going on air.
func (c *Collector) SessionStarted() {
	c.sessionsTotal.Inc()

	c.mu.Lock()
	c.totalSessions++
	c.mu.Unlock()
}

// TrackSwitched records a completed overlap switch.
func (c *Collector) TrackSwitched() {
	c.switchesTotal.Inc()

	c.mu.Lock()
	c.totalSwitches++
	c.mu.Unlock()
}

// SwitchFailed records an aborted switch.
func (c *Collector) SwitchFailed() {
	c.switchFailures.Inc()
}

// Restarted records a restart.
func (c *Collector) Restarted() {
	c.restartsTotal.Inc()

	c.mu.Lock()
	c.totalRestarts++
	c.mu.Unlock()
}

// RecordExit records a session exit.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration, expected bool) {
	// Categorize exit code
	category := "crash"
	switch {
	case expected:
		category = "planned"
	case exitCode == 0:
		category = "success"
	case exitCode > 128:
		category = "signal"
	}
	c.exitsTotal.WithLabelValues(category).Inc()

	// Record uptime
	c.sessionUptime.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// RecordError records a classified output line.
func (c *Collector) RecordError(category, severity string) {
	c.errorsTotal.WithLabelValues(category, severity).Inc()

	c.mu.Lock()
	c.errorCounts[category]++
	c.mu.Unlock()
}

// RecordDecision records a recovery policy decision.
func (c *Collector) RecordDecision(action, trigger string) {
	c.decisionsTotal.WithLabelValues(action, trigger).Inc()
}

// RecordSignal records a health degradation signal.
func (c *Collector) RecordSignal(kind string) {
	c.signalsTotal.WithLabelValues(kind).Inc()
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration      time.Duration
	Sessions      int64
	Switches      int64
	Restarts      int64
	ExitCodes     map[int]int64
	ErrorCounts   map[string]int64
	SessionP50    time.Duration
	SessionP95    time.Duration
	LongestUptime time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		Sessions:    c.totalSessions,
		Switches:    c.totalSwitches,
		Restarts:    c.totalRestarts,
		ExitCodes:   make(map[int]int64, len(c.exitCodes)),
		ErrorCounts: make(map[string]int64, len(c.errorCounts)),
	}

	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}
	for category, count := range c.errorCounts {
		s.ErrorCounts[category] = count
	}

	// Calculate percentiles
	if len(c.uptimes) > 0 {
		sorted := make([]time.Duration, len(c.uptimes))
		copy(sorted, c.uptimes)
		sortDurations(sorted)

		s.SessionP50 = percentile(sorted, 0.50)
		s.SessionP95 = percentile(sorted, 0.95)
		s.LongestUptime = sorted[len(sorted)-1]
	}

	return s
}

// =============================================================================
// Helper Functions
// =============================================================================

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// sortDurations sorts a slice of durations in place.
func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j] < d[j-1]; j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
