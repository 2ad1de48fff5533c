// Package health watches the authoritative encoder session for failures
// that do not make the process exit: a frozen frame counter and a collapse
// of the output bitrate.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/parser"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/timeseries"
)

// Kind identifies a degradation signal.
type Kind int

const (
	KindFreeze Kind = iota
	KindBitrateCollapse
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindFreeze:
		return "freeze"
	case KindBitrateCollapse:
		return "bitrate_collapse"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind name in JSON documents.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Signal reports one detected degradation.
type Signal struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Value     float64   `json:"value"`
	Baseline  float64   `json:"baseline,omitempty"`
	At        time.Time `json:"at"`
}

// MetricsSource supplies the latest sample of the authoritative session.
// ok is false until the session has produced a sample; an empty sessionID
// means nothing is on air.
type MetricsSource interface {
	Metrics() (sessionID string, sample parser.MetricSample, ok bool)
}

// Config holds the monitor thresholds.
type Config struct {
	Interval           time.Duration // Poll period for Run
	FreezeTimeout      time.Duration // Frame counter unchanged this long is a freeze
	CollapsePct        float64       // Bitrate below baseline*(1-CollapsePct) is a collapse
	BaselineWindow     int           // Samples in the rolling baseline
	MinBaselineSamples int           // Collapse detection needs at least this many
}

// DefaultConfig returns the default monitor thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:           5 * time.Second,
		FreezeTimeout:      15 * time.Second,
		CollapsePct:        0.5,
		BaselineWindow:     12,
		MinBaselineSamples: 3,
	}
}

// Status is a snapshot of the monitor state.
type Status struct {
	SessionID       string    `json:"session_id,omitempty"`
	Frozen          bool      `json:"frozen"`
	Collapsed       bool      `json:"bitrate_collapsed"`
	BitrateKbps     float64   `json:"bitrate_kbps"`
	BaselineKbps    float64   `json:"baseline_kbps"`
	BaselineSamples int       `json:"baseline_samples"`
	LastFrameChange time.Time `json:"last_frame_change"`
	Signals         int64     `json:"signals"`
}

// Monitor polls a MetricsSource and raises a Signal on freeze or bitrate
// collapse. Each condition fires once and re-arms when it clears or when a
// new session appears.
type Monitor struct {
	source     MetricsSource
	cfg        Config
	logger     *slog.Logger
	clock      timeseries.Clock
	onDegraded func(Signal)

	mu              sync.Mutex
	sessionID       string
	lastFrame       int64
	lastFrameChange time.Time
	lastSampleAt    time.Time
	baseline        *timeseries.Window
	bitrate         float64
	frozen          bool
	collapsed       bool
	signals         int64
}

// NewMonitor creates a monitor. onDegraded may be nil.
func NewMonitor(source MetricsSource, cfg Config, logger *slog.Logger, clock timeseries.Clock, onDegraded func(Signal)) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FreezeTimeout <= 0 {
		cfg.FreezeTimeout = def.FreezeTimeout
	}
	if cfg.CollapsePct <= 0 || cfg.CollapsePct >= 1 {
		cfg.CollapsePct = def.CollapsePct
	}
	if cfg.BaselineWindow < 1 {
		cfg.BaselineWindow = def.BaselineWindow
	}
	if cfg.MinBaselineSamples < 1 {
		cfg.MinBaselineSamples = def.MinBaselineSamples
	}
	if cfg.MinBaselineSamples > cfg.BaselineWindow {
		cfg.MinBaselineSamples = cfg.BaselineWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = timeseries.RealClock{}
	}

	return &Monitor{
		source:     source,
		cfg:        cfg,
		logger:     logger.With("component", "health"),
		clock:      clock,
		onDegraded: onDegraded,
		baseline:   timeseries.NewWindowWithClock(cfg.BaselineWindow, clock),
	}
}

// Run polls the source every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(m.clock.Now())
		}
	}
}

// Check evaluates the source once and returns the signals raised. The
// onDegraded callback is invoked for each of them.
func (m *Monitor) Check(now time.Time) []Signal {
	sessionID, sample, ok := m.source.Metrics()

	m.mu.Lock()
	if sessionID == "" {
		m.rearmLocked("", now, 0)
		m.mu.Unlock()
		return nil
	}
	if sessionID != m.sessionID {
		m.rearmLocked(sessionID, now, sample.Frame)
		m.logger.Debug("health_rearmed", "session_id", sessionID)
		m.mu.Unlock()
		return nil
	}

	var signals []Signal

	if sample.Frame != m.lastFrame {
		m.lastFrame = sample.Frame
		m.lastFrameChange = now
		m.frozen = false
	} else if stalled := now.Sub(m.lastFrameChange); !m.frozen && stalled > m.cfg.FreezeTimeout {
		m.frozen = true
		signals = append(signals, Signal{
			Kind:      KindFreeze,
			SessionID: sessionID,
			Reason:    fmt.Sprintf("frame counter stuck at %d for %s", sample.Frame, stalled.Round(time.Second)),
			Value:     float64(sample.Frame),
			At:        now,
		})
	}

	if ok && sample.Timestamp.After(m.lastSampleAt) {
		m.lastSampleAt = sample.Timestamp
		if sig, raised := m.checkBitrateLocked(sessionID, sample.BitrateKbps, now); raised {
			signals = append(signals, sig)
		}
	}

	m.signals += int64(len(signals))
	m.mu.Unlock()

	for _, sig := range signals {
		m.logger.Warn("stream_degraded",
			"kind", sig.Kind.String(),
			"session_id", sig.SessionID,
			"reason", sig.Reason,
		)
		if m.onDegraded != nil {
			m.onDegraded(sig)
		}
	}
	return signals
}

// checkBitrateLocked compares the current bitrate to the median of the
// rolling baseline. Collapsed samples are kept out of the baseline.
func (m *Monitor) checkBitrateLocked(sessionID string, kbps float64, now time.Time) (Signal, bool) {
	m.bitrate = kbps

	if m.baseline.Len() < m.cfg.MinBaselineSamples {
		m.baseline.AddAt(now, kbps)
		return Signal{}, false
	}

	base := median(m.baseline.Values())
	threshold := base * (1 - m.cfg.CollapsePct)
	if kbps >= threshold {
		m.collapsed = false
		m.baseline.AddAt(now, kbps)
		return Signal{}, false
	}

	if m.collapsed {
		return Signal{}, false
	}
	m.collapsed = true
	return Signal{
		Kind:      KindBitrateCollapse,
		SessionID: sessionID,
		Reason:    fmt.Sprintf("bitrate %.0fkbps below %.0f%% of baseline %.0fkbps", kbps, (1-m.cfg.CollapsePct)*100, base),
		Value:     kbps,
		Baseline:  base,
		At:        now,
	}, true
}

func (m *Monitor) rearmLocked(sessionID string, now time.Time, frame int64) {
	m.sessionID = sessionID
	m.lastFrame = frame
	m.lastFrameChange = now
	m.lastSampleAt = time.Time{}
	m.bitrate = 0
	m.frozen = false
	m.collapsed = false
	m.baseline.Reset()
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		SessionID:       m.sessionID,
		Frozen:          m.frozen,
		Collapsed:       m.collapsed,
		BitrateKbps:     m.bitrate,
		BaselineSamples: m.baseline.Len(),
		LastFrameChange: m.lastFrameChange,
		Signals:         m.signals,
	}
	if st.BaselineSamples > 0 {
		st.BaselineKbps = median(m.baseline.Values())
	}
	return st
}

// Degraded reports whether a freeze or collapse is currently latched.
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen || m.collapsed
}

// median estimates the median with a t-digest.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	td := tdigest.NewWithCompression(100)
	for _, v := range values {
		td.Add(v, 1)
	}
	return td.Quantile(0.5)
}
