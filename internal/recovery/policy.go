// Package recovery decides how the channel reacts to encoder crashes, lost
// sink connections and an unavailable audio source.
//
// The Policy never acts itself: it returns a Decision that the caller
// carries out, then reports back with RecordOutcome.
package recovery

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/timeseries"
)

// Action is what the caller should do in response to a signal.
type Action int

const (
	// ActionNone means do nothing (cooling down, disabled, or already escalated).
	ActionNone Action = iota

	// ActionRestart means restart the encoder session.
	ActionRestart

	// ActionEscalate means the budget is exhausted; automatic recovery is
	// suspended until Reset.
	ActionEscalate

	// ActionRetryAudio means restart the session to retry the audio source.
	ActionRetryAudio
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRestart:
		return "restart"
	case ActionEscalate:
		return "escalate"
	case ActionRetryAudio:
		return "retry_audio"
	default:
		return "unknown"
	}
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Trigger names the signal that produced a decision.
type Trigger string

const (
	TriggerCrash            Trigger = "crash"
	TriggerSinkLost         Trigger = "sink_connection_lost"
	TriggerAudioUnavailable Trigger = "audio_unavailable"
	TriggerStability        Trigger = "stability_window"
	TriggerManualReset      Trigger = "manual_reset"
)

// Outcome values reported through RecordOutcome.
const (
	OutcomePending    = "pending"
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
)

// Decision is the Policy's answer to one signal.
type Decision struct {
	ID      string        `json:"id"`
	Action  Action        `json:"action"`
	Trigger Trigger       `json:"trigger"`
	Reason  string        `json:"reason"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// Record is one entry in the recovery history.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Trigger   Trigger   `json:"trigger"`
	Reason    string    `json:"reason"`
	Action    Action    `json:"action"`
	Outcome   string    `json:"outcome"`
}

// State is the policy's mutable recovery state.
type State struct {
	RestartCount    int       `json:"restart_count"`
	LastRestartAt   time.Time `json:"last_restart_at"`
	CooldownUntil   time.Time `json:"cooldown_until"`
	Escalated       bool      `json:"escalated"`
	AudioRetryCount int       `json:"audio_retry_count"`
	AudioNextAt     time.Time `json:"audio_next_at"`
	AudioEscalated  bool      `json:"audio_escalated"`
}

// Stats is the pull surface exposed to collaborators.
type Stats struct {
	State
	AutoRecoveryEnabled bool          `json:"auto_recovery_enabled"`
	MaxRestartAttempts  int           `json:"max_restart_attempts"`
	AudioMaxRetries     int           `json:"audio_max_retries"`
	RecentAttempts      int           `json:"recent_attempts"`
	RecentWindow        time.Duration `json:"recent_window"`
}

// Config holds policy limits.
type Config struct {
	AutoRecovery       bool
	MaxRestartAttempts int
	RestartCooldown    time.Duration
	StabilityWindow    time.Duration // 0 disables
	RecentWindow       time.Duration
	AudioRetryInterval time.Duration
	AudioMaxRetries    int
	HistorySize        int
}

// DefaultConfig returns the defaults used by the channel.
func DefaultConfig() Config {
	return Config{
		AutoRecovery:       true,
		MaxRestartAttempts: 3,
		RestartCooldown:    60 * time.Second,
		StabilityWindow:    10 * time.Minute,
		RecentWindow:       10 * time.Minute,
		AudioRetryInterval: 30 * time.Second,
		AudioMaxRetries:    20,
		HistorySize:        100,
	}
}

// Policy is the bounded-retry recovery policy. Safe for concurrent use.
type Policy struct {
	logger *slog.Logger
	clock  timeseries.Clock

	mu         sync.Mutex
	cfg        Config
	state      State
	audioDelay *Backoff
	attempts   *timeseries.Window
	history    []Record
	historyPos int
}

// NewPolicy creates a Policy. A nil clock uses the wall clock.
func NewPolicy(cfg Config, logger *slog.Logger, clock timeseries.Clock) *Policy {
	if clock == nil {
		clock = timeseries.RealClock{}
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 100
	}
	return &Policy{
		logger:     logger,
		clock:      clock,
		cfg:        cfg,
		audioDelay: NewBackoff(clock.Now().UnixNano(), FixedInterval(cfg.AudioRetryInterval)),
		attempts:   timeseries.NewWindowWithClock(cfg.HistorySize, clock),
		history:    make([]Record, 0, cfg.HistorySize),
	}
}

// Configure applies new limits. Counters and escalation are kept; call
// Reset to clear them.
func (p *Policy) Configure(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.AudioRetryInterval != p.cfg.AudioRetryInterval {
		p.audioDelay = NewBackoff(p.clock.Now().UnixNano(), FixedInterval(cfg.AudioRetryInterval))
	}
	cfg.HistorySize = p.cfg.HistorySize // history capacity is fixed at construction
	p.cfg = cfg
}

// OnCrash handles an unexpected exit of the authoritative encoder.
func (p *Policy) OnCrash(reason string) Decision {
	return p.onFailure(TriggerCrash, reason)
}

// OnSinkConnectionLost is treated exactly like a crash: reconnecting needs a
// fresh encoder session.
func (p *Policy) OnSinkConnectionLost(reason string) Decision {
	return p.onFailure(TriggerSinkLost, reason)
}

func (p *Policy) onFailure(trigger Trigger, reason string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	d := Decision{ID: uuid.NewString(), Trigger: trigger, Reason: reason}

	switch {
	case !p.cfg.AutoRecovery:
		d.Action = ActionNone
		d.Reason = joinReason(reason, "auto recovery disabled")

	case p.state.Escalated:
		d.Action = ActionNone
		d.Reason = joinReason(reason, "escalated")

	case p.state.RestartCount >= p.cfg.MaxRestartAttempts:
		d.Action = ActionEscalate
		p.state.Escalated = true
		p.logger.Error("recovery_escalated",
			"severity", "critical",
			"trigger", string(trigger),
			"reason", reason,
			"restart_count", p.state.RestartCount,
			"max_attempts", p.cfg.MaxRestartAttempts,
		)

	case now.Before(p.state.CooldownUntil):
		d.Action = ActionNone
		d.Delay = p.state.CooldownUntil.Sub(now)
		d.Reason = joinReason(reason, "cooling down")

	default:
		d.Action = ActionRestart
		p.state.RestartCount++
		p.state.LastRestartAt = now
		p.state.CooldownUntil = now.Add(p.cfg.RestartCooldown)
		p.attempts.AddAt(now, 1)
		d.Attempt = p.state.RestartCount
	}

	p.recordLocked(now, d)
	p.logger.Info("recovery_decision",
		"id", d.ID,
		"trigger", string(trigger),
		"action", d.Action.String(),
		"reason", d.Reason,
		"restart_count", p.state.RestartCount,
	)
	return d
}

// OnAudioUnavailable handles a lost or unreachable live-audio source. It
// uses its own retry budget, independent of the crash budget.
func (p *Policy) OnAudioUnavailable(reason string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	d := Decision{ID: uuid.NewString(), Trigger: TriggerAudioUnavailable, Reason: reason}

	switch {
	case !p.cfg.AutoRecovery:
		d.Action = ActionNone
		d.Reason = joinReason(reason, "auto recovery disabled")

	case p.state.AudioEscalated:
		d.Action = ActionNone
		d.Reason = joinReason(reason, "audio escalated")

	case p.state.AudioRetryCount >= p.cfg.AudioMaxRetries:
		d.Action = ActionEscalate
		p.state.AudioEscalated = true
		p.logger.Error("audio_recovery_escalated",
			"severity", "critical",
			"reason", reason,
			"audio_retry_count", p.state.AudioRetryCount,
			"max_retries", p.cfg.AudioMaxRetries,
		)

	case now.Before(p.state.AudioNextAt):
		d.Action = ActionNone
		d.Delay = p.state.AudioNextAt.Sub(now)
		d.Reason = joinReason(reason, "waiting for retry interval")

	default:
		d.Action = ActionRetryAudio
		p.state.AudioRetryCount++
		p.state.AudioNextAt = now.Add(p.audioDelay.Next())
		p.attempts.AddAt(now, 1)
		d.Attempt = p.state.AudioRetryCount
	}

	p.recordLocked(now, d)
	p.logger.Info("recovery_decision",
		"id", d.ID,
		"trigger", string(TriggerAudioUnavailable),
		"action", d.Action.String(),
		"reason", d.Reason,
		"audio_retry_count", p.state.AudioRetryCount,
	)
	return d
}

// OnHealthy is called periodically while the authoritative session is
// healthy. A healthy stream clears the audio retry counter. Once uptime
// reaches the stability window, RestartCount resets to zero; Escalated is
// left alone.
func (p *Policy) OnHealthy(uptime time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.AudioRetryCount > 0 && !p.state.AudioEscalated {
		p.state.AudioRetryCount = 0
		p.state.AudioNextAt = time.Time{}
		p.audioDelay.Reset()
		p.logger.Info("audio_recovered")
	}

	if p.cfg.StabilityWindow <= 0 || uptime < p.cfg.StabilityWindow || p.state.RestartCount == 0 {
		return
	}

	now := p.clock.Now()
	prev := p.state.RestartCount
	p.state.RestartCount = 0
	p.recordLocked(now, Decision{
		ID:      uuid.NewString(),
		Action:  ActionNone,
		Trigger: TriggerStability,
		Reason:  "restart count reset after stable run",
	})
	p.setLastOutcomeLocked(OutcomeSucceeded)
	p.logger.Info("recovery_stability_reset",
		"uptime", uptime.String(),
		"previous_restart_count", prev,
	)
}

// Reset clears all counters and escalation (manual action or config change).
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = State{}
	p.audioDelay.Reset()
	p.attempts.Reset()
	p.recordLocked(p.clock.Now(), Decision{
		ID:      uuid.NewString(),
		Action:  ActionNone,
		Trigger: TriggerManualReset,
		Reason:  "recovery state reset",
	})
	p.setLastOutcomeLocked(OutcomeSucceeded)
	p.logger.Info("recovery_reset")
}

// RecordOutcome sets the outcome of a previously returned decision.
// Unknown ids (already evicted) are ignored.
func (p *Policy) RecordOutcome(id, outcome string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.history {
		if p.history[i].ID == id {
			p.history[i].Outcome = outcome
			return
		}
	}
}

// Stats returns a snapshot of the recovery state.
func (p *Policy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	recent := 0
	if p.cfg.RecentWindow > 0 {
		recent = p.attempts.CountSince(p.clock.Now().Add(-p.cfg.RecentWindow))
	}
	return Stats{
		State:               p.state,
		AutoRecoveryEnabled: p.cfg.AutoRecovery,
		MaxRestartAttempts:  p.cfg.MaxRestartAttempts,
		AudioMaxRetries:     p.cfg.AudioMaxRetries,
		RecentAttempts:      recent,
		RecentWindow:        p.cfg.RecentWindow,
	}
}

// Escalated reports whether crash recovery is suspended.
func (p *Policy) Escalated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Escalated
}

// History returns up to limit of the most recent records, newest first.
// limit <= 0 returns everything retained.
func (p *Policy) History(limit int) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	// newest entry is just before historyPos once the ring is full
	for i := 0; i < limit; i++ {
		idx := (p.historyPos - 1 - i + n) % n
		if n < p.cfg.HistorySize {
			idx = n - 1 - i
		}
		out = append(out, p.history[idx])
	}
	return out
}

func (p *Policy) recordLocked(now time.Time, d Decision) {
	outcome := OutcomePending
	if d.Action == ActionNone {
		outcome = OutcomeSuppressed
	}
	r := Record{
		ID:        d.ID,
		Timestamp: now,
		Trigger:   d.Trigger,
		Reason:    d.Reason,
		Action:    d.Action,
		Outcome:   outcome,
	}
	if len(p.history) < p.cfg.HistorySize {
		p.history = append(p.history, r)
		p.historyPos = len(p.history) % p.cfg.HistorySize
		return
	}
	p.history[p.historyPos] = r
	p.historyPos = (p.historyPos + 1) % p.cfg.HistorySize
}

// setLastOutcomeLocked overrides the outcome of the record just written.
func (p *Policy) setLastOutcomeLocked(outcome string) {
	n := len(p.history)
	if n == 0 {
		return
	}
	idx := (p.historyPos - 1 + n) % n
	if n < p.cfg.HistorySize {
		idx = n - 1
	}
	p.history[idx].Outcome = outcome
}

func joinReason(reason, suffix string) string {
	if reason == "" {
		return suffix
	}
	return reason + ": " + suffix
}
