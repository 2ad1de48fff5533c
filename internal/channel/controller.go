// Package channel wires the encoder supervisor, recovery policy, health
// monitor and metrics collector into one never-stopping channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/health"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/metrics"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/parser"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/recovery"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/supervisor"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/timeseries"
)

// ErrEscalated is returned by Recover once automatic recovery has given up.
var ErrEscalated = errors.New("automatic recovery escalated")

// Options holds configuration for creating a Controller.
type Options struct {
	Store    *config.Store
	Resolver Resolver
	Builder  supervisor.ProcessBuilder
	Logger   *slog.Logger
	Clock    timeseries.Clock

	// Registry receives the channel metrics. nil creates a private one.
	Registry *prometheus.Registry
	Version  string

	// TickInterval is how often status is refreshed into metrics and the
	// stability window is evaluated. Defaults to 1s.
	TickInterval time.Duration
}

// Controller coordinates all components of one channel.
type Controller struct {
	store    *config.Store
	resolver Resolver
	logger   *slog.Logger
	clock    timeseries.Clock
	tick     time.Duration

	sup       *supervisor.Supervisor
	policy    *recovery.Policy
	monitor   *health.Monitor
	collector *metrics.Collector
	registry  *prometheus.Registry

	signals   chan health.Signal
	failures  chan failure
	startedAt time.Time

	mu     sync.Mutex
	runCtx context.Context

	// async tracks track changes and resets requested over HTTP.
	async sync.WaitGroup

	// trackMu is held while a requested track change is in flight.
	trackMu sync.Mutex
}

// New creates a Controller from the store's current configuration.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("channel: config store is required")
	}
	cfg := opts.Store.Current()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeseries.RealClock{}
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewDirResolver(cfg.LoopDir, cfg.LoopExt, cfg.DefaultLoop)
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	c := &Controller{
		store:     opts.Store,
		resolver:  resolver,
		logger:    logger.With("component", "channel"),
		clock:     clock,
		tick:      tick,
		registry:  registry,
		signals:   make(chan health.Signal, 4),
		failures:  make(chan failure, 1),
		startedAt: clock.Now(),
		runCtx:    context.Background(),
	}

	c.collector = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:      opts.Version,
		SinkAddress:  cfg.Encoding.SinkAddress,
		VideoEncoder: cfg.Encoding.VideoEncoder,
	}, registry)

	c.policy = recovery.NewPolicy(recoveryConfig(cfg), logger.With("component", "recovery"), clock)

	c.sup = supervisor.New(supervisor.Options{
		Builder:               opts.Builder,
		Config:                opts.Store,
		Logger:                logger,
		StartupTimeout:        cfg.StartupTimeout,
		StartupGrace:          cfg.StartupGrace,
		GraceTimeout:          cfg.GraceTimeout,
		KillTimeout:           cfg.KillTimeout,
		StatsBufferSize:       cfg.StatsBufferSize,
		MaxErrorEvents:        cfg.MaxErrorEvents,
		DroppedFrameThreshold: cfg.DroppedFrameThreshold,
		Callbacks: supervisor.Callbacks{
			OnSessionStart: c.onSessionStart,
			OnSessionExit:  c.onSessionExit,
			OnErrorEvent:   c.onErrorEvent,
		},
	})

	c.monitor = health.NewMonitor(c.sup, healthConfig(cfg), logger, clock, c.onDegraded)

	return c, nil
}

// recoveryConfig maps the channel configuration to policy limits.
func recoveryConfig(cfg *config.Config) recovery.Config {
	return recovery.Config{
		AutoRecovery:       cfg.AutoRecovery,
		MaxRestartAttempts: cfg.Encoding.MaxRestartAttempts,
		RestartCooldown:    cfg.Encoding.RestartCooldown,
		StabilityWindow:    cfg.StabilityWindow,
		RecentWindow:       cfg.RecoveryWindow,
		AudioRetryInterval: cfg.AudioRetryInterval,
		AudioMaxRetries:    cfg.AudioMaxRetries,
		HistorySize:        cfg.HistorySize,
	}
}

func healthConfig(cfg *config.Config) health.Config {
	return health.Config{
		Interval:       cfg.HealthInterval,
		FreezeTimeout:  cfg.FreezeTimeout,
		CollapsePct:    cfg.BitrateCollapsePct,
		BaselineWindow: cfg.BaselineSamples,
	}
}

// Start puts the first track on air. An empty trackKey plays the default
// loop.
func (c *Controller) Start(ctx context.Context, trackKey string) error {
	path, err := c.resolver.Resolve(ctx, trackKey)
	if err != nil {
		return fmt.Errorf("resolve track %q: %w", trackKey, err)
	}
	c.logger.Info("channel_starting", "track", trackKey, "loop", path)
	return c.sup.Start(ctx, supervisor.StartRequest{TrackKey: trackKey, LoopPath: path})
}

// Boot puts the first track on air like Start, but hands an encoder that
// fails to come up to the recovery loop instead of returning. A live audio
// source that is down at boot is then retried on the audio interval. Only an
// unknown track or an unreadable loop is returned as an error.
func (c *Controller) Boot(ctx context.Context, trackKey string) error {
	err := c.Start(ctx, trackKey)
	if err == nil || ctx.Err() != nil ||
		errors.Is(err, ErrUnknownTrack) ||
		errors.Is(err, supervisor.ErrLoopUnreadable) ||
		errors.Is(err, supervisor.ErrAlreadyRunning) {
		return err
	}

	f := failure{trigger: recovery.TriggerCrash, reason: err.Error()}
	var se *supervisor.StartupError
	if errors.As(err, &se) {
		f.trigger = triggerFor(se.Category)
		f.reason = se.Reason
	}
	c.logger.Warn("channel_start_failed",
		"track", trackKey,
		"trigger", string(f.trigger),
		"error", err,
	)
	select {
	case c.failures <- f:
	default:
	}
	return nil
}

// OnTrackChange switches the visual loop for a new audio track. The config
// is reloaded first so the switch uses the latest encoder settings. The
// prior session keeps playing if the switch fails.
func (c *Controller) OnTrackChange(ctx context.Context, trackKey string) error {
	if err := c.Reload(); err != nil {
		c.logger.Warn("track_change_stale_config", "track", trackKey, "error", err)
	}

	path, err := c.resolver.Resolve(ctx, trackKey)
	if err != nil {
		c.collector.SwitchFailed()
		c.logger.Warn("track_change_rejected", "track", trackKey, "error", err)
		return fmt.Errorf("resolve track %q: %w", trackKey, err)
	}

	wasOnAir := c.sup.IsRunning()
	err = c.sup.SwitchTrack(ctx, supervisor.StartRequest{TrackKey: trackKey, LoopPath: path})
	if err != nil {
		if !errors.Is(err, supervisor.ErrBusy) {
			c.collector.SwitchFailed()
		}
		c.logger.Warn("track_change_failed", "track", trackKey, "error", err)
		return err
	}
	if wasOnAir {
		c.collector.TrackSwitched()
	}
	return nil
}

// Reload re-reads the config file and applies new recovery limits. Encoder
// settings are picked up by the next spawned session.
func (c *Controller) Reload() error {
	cfg, changed, err := c.store.Reload()
	if err != nil {
		c.logger.Warn("config_reload_failed", "error", err)
		return err
	}
	if changed {
		c.policy.Configure(recoveryConfig(cfg))
		c.logger.Info("config_reloaded",
			"file", cfg.ConfigFile,
			"overlap", cfg.Encoding.Overlap.String(),
			"max_restart_attempts", cfg.Encoding.MaxRestartAttempts,
		)
	}
	return nil
}

// Run drives recovery, health polling and metrics refresh until ctx is
// cancelled, then terminates every encoder session.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.monitor.Run(ctx)
	}()

	c.loop(ctx)

	wg.Wait()
	c.async.Wait()
	c.sup.Cleanup()
	c.refresh()
	c.logger.Info("channel_stopped", "uptime", c.clock.Now().Sub(c.startedAt).String())
	return nil
}

// failure is a recovery trigger waiting on a retry timer.
type failure struct {
	trigger recovery.Trigger
	reason  string
}

func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	var (
		retryTimer *time.Timer
		retryC     <-chan time.Time
		retryFor   failure
	)
	schedule := func(f failure, after time.Duration) {
		if retryTimer != nil {
			retryTimer.Stop()
		}
		retryTimer, retryC = nil, nil
		if after <= 0 {
			return
		}
		retryTimer = time.NewTimer(after)
		retryC = retryTimer.C
		retryFor = f
		c.logger.Info("recovery_retry_scheduled", "trigger", string(f.trigger), "after", after.String())
	}
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-c.sup.Events():
			c.logger.Warn("channel_encoder_lost",
				"session_id", ev.SessionID,
				"track", ev.TrackKey,
				"exit_code", ev.ExitCode,
				"category", ev.Category.String(),
				"reason", ev.Reason,
			)
			f := failure{trigger: triggerFor(ev.Category), reason: ev.Reason}
			schedule(f, c.recover(ctx, f))

		case sig := <-c.signals:
			f := failure{trigger: recovery.TriggerSinkLost, reason: sig.Reason}
			schedule(f, c.recover(ctx, f))

		case f := <-c.failures:
			if c.sup.IsRunning() {
				continue
			}
			schedule(f, c.recover(ctx, f))

		case <-retryC:
			retryTimer, retryC = nil, nil
			if c.sup.IsRunning() {
				continue
			}
			schedule(retryFor, c.recover(ctx, retryFor))

		case <-ticker.C:
			c.refresh()
		}
	}
}

func (c *Controller) recover(ctx context.Context, f failure) time.Duration {
	after, err := c.Recover(ctx, f.trigger, f.reason)
	if err != nil && !errors.Is(err, ErrEscalated) && ctx.Err() == nil {
		c.logger.Warn("recovery_failed", "trigger", string(f.trigger), "error", err)
	}
	return after
}

// triggerFor maps the category of the last fatal output line to the
// recovery trigger it represents.
func triggerFor(cat parser.Category) recovery.Trigger {
	switch cat {
	case parser.CategorySinkError, parser.CategoryConnectionFailed:
		return recovery.TriggerSinkLost
	case parser.CategoryAudioError:
		return recovery.TriggerAudioUnavailable
	default:
		return recovery.TriggerCrash
	}
}

// Recover asks the policy what to do about a failure and carries it out. A
// restart that fails to come up is fed back to the policy until it either
// succeeds, waits or escalates. The returned delay is non-zero when the policy
// asked to wait and nothing is on air.
func (c *Controller) Recover(ctx context.Context, trigger recovery.Trigger, reason string) (time.Duration, error) {
	for {
		d := c.decide(trigger, reason)

		switch d.Action {
		case recovery.ActionEscalate:
			c.sup.MarkEscalated()
			c.policy.RecordOutcome(d.ID, recovery.OutcomeFailed)
			c.logger.Error("channel_escalated",
				"severity", "critical",
				"trigger", string(trigger),
				"reason", reason,
			)
			return 0, ErrEscalated

		case recovery.ActionNone:
			if d.Delay > 0 && !c.sup.IsRunning() {
				return d.Delay, nil
			}
			return 0, nil
		}

		c.sup.MarkRecoveryPending()
		err := c.sup.Restart(ctx)
		switch {
		case err == nil:
			c.policy.RecordOutcome(d.ID, recovery.OutcomeSucceeded)
			c.collector.Restarted()
			return 0, nil
		case errors.Is(err, supervisor.ErrBusy):
			// A switch owns the transition; it decides what ends up on air.
			c.policy.RecordOutcome(d.ID, recovery.OutcomeSuppressed)
			return 0, nil
		case errors.Is(err, supervisor.ErrNotRunning), ctx.Err() != nil:
			c.policy.RecordOutcome(d.ID, recovery.OutcomeFailed)
			return 0, err
		}

		c.policy.RecordOutcome(d.ID, recovery.OutcomeFailed)
		c.logger.Warn("recovery_restart_failed", "id", d.ID, "action", d.Action.String(), "error", err)
		reason = "restart failed: " + err.Error()
	}
}

func (c *Controller) decide(trigger recovery.Trigger, reason string) recovery.Decision {
	var d recovery.Decision
	switch trigger {
	case recovery.TriggerAudioUnavailable:
		d = c.policy.OnAudioUnavailable(reason)
	case recovery.TriggerSinkLost:
		d = c.policy.OnSinkConnectionLost(reason)
	default:
		d = c.policy.OnCrash(reason)
	}
	c.collector.RecordDecision(d.Action.String(), string(d.Trigger))
	return d
}

// refresh evaluates the stability window and pushes a status snapshot into
// the metrics collector.
func (c *Controller) refresh() {
	st := c.sup.Status()
	hs := c.monitor.Status()
	if st.Current != nil && st.Healthy && !hs.Frozen && !hs.Collapsed {
		c.policy.OnHealthy(time.Duration(st.UptimeSeconds * float64(time.Second)))
	}
	c.collector.RecordUpdate(channelUpdate(st, hs, c.policy.Stats()))
}

func channelUpdate(st supervisor.Status, hs health.Status, rs recovery.Stats) *metrics.ChannelUpdate {
	u := &metrics.ChannelUpdate{
		State:         st.State.String(),
		OnAir:         st.Current != nil,
		UptimeSeconds: st.UptimeSeconds,

		FPS:              st.Metrics.FPS,
		BitrateKbps:      st.Metrics.BitrateKbps,
		Speed:            st.Metrics.Speed,
		Frame:            st.Metrics.Frame,
		DroppedFrames:    st.Metrics.DroppedFrames,
		DuplicatedFrames: st.Metrics.DuplicatedFrames,
		QueueDepth:       st.Metrics.QueueDepth,
		StreamHealthy:    st.Healthy,

		AutoRecovery:    rs.AutoRecoveryEnabled,
		Escalated:       rs.Escalated || rs.AudioEscalated,
		RestartCount:    rs.RestartCount,
		AudioRetryCount: rs.AudioRetryCount,
		RecentAttempts:  rs.RecentAttempts,

		HealthDegraded: hs.Frozen || hs.Collapsed,
		BaselineKbps:   hs.BaselineKbps,

		LinesRead:       st.LinesRead,
		LinesDropped:    st.LinesDropped,
		MetricsDegraded: st.Degraded,
	}
	if st.Current != nil {
		u.SessionID = st.Current.SessionID
		u.Track = st.Current.TrackKey
	}
	return u
}

// Supervisor and monitor callbacks

func (c *Controller) onSessionStart(h supervisor.ProcessHandle) {
	c.collector.SessionStarted()
	c.logger.Info("channel_on_air", "track", h.TrackKey, "session_id", h.SessionID, "pid", h.PID)
}

func (c *Controller) onSessionExit(h supervisor.ProcessHandle, uptime time.Duration) {
	code := -1
	if h.ExitCode != nil {
		code = *h.ExitCode
	}
	c.collector.RecordExit(code, uptime, h.State == supervisor.ProcessTerminated)
}

func (c *Controller) onErrorEvent(_ string, ev parser.ErrorEvent) {
	c.collector.RecordError(ev.Category.String(), ev.Severity.String())
}

func (c *Controller) onDegraded(sig health.Signal) {
	c.collector.RecordSignal(sig.Kind.String())
	select {
	case c.signals <- sig:
	default:
		c.logger.Warn("health_signal_dropped", "kind", sig.Kind.String(), "session_id", sig.SessionID)
	}
}

// Accessors

// Supervisor returns the encoder supervisor.
func (c *Controller) Supervisor() *supervisor.Supervisor { return c.sup }

// Policy returns the recovery policy.
func (c *Controller) Policy() *recovery.Policy { return c.policy }

// Metrics returns the metrics collector.
func (c *Controller) Metrics() *metrics.Collector { return c.collector }

// Gatherer returns the registry holding the channel metrics.
func (c *Controller) Gatherer() prometheus.Gatherer { return c.registry }

func (c *Controller) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx
}
