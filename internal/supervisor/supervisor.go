package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/parser"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/process"
)

var (
	// ErrBusy is returned when another transition holds the supervisor.
	ErrBusy = errors.New("transition already in progress")

	// ErrAlreadyRunning is returned by Start when an encoder is on air.
	ErrAlreadyRunning = errors.New("encoder already running")

	// ErrNotRunning is returned when there is nothing to stop or restart.
	ErrNotRunning = errors.New("encoder not running")

	// ErrLoopUnreadable is returned when the loop file cannot be opened.
	ErrLoopUnreadable = errors.New("loop file unreadable")

	// ErrStartupTimeout is returned when a session is not confirmed in time.
	ErrStartupTimeout = errors.New("encoder startup not confirmed")

	// ErrExitedDuringStartup is returned when a session dies before it is
	// confirmed.
	ErrExitedDuringStartup = errors.New("encoder exited during startup")

	// ErrReplacementExited is returned when a switch's replacement dies
	// during the overlap. The prior session stays on air.
	ErrReplacementExited = errors.New("replacement encoder exited during overlap")
)

// StartupError describes a session that exited before it was confirmed.
// It matches ErrExitedDuringStartup with errors.Is.
type StartupError struct {
	Reason   string
	Category parser.Category // of the last fatal output line
}

func (e *StartupError) Error() string {
	return ErrExitedDuringStartup.Error() + ": " + e.Reason
}

func (e *StartupError) Unwrap() error {
	return ErrExitedDuringStartup
}

// ProcessBuilder creates executable commands for encoder sessions.
// This interface allows the supervisor to be decoupled from FFmpeg specifics.
type ProcessBuilder interface {
	// BuildCommand returns a ready-to-start command. The command is not
	// bound to ctx: sessions outlive the request that started them.
	BuildCommand(ctx context.Context, cfg config.EncodingConfig, p process.Params) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// EncodingSource supplies the encoder settings for the next session.
// *config.Store satisfies it.
type EncodingSource interface {
	Encoding() config.EncodingConfig
}

// StartRequest names the track to put on air.
type StartRequest struct {
	TrackKey    string `json:"track_key"`
	LoopPath    string `json:"loop_path"`
	AudioURL    string `json:"audio_url,omitempty"`    // empty uses the config value
	SinkAddress string `json:"sink_address,omitempty"` // empty uses the config value
}

// ProcessHandle is a copied view of one encoder session.
type ProcessHandle struct {
	SessionID string       `json:"session_id"`
	PID       int          `json:"pid"`
	StartedAt time.Time    `json:"started_at"`
	TrackKey  string       `json:"track_key"`
	LoopPath  string       `json:"loop_path"`
	State     ProcessState `json:"state"`
	ExitCode  *int         `json:"exit_code,omitempty"`
}

// ExitEvent reports an unexpected exit of the authoritative session.
type ExitEvent struct {
	SessionID string          `json:"session_id"`
	TrackKey  string          `json:"track_key"`
	PID       int             `json:"pid"`
	ExitCode  int             `json:"exit_code"`
	Uptime    time.Duration   `json:"uptime"`
	Reason    string          `json:"reason"`
	Category  parser.Category `json:"category"` // of the last fatal output line
	Tail      []string        `json:"tail,omitempty"`
	At        time.Time       `json:"at"`
}

// Status is a copied snapshot of the supervisor.
type Status struct {
	State    State          `json:"state"`
	Current  *ProcessHandle `json:"current,omitempty"`
	Previous *ProcessHandle `json:"previous,omitempty"` // only while overlapping
	Pending  *ProcessHandle `json:"pending,omitempty"`  // replacement awaiting confirmation
	LastExit *ProcessHandle `json:"last_exit,omitempty"`

	UptimeSeconds float64 `json:"uptime_seconds"`
	Restarts      int     `json:"restarts"`
	Switches      int     `json:"switches"`
	Escalated     bool    `json:"escalated"`

	Metrics      parser.MetricSample `json:"metrics"`
	Healthy      bool                `json:"healthy"`
	ErrorCount   int                 `json:"error_count"`
	LinesRead    int64               `json:"lines_read"`
	LinesDropped int64               `json:"lines_dropped"`
	Degraded     bool                `json:"metrics_degraded"`
}

// Callbacks contains optional callback functions for supervisor events.
// They are invoked without internal locks held.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnSessionStart is called when a session is confirmed and on air.
	OnSessionStart func(h ProcessHandle)

	// OnSessionExit is called for every session exit, expected or not.
	OnSessionExit func(h ProcessHandle, uptime time.Duration)

	// OnErrorEvent is called for every classified output line.
	OnErrorEvent func(sessionID string, ev parser.ErrorEvent)
}

// Options holds configuration for creating a new Supervisor.
type Options struct {
	Builder   ProcessBuilder
	Config    EncodingSource
	Logger    *slog.Logger
	Callbacks Callbacks

	StartupTimeout time.Duration
	StartupGrace   time.Duration // 0 requires a parsed metrics line
	GraceTimeout   time.Duration
	KillTimeout    time.Duration

	// Output parsing
	StatsBufferSize       int
	StatsDropThreshold    float64
	MaxErrorEvents        int
	DroppedFrameThreshold int64
	RecentLines           int

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

// Supervisor owns the encoder sessions of one channel. At most one session
// is authoritative after a completed transition; two exist only during the
// overlap window of a switch.
type Supervisor struct {
	builder   ProcessBuilder
	config    EncodingSource
	logger    *slog.Logger
	callbacks Callbacks

	startupTimeout time.Duration
	startupGrace   time.Duration
	graceTimeout   time.Duration
	killTimeout    time.Duration

	statsBufferSize       int
	statsDropThreshold    float64
	maxErrorEvents        int
	droppedFrameThreshold int64
	recentLines           int

	// transitionMu serializes Start, SwitchTrack, Stop and Restart. It is
	// only ever taken with TryLock so callers see ErrBusy instead of queueing.
	transitionMu sync.Mutex

	// statusMu guards everything below. Status reads never touch transitionMu.
	statusMu      sync.RWMutex
	state         State
	current       *session
	previous      *session
	pending       *session
	lastExit      *session
	lastRequest   *StartRequest
	transitioning bool
	pendingExit   *ExitEvent
	restarts      int
	switches      int
	escalated     bool

	events chan ExitEvent
}

// New creates a new Supervisor with the given options.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	builder := opts.Builder
	if builder == nil {
		builder = process.NewFFmpegRunner()
	}
	source := opts.Config
	if source == nil {
		source = config.NewStaticStore(config.DefaultConfig())
	}

	defaults := config.DefaultConfig()
	s := &Supervisor{
		builder:               builder,
		config:                source,
		logger:                logger.With("component", "supervisor"),
		callbacks:             opts.Callbacks,
		startupTimeout:        orDuration(opts.StartupTimeout, defaults.StartupTimeout),
		startupGrace:          opts.StartupGrace,
		graceTimeout:          orDuration(opts.GraceTimeout, defaults.GraceTimeout),
		killTimeout:           orDuration(opts.KillTimeout, defaults.KillTimeout),
		statsBufferSize:       opts.StatsBufferSize,
		statsDropThreshold:    opts.StatsDropThreshold,
		maxErrorEvents:        opts.MaxErrorEvents,
		droppedFrameThreshold: opts.DroppedFrameThreshold,
		recentLines:           opts.RecentLines,
		state:                 StateIdle,
	}

	// Default buffer size
	if s.statsBufferSize <= 0 {
		s.statsBufferSize = defaults.StatsBufferSize
	}
	// Default threshold
	if s.statsDropThreshold <= 0 {
		s.statsDropThreshold = 0.01
	}

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 16
	}
	s.events = make(chan ExitEvent, buffer)
	return s
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Events delivers unexpected exits of the authoritative session. Exits
// that race an in-flight transition are reported once the transition ends,
// and only if it left nothing on air.
func (s *Supervisor) Events() <-chan ExitEvent {
	return s.events
}

// Start spawns the first session for req and waits for it to be confirmed.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) error {
	if !s.beginTransition() {
		return ErrBusy
	}
	defer s.finishTransition()

	s.statusMu.RLock()
	active := s.current != nil
	s.statusMu.RUnlock()
	if active {
		return ErrAlreadyRunning
	}

	return s.startLocked(ctx, req, StateIdle)
}

// startLocked spawns and confirms a session. On failure the state is set to
// fallback. transitionMu must be held.
func (s *Supervisor) startLocked(ctx context.Context, req StartRequest, fallback State) error {
	s.setState(StateStarting)
	s.rememberRequest(req)

	sess, err := s.spawn(ctx, req)
	if err != nil {
		s.logger.Error("supervisor_start_failed", "track", req.TrackKey, "error", err)
		s.setState(fallback)
		return err
	}
	s.setPending(sess)

	if err := s.awaitStartup(ctx, sess); err != nil {
		s.abort(sess)
		s.logger.Error("supervisor_start_failed", "track", req.TrackKey, "error", err)
		s.setState(fallback)
		return err
	}

	if err := s.promote(sess, nil); err != nil {
		s.abort(sess)
		s.logger.Error("supervisor_start_failed", "track", req.TrackKey, "error", err)
		s.setState(fallback)
		return err
	}
	s.setState(StateRunning)
	return nil
}

// SwitchTrack replaces the running session with one for req. The
// replacement is confirmed first, both run for the configured overlap, and
// then the prior session is terminated. If the replacement fails, it is
// killed and the prior session keeps running untouched.
func (s *Supervisor) SwitchTrack(ctx context.Context, req StartRequest) error {
	if !s.beginTransition() {
		return ErrBusy
	}
	defer s.finishTransition()

	s.statusMu.RLock()
	old := s.current
	fallback := s.state
	s.statusMu.RUnlock()

	if old == nil {
		if fallback.IsTransition() {
			fallback = StateIdle
		}
		return s.startLocked(ctx, req, fallback)
	}

	s.logger.Info("supervisor_switch_started",
		"from", old.req.TrackKey,
		"to", req.TrackKey,
		"old_session_id", old.id,
	)
	s.setState(StateSwitching)

	sess, err := s.spawn(ctx, req)
	if err != nil {
		s.restoreAfterAbort()
		return fmt.Errorf("switch to %q aborted: %w", req.TrackKey, err)
	}
	s.setPending(sess)

	if err := s.awaitStartup(ctx, sess); err != nil {
		s.abort(sess)
		s.restoreAfterAbort()
		return fmt.Errorf("switch to %q aborted: %w", req.TrackKey, err)
	}

	if err := s.promote(sess, old); err != nil {
		s.abort(sess)
		s.restoreAfterAbort()
		return fmt.Errorf("switch to %q aborted: %w", req.TrackKey, err)
	}
	s.rememberRequest(req)
	s.setState(StateOverlapping)

	overlap := sess.cfg.Overlap
	s.logger.Info("supervisor_overlap",
		"session_id", sess.id,
		"old_session_id", old.id,
		"overlap", overlap.String(),
	)
	if overlap > 0 {
		timer := time.NewTimer(overlap)
		select {
		case <-timer.C:
		case <-ctx.Done():
			// The replacement is already authoritative; finish the handover.
			timer.Stop()
		}
	}

	if err := s.reinstateIfReplacementExited(sess, old); err != nil {
		s.logger.Error("supervisor_switch_aborted",
			"track", req.TrackKey,
			"session_id", sess.id,
			"old_session_id", old.id,
			"error", err,
		)
		return fmt.Errorf("switch to %q aborted: %w", req.TrackKey, err)
	}

	s.setState(StateTerminatingOld)
	s.stopSession(context.Background(), old, false)

	s.statusMu.Lock()
	s.previous = nil
	s.switches++
	s.statusMu.Unlock()

	s.setState(StateRunning)
	s.logger.Info("supervisor_switch_completed",
		"track", req.TrackKey,
		"session_id", sess.id,
	)
	return nil
}

// reinstateIfReplacementExited hands the channel back to old when the
// replacement died during the overlap. The replacement's exit is dropped
// unless old is gone too, in which case finishTransition reports it.
func (s *Supervisor) reinstateIfReplacementExited(sess, old *session) error {
	s.statusMu.Lock()
	if sess.exitCode == nil {
		s.statusMu.Unlock()
		return nil
	}
	code := *sess.exitCode
	s.previous = nil
	s.lastExit = sess
	oldAlive := old.exitCode == nil
	if oldAlive {
		s.current = old
		s.pendingExit = nil
	}
	s.lastRequest = &old.req
	s.statusMu.Unlock()

	s.restoreAfterAbort()
	reason, _ := sess.exitReason(code)
	return fmt.Errorf("%w: %s", ErrReplacementExited, reason)
}

// restoreAfterAbort puts the state back after a failed switch.
func (s *Supervisor) restoreAfterAbort() {
	s.statusMu.RLock()
	onAir := s.current != nil
	s.statusMu.RUnlock()

	if onAir {
		s.setState(StateRunning)
	} else {
		s.setState(StateCrashed)
	}
}

// Stop terminates the authoritative session. force skips SIGTERM.
func (s *Supervisor) Stop(ctx context.Context, force bool) error {
	if !s.beginTransition() {
		return ErrBusy
	}
	defer s.finishTransition()

	s.statusMu.Lock()
	cur := s.current
	s.pendingExit = nil
	s.statusMu.Unlock()

	if cur == nil {
		s.setState(StateIdle)
		return ErrNotRunning
	}

	s.setState(StateStopping)
	s.stopSession(ctx, cur, force)

	s.statusMu.Lock()
	s.current = nil
	s.lastExit = cur
	s.pendingExit = nil
	s.statusMu.Unlock()

	s.setState(StateIdle)
	return nil
}

// Restart replaces whatever is on air with a fresh session for the last
// requested track. A failed restart leaves the supervisor Crashed.
func (s *Supervisor) Restart(ctx context.Context) error {
	if !s.beginTransition() {
		return ErrBusy
	}
	defer s.finishTransition()

	s.statusMu.Lock()
	cur := s.current
	var req StartRequest
	hasRequest := s.lastRequest != nil
	if hasRequest {
		req = *s.lastRequest
	}
	if hasRequest {
		s.restarts++
	}
	s.statusMu.Unlock()

	if !hasRequest {
		return ErrNotRunning
	}

	s.logger.Info("supervisor_restart", "track", req.TrackKey)

	if cur != nil {
		s.setState(StateStopping)
		s.stopSession(ctx, cur, false)
		s.statusMu.Lock()
		s.current = nil
		s.lastExit = cur
		s.statusMu.Unlock()
	}

	return s.startLocked(ctx, req, StateCrashed)
}

// Cleanup terminates every session the supervisor knows about. It waits
// for an in-flight transition and is safe to call repeatedly.
func (s *Supervisor) Cleanup() {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.statusMu.Lock()
	sessions := make([]*session, 0, 3)
	for _, sess := range []*session{s.pending, s.current, s.previous} {
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}
	s.pending, s.current, s.previous = nil, nil, nil
	s.pendingExit = nil
	s.statusMu.Unlock()

	for _, sess := range sessions {
		s.stopSession(context.Background(), sess, false)
	}
	if len(sessions) > 0 {
		s.logger.Info("supervisor_cleanup", "sessions", len(sessions))
	}
	s.setState(StateIdle)
}

// MarkRecoveryPending records that a restart has been decided for a
// crashed session.
func (s *Supervisor) MarkRecoveryPending() {
	s.statusMu.RLock()
	crashed := s.state == StateCrashed
	s.statusMu.RUnlock()
	if crashed {
		s.setState(StateRecoveryPending)
	}
}

// MarkEscalated records that automatic recovery gave up. The supervisor
// goes Idle until a manual start or reset.
func (s *Supervisor) MarkEscalated() {
	s.statusMu.Lock()
	s.escalated = true
	down := s.current == nil && !s.state.IsTransition()
	s.statusMu.Unlock()
	if down {
		s.setState(StateIdle)
	}
}

// ClearEscalated clears the escalated flag after a manual reset.
func (s *Supervisor) ClearEscalated() {
	s.statusMu.Lock()
	s.escalated = false
	s.statusMu.Unlock()
}

// awaitStartup blocks until sess is confirmed: its first metrics line was
// parsed, or it survived the startup grace period. StartupTimeout bounds
// the whole wait.
func (s *Supervisor) awaitStartup(ctx context.Context, sess *session) error {
	timeout := time.NewTimer(s.startupTimeout)
	defer timeout.Stop()

	var graceC <-chan time.Time
	if s.startupGrace > 0 {
		grace := time.NewTimer(s.startupGrace)
		defer grace.Stop()
		graceC = grace.C
	}

	select {
	case <-sess.confirmed:
	case <-graceC:
	case <-sess.done:
	case <-timeout.C:
		return fmt.Errorf("%w after %s", ErrStartupTimeout, s.startupTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-sess.done:
		s.statusMu.RLock()
		code := -1
		if sess.exitCode != nil {
			code = *sess.exitCode
		}
		s.statusMu.RUnlock()
		reason, category := sess.exitReason(code)
		return &StartupError{Reason: reason, Category: category}
	default:
		return nil
	}
}

// abort kills a session that never became authoritative.
func (s *Supervisor) abort(sess *session) {
	s.stopSession(context.Background(), sess, true)
	s.statusMu.Lock()
	if s.pending == sess {
		s.pending = nil
	}
	s.statusMu.Unlock()
}

// stopSession marks sess as expected to exit and terminates it.
func (s *Supervisor) stopSession(ctx context.Context, sess *session, force bool) TerminateResult {
	sess.expected.Store(true)

	s.statusMu.Lock()
	if sess.state == ProcessStarting || sess.state == ProcessRunning {
		sess.state = ProcessTerminating
	}
	s.statusMu.Unlock()

	result := terminate(ctx, sess, s.graceTimeout, s.killTimeout, force)
	switch result {
	case TerminateAbandoned:
		s.logger.Error("encoder_abandoned",
			"session_id", sess.id,
			"pid", sess.pid,
			"kill_timeout", s.killTimeout.String(),
		)
	case TerminateKilled:
		s.logger.Warn("encoder_force_killed", "session_id", sess.id, "pid", sess.pid)
	default:
		s.logger.Debug("encoder_terminated", "session_id", sess.id, "pid", sess.pid)
	}
	return result
}

// onExit records a session exit. Only an unexpected exit of the
// authoritative session counts as a crash.
func (s *Supervisor) onExit(sess *session, code int) {
	uptime := time.Since(sess.startedAt)
	expected := sess.expected.Load()
	reason, category := sess.exitReason(code)

	s.statusMu.Lock()
	sess.exitCode = &code
	if expected {
		sess.state = ProcessTerminated
	} else {
		sess.state = ProcessCrashed
	}
	handle := *sess.handleLocked()

	var emit *ExitEvent
	oldState, newState := s.state, s.state
	if !expected && s.current == sess {
		ev := ExitEvent{
			SessionID: sess.id,
			TrackKey:  sess.req.TrackKey,
			PID:       sess.pid,
			ExitCode:  code,
			Uptime:    uptime,
			Reason:    reason,
			Category:  category,
			Tail:      sess.parser.RecentLines(s.tailSize()),
			At:        time.Now(),
		}
		s.current = nil
		s.lastExit = sess
		if s.transitioning {
			s.pendingExit = &ev
		} else {
			s.state = StateCrashed
			newState = StateCrashed
			emit = &ev
		}
	}
	s.statusMu.Unlock()

	if expected {
		sess.logger.Info("encoder_exited",
			"pid", sess.pid,
			"exit_code", code,
			"uptime", uptime.String(),
		)
	} else {
		sess.logger.Error("encoder_crashed",
			"pid", sess.pid,
			"exit_code", code,
			"uptime", uptime.String(),
			"reason", reason,
			"tail", strings.Join(sess.parser.RecentLines(s.tailSize()), "\n"),
		)
	}

	if s.callbacks.OnSessionExit != nil {
		s.callbacks.OnSessionExit(handle, uptime)
	}
	if oldState != newState && s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, newState)
	}
	if emit != nil {
		s.emit(*emit)
	}
}

func (s *Supervisor) tailSize() int {
	if s.recentLines > 0 && s.recentLines < 20 {
		return s.recentLines
	}
	return 20
}

func (s *Supervisor) emit(ev ExitEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("exit_event_dropped", "session_id", ev.SessionID, "reason", ev.Reason)
	}
}

// beginTransition takes the transition lock without blocking.
func (s *Supervisor) beginTransition() bool {
	if !s.transitionMu.TryLock() {
		return false
	}
	s.statusMu.Lock()
	s.transitioning = true
	s.statusMu.Unlock()
	return true
}

// finishTransition releases the transition lock and reports a crash that
// raced the transition if nothing ended up on air.
func (s *Supervisor) finishTransition() {
	s.statusMu.Lock()
	s.transitioning = false
	ev := s.pendingExit
	s.pendingExit = nil
	if s.current != nil {
		if ev != nil {
			s.logger.Debug("stale_exit_ignored", "session_id", ev.SessionID)
		}
		ev = nil
	}
	s.statusMu.Unlock()
	s.transitionMu.Unlock()

	if ev != nil {
		s.setState(StateCrashed)
		s.emit(*ev)
	}
}

func (s *Supervisor) rememberRequest(req StartRequest) {
	s.statusMu.Lock()
	s.lastRequest = &req
	s.statusMu.Unlock()
}

func (s *Supervisor) setPending(sess *session) {
	s.statusMu.Lock()
	s.pending = sess
	s.statusMu.Unlock()
}

// promote makes sess authoritative. previous is kept visible in Status
// until the overlap ends. A session that already exited is refused.
func (s *Supervisor) promote(sess, previous *session) error {
	s.statusMu.Lock()
	if sess.exitCode != nil {
		code := *sess.exitCode
		if s.pending == sess {
			s.pending = nil
		}
		s.statusMu.Unlock()
		reason, category := sess.exitReason(code)
		return &StartupError{Reason: reason, Category: category}
	}
	if sess.state == ProcessStarting {
		sess.state = ProcessRunning
	}
	s.current = sess
	s.previous = previous
	s.pending = nil
	s.escalated = false
	handle := *sess.handleLocked()
	s.statusMu.Unlock()

	sess.logger.Info("encoder_confirmed", "pid", sess.pid)
	if s.callbacks.OnSessionStart != nil {
		s.callbacks.OnSessionStart(handle)
	}
	return nil
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.statusMu.Lock()
	oldState := s.state
	s.state = newState
	s.statusMu.Unlock()

	if oldState != newState {
		s.logger.Debug("supervisor_state", "from", oldState.String(), "to", newState.String())
		if s.callbacks.OnStateChange != nil {
			s.callbacks.OnStateChange(oldState, newState)
		}
	}
}

// IsRunning reports whether an authoritative session is on air.
func (s *Supervisor) IsRunning() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.current != nil
}

// Status returns a copied snapshot of the supervisor and the latest
// metrics of the authoritative session.
func (s *Supervisor) Status() Status {
	s.statusMu.RLock()
	st := Status{
		State:     s.state,
		Restarts:  s.restarts,
		Switches:  s.switches,
		Escalated: s.escalated,
	}
	cur := s.current
	if cur != nil {
		st.Current = cur.handleLocked()
		st.UptimeSeconds = time.Since(cur.startedAt).Seconds()
	}
	if s.previous != nil {
		st.Previous = s.previous.handleLocked()
	}
	if s.pending != nil {
		st.Pending = s.pending.handleLocked()
	}
	if s.lastExit != nil {
		st.LastExit = s.lastExit.handleLocked()
	}
	s.statusMu.RUnlock()

	if cur != nil {
		st.Metrics = cur.parser.Latest()
		st.Healthy = cur.parser.IsStreamHealthy()
		st.ErrorCount = len(cur.parser.Errors())
		progressRead, progressDropped, _ := cur.progress.Stats()
		stderrRead, stderrDropped, _ := cur.stderr.Stats()
		st.LinesRead = progressRead + stderrRead
		st.LinesDropped = progressDropped + stderrDropped
		st.Degraded = cur.progress.IsDegraded() || cur.stderr.IsDegraded()
	}
	return st
}

// Metrics returns the latest sample of the authoritative session. ok is
// false when nothing is on air.
func (s *Supervisor) Metrics() (sessionID string, sample parser.MetricSample, ok bool) {
	s.statusMu.RLock()
	cur := s.current
	s.statusMu.RUnlock()
	if cur == nil {
		return "", parser.MetricSample{}, false
	}
	return cur.id, cur.parser.Latest(), cur.parser.HasSamples()
}

// Summary returns the parser summary of the authoritative session.
func (s *Supervisor) Summary() (parser.Summary, bool) {
	s.statusMu.RLock()
	cur := s.current
	s.statusMu.RUnlock()
	if cur == nil {
		return parser.Summary{}, false
	}
	return cur.parser.MetricsSummary(), true
}

// RecentLines returns the last n output lines of the authoritative session,
// or of the last exited session when nothing is on air.
func (s *Supervisor) RecentLines(n int) []string {
	s.statusMu.RLock()
	sess := s.current
	if sess == nil {
		sess = s.lastExit
	}
	s.statusMu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.parser.RecentLines(n)
}
