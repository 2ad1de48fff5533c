package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/parser"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/process"
)

// drainTimeout bounds how long an exited session waits for its parsers.
const drainTimeout = 5 * time.Second

// session is one encoder process together with the parser state that
// belongs to it. A session never outlives its process.
type session struct {
	id        string
	req       StartRequest
	cfg       config.EncodingConfig
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	logger    *slog.Logger

	parser   *parser.OutputParser
	progress *parser.Pipeline
	stderr   *parser.Pipeline
	readEnds []*os.File
	parseWg  sync.WaitGroup

	confirmed   chan struct{}
	confirmOnce sync.Once
	done        chan struct{}

	// expected is set before the supervisor signals the process, so the
	// resulting exit is not reported as a crash.
	expected atomic.Bool

	// Guarded by Supervisor.statusMu.
	state    ProcessState
	exitCode *int
}

// spawn starts an encoder for req and wires its output into a fresh parser.
// The session is not yet confirmed when spawn returns.
func (s *Supervisor) spawn(ctx context.Context, req StartRequest) (*session, error) {
	if err := checkReadable(req.LoopPath); err != nil {
		return nil, err
	}

	cfg := s.config.Encoding()
	params := process.Params{
		LoopPath:    req.LoopPath,
		AudioURL:    req.AudioURL,
		SinkAddress: req.SinkAddress,
		FadeIn:      true,
	}
	cmd, err := s.builder.BuildCommand(ctx, cfg, params)
	if err != nil {
		return nil, fmt.Errorf("build %s command: %w", s.builder.Name(), err)
	}

	audioURL := firstNonEmpty(req.AudioURL, cfg.AudioURL)
	sinkAddress := firstNonEmpty(req.SinkAddress, cfg.SinkAddress)

	id := uuid.NewString()
	sess := &session{
		id:     id,
		req:    req,
		cfg:    cfg,
		cmd:    cmd,
		logger: s.logger.With("session_id", id, "track", req.TrackKey),
		parser: parser.NewOutputParser(parser.Options{
			Rules:                 append(parser.InputRules(audioURL, sinkAddress), parser.DefaultRules...),
			MaxErrors:             s.maxErrorEvents,
			DroppedFrameThreshold: s.droppedFrameThreshold,
			RecentLines:           s.recentLines,
		}),
		progress:  parser.NewPipeline(id, "progress", s.statsBufferSize, s.statsDropThreshold),
		stderr:    parser.NewPipeline(id, "stderr", s.statsBufferSize, s.statsDropThreshold),
		confirmed: make(chan struct{}),
		done:      make(chan struct{}),
		state:     ProcessStarting,
	}

	// Anonymous pipes owned by us rather than cmd.StdoutPipe, so Wait can
	// run concurrently with the readers without truncating buffered output.
	progressR, progressW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create progress pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		progressR.Close()
		progressW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdout = progressW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	// Close parent's write ends so readers see EOF when the encoder exits.
	progressW.Close()
	stderrW.Close()
	if err != nil {
		progressR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start %s: %w", s.builder.Name(), err)
	}

	sess.pid = cmd.Process.Pid
	sess.startedAt = time.Now()
	sess.readEnds = []*os.File{progressR, stderrR}

	sess.logger.Info("encoder_started",
		"pid", sess.pid,
		"loop", req.LoopPath,
		"command", process.CommandString(cmd.Path, cmd.Args[1:]),
	)

	s.run(sess, progressR, stderrR)
	return sess, nil
}

// run starts the readers, the parsers, and the wait goroutine.
func (s *Supervisor) run(sess *session, progress, stderr io.Reader) {
	go parser.NewPipeReader(progress, sess.progress).Run()
	go parser.NewPipeReader(stderr, sess.stderr).Run()

	sess.parseWg.Add(2)
	go func() {
		defer sess.parseWg.Done()
		sess.progress.RunParser(func(line string) {
			s.handleLine(sess, line, false)
		})
	}()
	go func() {
		defer sess.parseWg.Done()
		sess.stderr.RunParser(func(line string) {
			s.handleLine(sess, line, true)
		})
	}()

	go func() {
		waitErr := sess.cmd.Wait()
		sess.drain()
		s.onExit(sess, extractExitCode(waitErr))
		close(sess.done)
	}()
}

// handleLine feeds one output line to the session parser.
func (s *Supervisor) handleLine(sess *session, line string, echo bool) {
	ev := sess.parser.ParseLine(line)
	if sess.parser.HasSamples() {
		sess.confirm()
	}

	if ev == nil {
		if echo {
			sess.logger.Debug("encoder_output", "line", line)
		}
		return
	}

	if ev.IsFatal() {
		sess.logger.Warn("encoder_error",
			"category", ev.Category.String(),
			"rule", ev.Rule,
			"line", ev.Line,
		)
	} else {
		sess.logger.Debug("encoder_warning",
			"category", ev.Category.String(),
			"rule", ev.Rule,
			"line", ev.Line,
		)
	}

	if s.callbacks.OnErrorEvent != nil {
		s.callbacks.OnErrorEvent(sess.id, *ev)
	}
}

// drain waits for both parsers to finish, closing the read ends if a
// leaked child keeps a pipe open past drainTimeout.
func (sess *session) drain() {
	finished := make(chan struct{})
	go func() {
		sess.parseWg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(drainTimeout):
		sess.logger.Warn("parser_drain_timeout", "timeout", drainTimeout.String())
		for _, f := range sess.readEnds {
			f.Close()
		}
		<-finished
	}
	for _, f := range sess.readEnds {
		f.Close()
	}

	for _, p := range []*parser.Pipeline{sess.progress, sess.stderr} {
		read, dropped, parsed := p.Stats()
		if dropped > 0 {
			sess.logger.Info("pipeline_stats",
				"stream", p.StreamType(),
				"lines_read", read,
				"lines_dropped", dropped,
				"lines_parsed", parsed,
				"degraded", p.IsDegraded(),
			)
		}
	}
}

func (sess *session) confirm() {
	sess.confirmOnce.Do(func() { close(sess.confirmed) })
}

// Interrupt sends SIGTERM to the session's process group.
func (sess *session) Interrupt() error {
	return signalGroup(sess.cmd.Process, syscall.SIGTERM)
}

// Kill sends SIGKILL to the session's process group.
func (sess *session) Kill() error {
	return signalGroup(sess.cmd.Process, syscall.SIGKILL)
}

// Done is closed once the process has been reaped and its output parsed.
func (sess *session) Done() <-chan struct{} {
	return sess.done
}

// handleLocked snapshots the session. statusMu must be held.
func (sess *session) handleLocked() *ProcessHandle {
	h := &ProcessHandle{
		SessionID: sess.id,
		PID:       sess.pid,
		StartedAt: sess.startedAt,
		TrackKey:  sess.req.TrackKey,
		LoopPath:  sess.req.LoopPath,
		State:     sess.state,
	}
	if sess.exitCode != nil {
		code := *sess.exitCode
		h.ExitCode = &code
	}
	return h
}

// exitReason describes why a session ended, preferring the last fatal
// output line over the bare exit code.
func (sess *session) exitReason(code int) (string, parser.Category) {
	critical := sess.parser.CriticalErrors()
	if len(critical) == 0 {
		return fmt.Sprintf("exit code %d", code), parser.CategoryUnknown
	}
	last := critical[len(critical)-1]
	return fmt.Sprintf("exit code %d: %s: %s", code, last.Category, strings.TrimSpace(last.Line)), last.Category
}

// checkReadable verifies the loop file can be opened before anything is
// spawned for it.
func checkReadable(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrLoopUnreadable)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoopUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoopUnreadable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrLoopUnreadable, path)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
