package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// stoppable is anything terminate can wind down: a process that accepts a
// polite signal, a forced kill, and reports when it is gone.
type stoppable interface {
	Interrupt() error
	Kill() error
	Done() <-chan struct{}
}

// TerminateResult reports how a termination ended.
type TerminateResult int

const (
	// TerminateExited means the process was already gone or left on SIGTERM.
	TerminateExited TerminateResult = iota

	// TerminateKilled means SIGKILL was needed.
	TerminateKilled

	// TerminateAbandoned means the process survived SIGKILL within the kill
	// timeout. It is logged and no longer tracked.
	TerminateAbandoned
)

// String returns a human-readable name for the result.
func (r TerminateResult) String() string {
	switch r {
	case TerminateExited:
		return "exited"
	case TerminateKilled:
		return "killed"
	case TerminateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// terminate stops p: SIGTERM, wait up to grace, SIGKILL, wait up to
// killWait. force skips the SIGTERM step. Cancelling ctx cuts the grace
// period short but never the kill wait.
func terminate(ctx context.Context, p stoppable, grace, killWait time.Duration, force bool) TerminateResult {
	select {
	case <-p.Done():
		return TerminateExited
	default:
	}

	if !force && p.Interrupt() == nil {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.Done():
			return TerminateExited
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	_ = p.Kill()

	timer := time.NewTimer(killWait)
	defer timer.Stop()
	select {
	case <-p.Done():
		return TerminateKilled
	case <-timer.C:
		return TerminateAbandoned
	}
}

// signalGroup sends sig to the process group led by pid, falling back to
// the process itself when the group cannot be resolved.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return os.ErrProcessDone
	}
	if pgid, err := unix.Getpgid(proc.Pid); err == nil {
		return unix.Kill(-pgid, sig)
	}
	return proc.Signal(sig)
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
