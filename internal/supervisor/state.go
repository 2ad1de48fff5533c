// Package supervisor owns the encoder process for the channel: starting it,
// switching tracks with an overlap window, stopping and restarting it.
package supervisor

// State is the lifecycle state of the supervisor as a whole.
type State int

const (
	// StateIdle means no encoder is running.
	StateIdle State = iota

	// StateStarting indicates a first session is being spawned and confirmed.
	StateStarting

	// StateRunning means exactly one authoritative session is on air.
	StateRunning

	// StateSwitching indicates a replacement session is being spawned.
	StateSwitching

	// StateOverlapping means old and new sessions are both publishing.
	StateOverlapping

	// StateTerminatingOld indicates the prior session is being stopped.
	StateTerminatingOld

	// StateStopping indicates an explicit stop is in progress.
	StateStopping

	// StateCrashed means the authoritative session exited unexpectedly.
	StateCrashed

	// StateRecoveryPending means a restart has been decided but not begun.
	StateRecoveryPending
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateSwitching:
		return "switching"
	case StateOverlapping:
		return "overlapping"
	case StateTerminatingOld:
		return "terminating_old"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	case StateRecoveryPending:
		return "recovery_pending"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON status documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsActive returns true if an encoder process is (or is about to be) on air.
func (s State) IsActive() bool {
	switch s {
	case StateStarting, StateRunning, StateSwitching, StateOverlapping, StateTerminatingOld:
		return true
	}
	return false
}

// IsTransition returns true for the states entered while the transition
// lock is held.
func (s State) IsTransition() bool {
	switch s {
	case StateStarting, StateSwitching, StateOverlapping, StateTerminatingOld, StateStopping:
		return true
	}
	return false
}

// ProcessState is the state of a single encoder session.
type ProcessState int

const (
	ProcessStarting ProcessState = iota
	ProcessRunning
	ProcessTerminating
	ProcessTerminated
	ProcessCrashed
)

// String returns a human-readable name for the process state.
func (p ProcessState) String() string {
	switch p {
	case ProcessStarting:
		return "starting"
	case ProcessRunning:
		return "running"
	case ProcessTerminating:
		return "terminating"
	case ProcessTerminated:
		return "terminated"
	case ProcessCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// MarshalText renders the process state name in JSON status documents.
func (p ProcessState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
