// Package supervisor owns one chain simulator process at a time: it launches
// it inside a private workspace, gates on readiness, and routes control-plane
// operations to whichever process is currently owned.
package supervisor

// State is the lifecycle position of the most recently launched simulator.
type State int

const (
	// StateIdle is the initial state before any process was launched.
	StateIdle State = iota

	// StateLaunched indicates the process was spawned but is not answering yet.
	StateLaunched

	// StateReady indicates GET /about succeeded.
	StateReady

	// StateRunning indicates the initial epoch was generated and the process is owned.
	StateRunning

	// StateExited indicates the owned process exited on its own.
	StateExited

	// StateKilled indicates the process was killed by the supervisor.
	StateKilled
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunched:
		return "launched"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// IsActive returns true while a process is launched and not yet gone.
func (s State) IsActive() bool {
	return s == StateLaunched || s == StateReady || s == StateRunning
}

// IsTerminal returns true once the last process has exited or was killed.
func (s State) IsTerminal() bool {
	return s == StateExited || s == StateKilled
}
