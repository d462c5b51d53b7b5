package supervisor

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
)

var (
	// ErrProcessNotStarted is returned when no process is owned.
	ErrProcessNotStarted = errors.New("chain simulator process not started")

	// ErrProcessAlreadyFinished is returned when the owned pid is no longer alive.
	ErrProcessAlreadyFinished = errors.New("chain simulator process already finished")

	// ErrStdoutAlreadyConsumed is returned by a second Listen on the same Handle.
	ErrStdoutAlreadyConsumed = errors.New("chain simulator stdout already consumed")

	// ErrReadyTimeout is returned when GET /about did not succeed in time.
	ErrReadyTimeout = errors.New("timed out waiting for chain simulator to be ready")

	// ErrProcessKilled matches the ExitError of a simulator stopped by Kill,
	// a restart or Close rather than exiting on its own.
	ErrProcessKilled = errors.New("chain simulator process killed")

	// ErrConfigEncode is returned when the configuration document can not be rendered.
	ErrConfigEncode = simulator.ErrConfigEncode
)

// ExitError reports a simulator that exited unsuccessfully.
// For signal exits Signal is set and Code is 128+signal. Killed is set when
// the supervisor stopped the process itself; such errors match ErrProcessKilled.
type ExitError struct {
	Code   int
	Signal syscall.Signal
	Killed bool
}

func (e *ExitError) Error() string {
	if e.Killed {
		return fmt.Sprintf("chain simulator killed (code %d)", e.Code)
	}
	if e.Signal != 0 {
		return fmt.Sprintf("chain simulator exited with signal %v (code %d)", e.Signal, e.Code)
	}
	return fmt.Sprintf("chain simulator exited with code %d", e.Code)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrProcessKilled && e.Killed
}
