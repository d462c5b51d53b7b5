// Package process launches the simulator executable and probes its liveness.
package process

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/workspace"
)

// ErrSpawn is returned when the simulator executable could not be started.
var ErrSpawn = errors.New("failed to spawn chain simulator process")

// Runner creates simulator commands.
// This interface allows the supervisor to launch something other than the
// real simulator binary (tests use shell scripts).
type Runner interface {
	// BuildCommand returns a command for the given workspace and options.
	// The command should NOT be started yet.
	BuildCommand(dir string, opts simulator.Options) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// SimulatorRunner implements Runner for the staged chainsimulator executable.
type SimulatorRunner struct {
	// Executable overrides the binary path. Relative paths resolve inside
	// the workspace. Defaults to workspace.ExecutableName.
	Executable string

	// ExtraArgs are appended after the option arguments.
	ExtraArgs []string
}

// NewSimulatorRunner returns a runner for the staged executable.
func NewSimulatorRunner() *SimulatorRunner {
	return &SimulatorRunner{}
}

// Name returns "chainsimulator".
func (r *SimulatorRunner) Name() string {
	return workspace.ExecutableName
}

// BuildCommand creates an exec.Cmd running inside dir.
//
// The command is deliberately not bound to a context: the simulator outlives
// the call that launched it and is only stopped by an explicit kill.
func (r *SimulatorRunner) BuildCommand(dir string, opts simulator.Options) (*exec.Cmd, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty working directory", ErrSpawn)
	}
	cmd := exec.Command(r.executablePath(dir), r.args(opts)...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	return cmd, nil
}

// CommandString returns the command that would be executed (for -print-cmd).
func (r *SimulatorRunner) CommandString(dir string, opts simulator.Options) string {
	return r.executablePath(dir) + " " + strings.Join(r.args(opts), " ")
}

func (r *SimulatorRunner) executablePath(dir string) string {
	exe := r.Executable
	if exe == "" {
		exe = workspace.ExecutableName
	}
	if filepath.IsAbs(exe) {
		return exe
	}
	return filepath.Join(dir, exe)
}

func (r *SimulatorRunner) args(opts simulator.Options) []string {
	args := opts.CLIArgs()
	return append(args, r.ExtraArgs...)
}
