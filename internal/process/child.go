package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
)

// Child is a started simulator process.
//
// The process is reaped by a background goroutine as soon as it exits, so
// IsAlive stops reporting it even if nobody ever reads its stdout.
type Child struct {
	cmd       *exec.Cmd
	pid       int
	stdout    *os.File
	startedAt time.Time

	done    chan struct{}
	waitErr error

	stdoutOnce sync.Once
}

// Start builds a command with r and starts it with stdout captured.
// Any failure is wrapped in ErrSpawn.
func Start(r Runner, dir string, opts simulator.Options) (*Child, error) {
	cmd, err := r.BuildCommand(dir, opts)
	if err != nil {
		if errors.Is(err, ErrSpawn) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	// stdout goes through our own pipe rather than cmd.StdoutPipe so that
	// Wait can run before the reader has drained it.
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	cmd.Stdout = stdoutWrite

	if err := cmd.Start(); err != nil {
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	// Close parent's write-end after Start() so the reader sees EOF when
	// the simulator exits.
	stdoutWrite.Close()

	c := &Child{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		stdout:    stdoutRead,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go c.reap()
	return c, nil
}

func (c *Child) reap() {
	c.waitErr = c.cmd.Wait()
	close(c.done)
}

// PID is the operating-system process id.
func (c *Child) PID() int { return c.pid }

// StartedAt is when the process was started.
func (c *Child) StartedAt() time.Time { return c.startedAt }

// Stdout returns the read end of the child's stdout.
func (c *Child) Stdout() io.ReadCloser { return c.stdout }

// CloseStdout closes the read end. Safe to call repeatedly.
func (c *Child) CloseStdout() {
	c.stdoutOnce.Do(func() {
		c.stdout.Close()
	})
}

// Done is closed once the process has exited and been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the process has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns the error from exec.Cmd.Wait.
func (c *Child) Wait() error {
	<-c.done
	return c.waitErr
}

// Kill sends SIGKILL to the child's process group, falling back to the pid.
func (c *Child) Kill() error {
	return Kill(c.pid)
}

// Kill sends SIGKILL to pid's process group, or to pid alone when the group
// can not be resolved.
func Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}

// ExitStatus extracts the exit code and terminating signal from a Wait error.
// A nil error is (0, 0). Signal exits report 128+signal as the code.
func ExitStatus(err error) (code int, signal syscall.Signal) {
	if err == nil {
		return 0, 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal()), status.Signal()
			}
			return status.ExitStatus(), 0
		}
	}

	// Unknown error, assume exit code 1
	return 1, 0
}
