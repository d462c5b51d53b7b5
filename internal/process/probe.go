package process

import (
	"errors"
	"syscall"
)

// IsAlive probes pid with signal 0.
//
// Only ESRCH counts as gone. EPERM means the pid exists but belongs to someone
// else, which is still treated as alive.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || !errors.Is(err, syscall.ESRCH)
}
