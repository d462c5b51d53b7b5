// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/workspace"
)

// RequiredFileDescriptors covers the simulator's shards, its HTTP API and
// the supervisor's own pipes, sockets and metrics server.
const RequiredFileDescriptors = 1024

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for launching the simulator found in
// assetsDir on port.
func RunAll(assetsDir string, port uint16) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}

	result.add(checkPlatform(runtime.GOOS, runtime.GOARCH))
	result.add(checkExecutable(filepath.Join(assetsDir, workspace.ExecutableName)))
	result.add(checkLibrary(filepath.Join(assetsDir, workspace.LibraryName(runtime.GOOS))))
	result.add(checkConfigDir(filepath.Join(assetsDir, workspace.ConfigDir)))
	result.add(checkPortFree(port))
	result.add(checkFileDescriptors(RequiredFileDescriptors))

	return result
}

// checkPlatform verifies a simulator build exists for goos/goarch.
func checkPlatform(goos, goarch string) Check {
	if err := workspace.CheckPlatform(goos, goarch); err != nil {
		return Check{
			Name:    "platform",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    "platform",
		Passed:  true,
		Message: goos + "/" + goarch,
	}
}

// checkExecutable verifies the simulator binary exists. A missing exec bit
// is only a warning because staging sets it.
func checkExecutable(path string) Check {
	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "executable",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	if !info.Mode().IsRegular() {
		return Check{
			Name:    "executable",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a regular file", path),
		}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    "executable",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s is not executable (mode %v), staging will chmod it", path, info.Mode().Perm()),
		}
	}
	return Check{
		Name:    "executable",
		Passed:  true,
		Message: "found at " + path,
	}
}

// checkLibrary verifies the shared library the simulator links against.
func checkLibrary(path string) Check {
	if _, err := os.Stat(path); err != nil {
		return Check{
			Name:    "library",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s", path),
		}
	}
	return Check{
		Name:    "library",
		Passed:  true,
		Message: "found at " + path,
	}
}

// checkConfigDir verifies the simulator's node configuration directory.
func checkConfigDir(path string) Check {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return Check{
			Name:    "config_dir",
			Passed:  false,
			Message: fmt.Sprintf("directory %s is missing", path),
		}
	}
	return Check{
		Name:    "config_dir",
		Passed:  true,
		Message: "found at " + path,
	}
}

// checkPortFree verifies nothing already listens on the simulator port.
func checkPortFree(port uint16) Check {
	addr := net.JoinHostPort("localhost", strconv.Itoa(int(port)))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{
			Name:    "port",
			Passed:  false,
			Message: fmt.Sprintf("%s is not available: %v", addr, err),
		}
	}
	l.Close()
	return Check{
		Name:    "port",
		Passed:  true,
		Message: addr + " is free",
	}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(required int) Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	actual := int(limit.Cur)
	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "platform":
		return "run on linux/amd64, darwin/amd64 or darwin/arm64"
	case "executable", "library", "config_dir":
		return "point -assets at an unpacked chain simulator release"
	case "port":
		return "stop whatever listens on the port or pick another with -port"
	case "file_descriptors":
		return "ulimit -n 4096 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
