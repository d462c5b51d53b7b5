// Package workspace owns the temporary directory a simulator runs from.
//
// A Workspace is created empty, populated by a Stager with the executable,
// its shared library and the config directory, and removed on Close.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Asset names inside a staged workspace.
const (
	ExecutableName = "chainsimulator"
	ConfigDir      = "config"
	ConfigFile     = "config.toml"
)

// ErrUnsupportedPlatform is wrapped by PlatformError.
var ErrUnsupportedPlatform = errors.New("unsupported OS and architecture")

// PlatformError reports an OS/arch pair the simulator is not built for.
type PlatformError struct {
	OS   string
	Arch string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %s/%s", ErrUnsupportedPlatform, e.OS, e.Arch)
}

func (e *PlatformError) Unwrap() error { return ErrUnsupportedPlatform }

// Error is returned for filesystem failures while preparing a workspace.
type Error struct {
	Op   string // tempdir, stage, create, write, chmod
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("workspace %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Platform is a supported OS/arch pair.
type Platform struct {
	OS   string
	Arch string
}

// SupportedPlatforms lists the targets a simulator build exists for.
var SupportedPlatforms = []Platform{
	{OS: "linux", Arch: "amd64"},
	{OS: "darwin", Arch: "amd64"},
	{OS: "darwin", Arch: "arm64"},
}

// CheckPlatform returns a *PlatformError when goos/goarch is not supported.
func CheckPlatform(goos, goarch string) error {
	for _, p := range SupportedPlatforms {
		if p.OS == goos && p.Arch == goarch {
			return nil
		}
	}
	return &PlatformError{OS: goos, Arch: goarch}
}

// CheckCurrentPlatform checks the platform this binary runs on.
func CheckCurrentPlatform() error {
	return CheckPlatform(runtime.GOOS, runtime.GOARCH)
}

// LibraryName returns the simulator's shared library name for goos.
func LibraryName(goos string) string {
	if goos == "darwin" {
		return "libwasmer_darwin_amd64.dylib"
	}
	return "libwasmer_linux_amd64.so"
}

// Workspace is a uniquely named temporary directory.
type Workspace struct {
	id   string
	dir  string
	once sync.Once
	err  error
}

// New creates an empty workspace under os.TempDir.
func New() (*Workspace, error) {
	return NewIn("")
}

// NewIn creates an empty workspace under parent (os.TempDir when empty).
func NewIn(parent string) (*Workspace, error) {
	id := uuid.NewString()[:8]
	dir, err := os.MkdirTemp(parent, "chainsim-"+id+"-")
	if err != nil {
		return nil, &Error{Op: "tempdir", Path: parent, Err: err}
	}
	return &Workspace{id: id, dir: dir}, nil
}

// ID is the short random identifier embedded in the directory name.
func (w *Workspace) ID() string { return w.id }

// Dir is the workspace's absolute path.
func (w *Workspace) Dir() string { return w.dir }

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

// ExecutablePath is the path of the staged simulator executable.
func (w *Workspace) ExecutablePath() string {
	return w.Path(ExecutableName)
}

// ConfigPath is where the TOML document is written.
func (w *Workspace) ConfigPath() string {
	return w.Path(ConfigDir, ConfigFile)
}

// Stage populates the workspace using s.
func (w *Workspace) Stage(s Stager) error {
	if s == nil {
		return nil
	}
	if err := s.Stage(w.dir); err != nil {
		var we *Error
		if errors.As(err, &we) {
			return err
		}
		return &Error{Op: "stage", Path: w.dir, Err: err}
	}
	return nil
}

// WriteConfig overwrites config/config.toml with data.
func (w *Workspace) WriteConfig(data []byte) error {
	dir := w.Path(ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "create", Path: dir, Err: err}
	}
	path := w.ConfigPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &Error{Op: "write", Path: path, Err: err}
	}
	return nil
}

// EnsureExecutable sets mode 0755 on the staged executable. A missing
// executable is not an error here; launching it will fail instead.
func (w *Workspace) EnsureExecutable() error {
	path := w.ExecutablePath()
	if err := os.Chmod(path, 0o755); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "chmod", Path: path, Err: err}
	}
	return nil
}

// Close removes the directory and everything in it. Safe to call repeatedly.
func (w *Workspace) Close() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.dir)
	})
	return w.err
}
