package workspace

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Stager fills a freshly created workspace directory with simulator assets.
type Stager interface {
	Stage(dir string) error
}

// StagerFunc adapts a function to Stager.
type StagerFunc func(dir string) error

// Stage calls f(dir).
func (f StagerFunc) Stage(dir string) error { return f(dir) }

// DirStager copies an unpacked asset directory into the workspace.
//
// The executable is chmod'ed 0755 after copying regardless of its source mode.
type DirStager struct {
	Source string
}

// Stage copies Source into dir recursively.
func (s DirStager) Stage(dir string) error {
	err := filepath.WalkDir(s.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &Error{Op: "stage", Path: path, Err: err}
		}
		rel, err := filepath.Rel(s.Source, path)
		if err != nil {
			return &Error{Op: "stage", Path: path, Err: err}
		}
		target := filepath.Join(dir, rel)

		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &Error{Op: "create", Path: target, Err: err}
			}
			return nil
		}
		return copyFile(path, target)
	})
	if err != nil {
		return err
	}

	exe := filepath.Join(dir, ExecutableName)
	if _, err := os.Stat(exe); err == nil {
		if err := os.Chmod(exe, 0o755); err != nil {
			return &Error{Op: "chmod", Path: exe, Err: err}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &Error{Op: "stage", Path: src, Err: err}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return &Error{Op: "stage", Path: src, Err: err}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return &Error{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &Error{Op: "write", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &Error{Op: "write", Path: dst, Err: err}
	}
	return nil
}

// FileStager writes in-memory assets keyed by relative path. Entries named
// ExecutableName get mode 0755, everything else 0644.
type FileStager map[string][]byte

// Stage writes every entry under dir.
func (s FileStager) Stage(dir string) error {
	for name, data := range s {
		target := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &Error{Op: "create", Path: filepath.Dir(target), Err: err}
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return &Error{Op: "write", Path: target, Err: err}
		}
		if filepath.Base(name) == ExecutableName {
			if err := os.Chmod(target, 0o755); err != nil {
				return &Error{Op: "chmod", Path: target, Err: err}
			}
		}
	}
	return nil
}
