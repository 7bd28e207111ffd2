// Package fsutil materializes archive paths under a destination root.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirPerm is the mode used for created directories (before umask).
const DirPerm = 0o755

// FilePerm is the mode used for created files (before umask).
const FilePerm = 0o644

var (
	// ErrNotADirectory is returned when a path component exists and is not
	// a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrUnsafePath is returned when an archive name would resolve outside
	// the destination root.
	ErrUnsafePath = errors.New("unsafe path")
)

// NormalizeName converts an archive name to slash-separated fs.ValidPath
// form.
//
// Backslashes are treated as separators, leading and trailing separators
// are stripped and repeated separators are collapsed. An empty result
// becomes ".". Dot and dot-dot elements are preserved so that Rel can
// reject them.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.Trim(name, "/")
	if name == "" {
		return "."
	}
	parts := strings.Split(name, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}

// Rel validates an archive name and returns it as a host-relative path.
//
// "." is returned for names that refer to the root itself. Names with
// "." or ".." elements return ErrUnsafePath.
func Rel(name string) (string, error) {
	norm := NormalizeName(name)
	if !fs.ValidPath(norm) {
		return "", &fs.PathError{Op: "resolve", Path: name, Err: ErrUnsafePath}
	}
	return filepath.FromSlash(norm), nil
}

// Join resolves an archive name below root.
func Join(root, name string) (string, error) {
	rel, err := Rel(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

// EnsureDir creates path and any missing parents.
//
// An existing directory is success. If a component of path exists and is
// not a directory, the returned error wraps ErrNotADirectory.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, DirPerm)
	if err == nil {
		return nil
	}
	if blocker, ok := firstNonDir(path); ok {
		return &fs.PathError{Op: "mkdir", Path: blocker, Err: ErrNotADirectory}
	}
	return fmt.Errorf("create directory %s: %w", path, err)
}

// firstNonDir returns the shallowest existing component of path that is
// not a directory.
func firstNonDir(path string) (string, bool) {
	var chain []string
	for p := filepath.Clean(path); ; {
		chain = append(chain, p)
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	for i := len(chain) - 1; i >= 0; i-- {
		info, err := os.Stat(chain[i])
		if err != nil {
			continue
		}
		if !info.IsDir() {
			return chain[i], true
		}
	}
	return "", false
}

// CreateFile opens path for writing, creating or truncating it. Missing
// parent directories are created first.
func CreateFile(path string) (*os.File, error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	//nolint:gosec // destination paths are validated by Join
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FilePerm)
	if err != nil {
		return nil, fmt.Errorf("create file %s: %w", path, err)
	}
	return f, nil
}
