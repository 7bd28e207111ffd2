// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

// SeekOnly wraps an io.ReadSeeker and hides any other interfaces (such as
// io.ReaderAt) the underlying value implements.
type SeekOnly struct {
	rs io.ReadSeeker
}

// NewSeekOnly returns a SeekOnly over rs.
func NewSeekOnly(rs io.ReadSeeker) *SeekOnly {
	return &SeekOnly{rs: rs}
}

// Read implements io.Reader.
func (s *SeekOnly) Read(p []byte) (int, error) {
	return s.rs.Read(p)
}

// Seek implements io.Seeker.
func (s *SeekOnly) Seek(offset int64, whence int) (int64, error) {
	return s.rs.Seek(offset, whence)
}

// Pattern returns n deterministic, non-repeating-per-chunk bytes seeded by
// seed.
func Pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i%251) ^ seed
	}
	return out
}

// WriteArchive writes data to name in a fresh temp directory and returns
// the full path.
func WriteArchive(tb testing.TB, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write archive: %v", err)
	}
	return path
}

// Tree returns every regular file below root keyed by slash-separated
// relative path, mapped to its contents.
func Tree(tb testing.TB, root string) map[string][]byte {
	tb.Helper()
	out := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) //nolint:gosec // test paths
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		tb.Fatalf("walk %s: %v", root, err)
	}
	return out
}
