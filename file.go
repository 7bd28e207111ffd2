package smbdat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/meigma/smbdat/internal/sizing"
)

// ArchiveFile wraps a Catalog with the archive file it was built from.
// Close must be called to release the file handle.
type ArchiveFile struct {
	*Catalog
	path string
	file *os.File
}

// OpenFile opens the archive at path and builds its catalog.
//
// The file stays open for ExtractTo and ReadFile. Open failures wrap
// ErrOpenFailed; decoding failures are returned as *ParseError.
func OpenFile(path string, opts ...Option) (*ArchiveFile, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	c, err := Build(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ArchiveFile{Catalog: c, path: path, file: f}, nil
}

// Path returns the path the archive was opened from.
func (a *ArchiveFile) Path() string {
	return a.path
}

// ExtractTo extracts every folder and file below destRoot.
// See Extract for details.
func (a *ArchiveFile) ExtractTo(ctx context.Context, destRoot string, opts ...ExtractOption) (ExtractStats, error) {
	if a.file == nil {
		return ExtractStats{}, fmt.Errorf("%w: archive is closed", ErrIOFailure)
	}
	return Extract(ctx, a.Catalog, a.file, destRoot, opts...)
}

// ReadFile returns the payload of the named file.
//
// The payload is read by absolute offset and does not move the file's seek
// position. An entry that extends past the end of the archive returns
// ErrOutOfBounds.
func (a *ArchiveFile) ReadFile(name string) ([]byte, error) {
	if a.file == nil {
		return nil, fmt.Errorf("%w: archive is closed", ErrIOFailure)
	}
	e, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !sizing.InBounds(e.Offset, e.Length, a.SourceSize()) {
		return nil, fmt.Errorf("%w: %q", ErrOutOfBounds, name)
	}
	buf := make([]byte, e.Length)
	n, err := a.file.ReadAt(buf, int64(e.Offset))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %d of %d bytes of %q", ErrCopyTruncated, n, len(buf), name)
	}
	return nil, ioErr(err)
}

// Close closes the underlying archive file.
func (a *ArchiveFile) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Interface compliance.
var _ io.Closer = (*ArchiveFile)(nil)
