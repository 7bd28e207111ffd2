package smbdat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/smbdat/internal/copier"
	"github.com/meigma/smbdat/internal/fsutil"
	"github.com/meigma/smbdat/internal/table"
)

// ExtractStats contains statistics about an extraction.
type ExtractStats struct {
	// Folders is the number of catalog folders materialized.
	Folders int

	// Files is the number of files written.
	Files int

	// Bytes is the number of payload bytes written.
	Bytes uint64

	// Digests maps file names to payload digests. It is nil unless
	// ExtractWithDigests is enabled.
	Digests map[string]digest.Digest
}

// Extract writes every folder and file in c below destRoot, reading
// payloads from src.
//
// destRoot and each catalog folder are created with MkdirAll semantics;
// an existing directory is success and an existing non-directory fails
// with ErrNotADirectory. Each file is created (or truncated) at
// destRoot/<name> and receives exactly its declared length, copied in
// 64KiB chunks.
//
// The first failure aborts the extraction and is returned as an
// *ExtractError, including cancellation of ctx. Files already written,
// including a partially written file, are left in place.
//
// Serial extraction moves the seek position of src; callers must not use
// src concurrently.
func Extract(ctx context.Context, c *Catalog, src io.ReadSeeker, destRoot string, opts ...ExtractOption) (ExtractStats, error) {
	cfg := extractConfig{boundsCheck: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := ctx.Err(); err != nil {
		return ExtractStats{}, &ExtractError{Op: "extract", Name: destRoot, Err: err}
	}
	x := &extractor{
		cat:  c,
		cfg:  cfg,
		log:  discard(cfg.logger),
		root: filepath.Clean(destRoot),
	}
	if cfg.digests {
		x.stats.Digests = make(map[string]digest.Digest, c.Len())
	}

	if cfg.boundsCheck {
		size, err := table.NewReader(src).Size()
		if err != nil {
			return x.stats, &ExtractError{Op: "stat", Name: destRoot, Err: ioErr(err)}
		}
		if e, bad := c.outOfBounds(size); bad {
			return x.stats, &ExtractError{Op: "validate", Name: e.Name, Err: outOfBoundsErr(e, size)}
		}
	}

	x.log.Info("extracting archive", "dest", x.root, "folders", c.FolderCount(), "files", c.Len(), "bytes", c.TotalBytes())

	if err := fsutil.EnsureDir(x.root); err != nil {
		return x.stats, &ExtractError{Op: "mkdir", Name: destRoot, Err: dirErr(err)}
	}
	if err := x.makeFolders(); err != nil {
		return x.stats, err
	}

	var err error
	if ra, ok := src.(io.ReaderAt); ok && cfg.workers > 1 && !hasCollisions(c) {
		err = x.writeFilesParallel(ctx, ra)
	} else {
		err = x.writeFilesSerial(ctx, src)
	}
	if err != nil {
		return x.stats, err
	}

	x.log.Info("extraction complete", "files", x.stats.Files, "bytes", x.stats.Bytes)
	return x.stats, nil
}

// extractor holds state for one extraction.
type extractor struct {
	cat  *Catalog
	cfg  extractConfig
	log  *slog.Logger
	root string

	mu    sync.Mutex // guards stats in parallel mode
	stats ExtractStats
}

func (x *extractor) report(ev ProgressEvent) {
	if x.cfg.progress != nil {
		x.cfg.progress(ev)
	}
}

func (x *extractor) makeFolders() error {
	total := x.cat.FolderCount()
	for _, name := range x.cat.Folders() {
		path, err := fsutil.Join(x.root, name)
		if err != nil {
			return &ExtractError{Op: "mkdir", Name: name, Err: err}
		}
		if err := fsutil.EnsureDir(path); err != nil {
			return &ExtractError{Op: "mkdir", Name: name, Err: dirErr(err)}
		}
		x.stats.Folders++
		x.log.Debug("folder created", "name", name)
		x.report(ProgressEvent{
			Stage:      StageFolders,
			Path:       name,
			FilesDone:  x.stats.Folders,
			FilesTotal: total,
		})
	}
	return nil
}

func (x *extractor) writeFilesSerial(ctx context.Context, src io.ReadSeeker) error {
	buf := copier.NewBuffer()
	for _, e := range x.cat.Entries() {
		if _, err := src.Seek(int64(e.Offset), io.SeekStart); err != nil {
			return &ExtractError{Op: "seek", Name: e.Name, Err: ioErr(err)}
		}
		d, err := x.writeFile(ctx, e, src, buf)
		if err != nil {
			return err
		}
		x.done(e, d)
	}
	return nil
}

// writeFilesParallel copies files concurrently. Each worker reads its
// payload through a section of ra, so no seek position is shared.
func (x *extractor) writeFilesParallel(ctx context.Context, ra io.ReaderAt) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.workers)
	bufs := sync.Pool{New: func() any {
		b := copier.NewBuffer()
		return &b
	}}
	x.log.Debug("parallel extraction", "workers", x.cfg.workers)

	for _, e := range x.cat.Entries() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &ExtractError{Op: "copy", Name: e.Name, Err: err}
			}
			buf := bufs.Get().(*[]byte) //nolint:errcheck // pool only holds *[]byte
			defer bufs.Put(buf)

			section := io.NewSectionReader(ra, int64(e.Offset), int64(e.Length))
			d, err := x.writeFile(gctx, e, section, *buf)
			if err != nil {
				return err
			}
			x.done(e, d)
			return nil
		})
	}
	return g.Wait()
}

// writeFile creates the output file for e and copies exactly e.Length
// bytes from r into it.
func (x *extractor) writeFile(ctx context.Context, e FileEntry, r io.Reader, buf []byte) (digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", &ExtractError{Op: "copy", Name: e.Name, Err: err}
	}
	rel, err := fsutil.Rel(e.Name)
	if err == nil && rel == "." {
		err = fmt.Errorf("%w: empty file name", ErrUnsafePath)
	}
	if err != nil {
		return "", &ExtractError{Op: "create", Name: e.Name, Err: err}
	}

	f, err := fsutil.CreateFile(filepath.Join(x.root, rel))
	if err != nil {
		return "", &ExtractError{Op: "create", Name: e.Name, Err: dirErr(err)}
	}

	var (
		w         io.Writer = f
		digester  digest.Digester
		wantsHash = x.cfg.digests
	)
	if wantsHash {
		digester = digest.Canonical.Digester()
		w = io.MultiWriter(f, digester.Hash())
	}

	_, copyErr := copier.CopyN(ctx, w, r, uint64(e.Length), buf)
	closeErr := f.Close()
	if copyErr != nil {
		if !errors.Is(copyErr, ErrCopyTruncated) && ctx.Err() == nil {
			copyErr = ioErr(copyErr)
		}
		return "", &ExtractError{Op: "copy", Name: e.Name, Err: copyErr}
	}
	if closeErr != nil {
		return "", &ExtractError{Op: "close", Name: e.Name, Err: ioErr(closeErr)}
	}

	x.log.Debug("file written", "name", e.Name, "bytes", e.Length)
	if wantsHash {
		return digester.Digest(), nil
	}
	return "", nil
}

// done records a completed file and reports progress.
func (x *extractor) done(e FileEntry, d digest.Digest) {
	x.mu.Lock()
	x.stats.Files++
	x.stats.Bytes += uint64(e.Length)
	if x.stats.Digests != nil {
		x.stats.Digests[e.Name] = d
	}
	ev := ProgressEvent{
		Stage:      StageFiles,
		Path:       e.Name,
		BytesDone:  x.stats.Bytes,
		BytesTotal: x.cat.TotalBytes(),
		FilesDone:  x.stats.Files,
		FilesTotal: x.cat.Len(),
		Digest:     d,
	}
	x.mu.Unlock()
	x.report(ev)
}

// hasCollisions reports whether two entries resolve to the same output
// path. Such archives are extracted serially so the last entry wins, as it
// would in catalog order.
func hasCollisions(c *Catalog) bool {
	seen := make(map[string]struct{}, c.Len())
	for _, e := range c.Entries() {
		key := fsutil.NormalizeName(e.Name)
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

// dirErr keeps ErrNotADirectory visible and tags everything else as an
// I/O failure.
func dirErr(err error) error {
	if errors.Is(err, ErrNotADirectory) {
		return err
	}
	return ioErr(err)
}
