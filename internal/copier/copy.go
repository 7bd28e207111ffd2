// Package copier streams fixed-length payloads between readers and writers
// in bounded chunks.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ChunkSize is the size of each read/write step.
const ChunkSize = 64 << 10 // 64KiB

// ErrShort is returned when a read or write transfers fewer bytes than
// requested.
var ErrShort = errors.New("short transfer")

// NewBuffer allocates a reusable chunk buffer.
func NewBuffer() []byte {
	return make([]byte, ChunkSize)
}

// CopyN copies exactly n bytes from src to dst using buf, one chunk at a
// time. Every chunk but the last is len(buf) bytes; the last is sized to
// the remainder. It checks for context cancellation between chunks and
// returns the number of bytes written.
//
// A chunk that cannot be read in full is not written. Bytes already
// written stay in dst.
//
//nolint:gocognit // mirrors io.Copy error handling
func CopyN(ctx context.Context, dst io.Writer, src io.Reader, n uint64, buf []byte) (uint64, error) {
	if len(buf) == 0 {
		return 0, errors.New("copier: empty buffer")
	}
	var written uint64
	for written < n {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		want := uint64(len(buf))
		if rem := n - written; rem < want {
			want = rem
		}
		chunk := buf[:want]
		nr, er := io.ReadFull(src, chunk)
		if er != nil {
			if errors.Is(er, io.EOF) || errors.Is(er, io.ErrUnexpectedEOF) {
				return written, fmt.Errorf("%w: read %d of %d bytes at %d", ErrShort, nr, want, written)
			}
			return written, er
		}
		nw, ew := dst.Write(chunk)
		if nw > 0 {
			written += uint64(nw) //nolint:gosec // nw is non-negative per io.Writer contract
		}
		if ew != nil {
			if errors.Is(ew, io.ErrShortWrite) {
				return written, fmt.Errorf("%w: wrote %d of %d bytes", ErrShort, nw, want)
			}
			return written, ew
		}
		if nw != nr {
			return written, fmt.Errorf("%w: wrote %d of %d bytes", ErrShort, nw, want)
		}
	}
	return written, nil
}
