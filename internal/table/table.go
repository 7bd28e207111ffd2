// Package table reads the fixed-width integer records and length-prefixed
// blobs that make up an archive header.
package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTruncated is returned when fewer bytes are available than a field
	// or declared blob length requires.
	ErrTruncated = errors.New("truncated read")

	// ErrBlobTooLarge is returned when a declared blob length exceeds the
	// caller's limit.
	ErrBlobTooLarge = errors.New("blob too large")
)

// Reader decodes little-endian fields from a seekable stream.
//
// Reads are sequential and blocking. Any short read fails immediately;
// there is no retry.
type Reader struct {
	rs  io.ReadSeeker
	buf [4]byte
}

// NewReader returns a Reader over rs. The stream position is not changed.
func NewReader(rs io.ReadSeeker) *Reader {
	return &Reader{rs: rs}
}

// ReadU32 reads one little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.readFull(r.buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.buf[:]), nil
}

// ReadU32s reads n consecutive little-endian uint32 values.
func (r *Reader) ReadU32s(n int) ([]uint32, error) {
	if n < 0 {
		return nil, fmt.Errorf("table: negative count %d", n)
	}
	raw := make([]byte, 4*n)
	if err := r.readFull(raw); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return out, nil
}

// ReadBlob reads a uint32 length L followed by exactly L bytes into a
// freshly allocated buffer.
//
// limit is the number of bytes the stream has left after the length field.
// If L exceeds it, the blob cannot be complete: the error wraps both
// ErrTruncated and ErrBlobTooLarge and nothing is allocated.
func (r *Reader) ReadBlob(limit uint64) ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > limit {
		return nil, fmt.Errorf("%w: %w: declared %d bytes, %d remain", ErrTruncated, ErrBlobTooLarge, n, limit)
	}
	blob := make([]byte, n)
	if err := r.readFull(blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// Skip advances the stream by n bytes without reading.
func (r *Reader) Skip(n int64) error {
	if _, err := r.rs.Seek(n, io.SeekCurrent); err != nil {
		return fmt.Errorf("skip %d bytes: %w", n, err)
	}
	return nil
}

// Seek moves the stream to the absolute position pos.
func (r *Reader) Seek(pos int64) error {
	if _, err := r.rs.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", pos, err)
	}
	return nil
}

// Pos returns the current stream position.
func (r *Reader) Pos() (int64, error) {
	return r.rs.Seek(0, io.SeekCurrent)
}

// Size returns the total stream size, restoring the current position.
func (r *Reader) Size() (int64, error) {
	cur, err := r.Pos()
	if err != nil {
		return 0, err
	}
	end, err := r.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.rs.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

func (r *Reader) readFull(p []byte) error {
	got, err := io.ReadFull(r.rs, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, got, len(p))
	default:
		return err
	}
}
