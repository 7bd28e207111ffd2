// Package strtab tokenizes string tables: length-prefixed blobs holding a
// concatenation of NUL-terminated names that are consumed positionally.
package strtab

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrUnterminated is returned when the remaining bytes contain no NUL.
	ErrUnterminated = errors.New("unterminated token")

	// ErrTooFew is returned by Take when the table runs out of tokens.
	ErrTooFew = errors.New("too few tokens")
)

// Cursor walks an immutable byte buffer, yielding NUL-terminated tokens
// in order.
//
// Tokens returned by Next alias the underlying buffer.
type Cursor struct {
	buf []byte
	off int
}

// New returns a Cursor positioned at the start of buf.
//
// buf is retained and must not be modified while the Cursor is in use.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of bytes not yet consumed.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int {
	return c.off
}

// Next returns the next token, excluding its terminator.
//
// ok is false with a nil error when the cursor is exhausted. If the
// remaining bytes hold no NUL, Next returns ErrUnterminated and does not
// advance.
func (c *Cursor) Next() (tok []byte, ok bool, err error) {
	rest := c.buf[c.off:]
	if len(rest) == 0 {
		return nil, false, nil
	}
	p := bytes.IndexByte(rest, 0)
	if p < 0 {
		return nil, false, fmt.Errorf("%w at offset %d", ErrUnterminated, c.off)
	}
	c.off += p + 1
	return rest[:p:p], true, nil
}

// NextString is like Next but copies the token into a string.
func (c *Cursor) NextString() (string, bool, error) {
	tok, ok, err := c.Next()
	if !ok || err != nil {
		return "", ok, err
	}
	return string(tok), true, nil
}

// Take returns exactly n tokens as strings.
//
// Early exhaustion is reported as ErrTooFew; errors from Next are
// returned as-is. In both cases the index of the missing token is
// included in the message.
func (c *Cursor) Take(n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := range n {
		s, ok, err := c.NextString()
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrTooFew, i, n)
		}
		out = append(out, s)
	}
	return out, nil
}
