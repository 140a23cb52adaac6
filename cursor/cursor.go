// Package cursor provides big-endian sequential readers over PGS byte data.
//
// [Reader] walks a fixed buffer and is used for bulk decoding and for the
// bounded per-segment views carved by the segment codec. [Stream] is fed
// incrementally by a producer and suspends its single consumer until enough
// bytes have arrived.
package cursor

import (
	"errors"
	"fmt"
)

// ErrUnexpectedEnd is returned when a read asks for more bytes than remain.
var ErrUnexpectedEnd = errors.New("cursor: unexpected end of data")

// Reader is a big-endian reader over a fixed buffer with a monotonic offset.
// Slices returned by ReadBytes and ReadRemaining alias the underlying buffer.
type Reader struct {
	buf []byte
	off int
}

// New returns a Reader positioned at the start of buf.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.off }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// IsEmpty reports whether every byte has been consumed.
func (r *Reader) IsEmpty() bool { return r.off >= len(r.buf) }

// HasAtLeast reports whether n more bytes can be read.
func (r *Reader) HasAtLeast(n int) bool { return n >= 0 && r.Len() >= n }

func (r *Reader) take(n int) ([]byte, error) {
	if !r.HasAtLeast(n) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrUnexpectedEnd, n, r.Len())
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a big-endian 16-bit value.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadU24 reads a big-endian 24-bit value.
func (r *Reader) ReadU24() (uint32, error) {
	b, err := r.take(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// ReadU32 reads a big-endian 32-bit value.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

// ReadRemaining consumes and returns every unread byte. It never fails; an
// exhausted reader yields an empty slice.
func (r *Reader) ReadRemaining() []byte {
	b := r.buf[r.off:len(r.buf):len(r.buf)]
	r.off = len(r.buf)
	return b
}

// Sub carves the next n bytes into an independent Reader and advances past
// them, so a decoder working on the sub-reader can never run over its bound.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return New(b), nil
}
