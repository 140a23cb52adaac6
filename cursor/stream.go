package cursor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrReset is returned to a consumer whose wait was interrupted by Reset.
	ErrReset = errors.New("cursor: stream reset")

	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("cursor: write to closed stream")

	errConcurrentWait = errors.New("cursor: concurrent wait on stream")
)

// Stream is an incrementally filled byte buffer with big-endian reads that
// block until the requested bytes are available. It is a single-producer,
// single-consumer handoff: Write and Close notify the one outstanding wait.
//
// Reset discards buffered bytes and bumps a generation counter; a wait that
// started under an older generation returns ErrReset, and the next wait
// starts cleanly.
type Stream struct {
	mu      sync.Mutex
	buf     []byte
	closed  bool
	waiting bool
	gen     uint64
	notify  chan struct{}
}

// NewStream returns an empty, open Stream.
func NewStream() *Stream {
	return &Stream{notify: make(chan struct{})}
}

// wake must be called with mu held.
func (s *Stream) wake() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// Write appends p to the buffer and resumes a waiting consumer.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.buf = append(s.buf, p...)
	s.wake()
	return len(p), nil
}

// Close marks the source exhausted. Buffered bytes remain readable.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.wake()
	}
	return nil
}

// Reset discards unconsumed bytes and interrupts the current wait.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.gen++
	s.wake()
}

// Generation returns the number of resets performed so far.
func (s *Stream) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Buffered returns the number of bytes available without waiting.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Need blocks until at least n bytes are buffered. It returns io.EOF if the
// stream is closed with nothing buffered, ErrUnexpectedEnd if it is closed
// with fewer than n bytes, ErrReset if Reset ran during the wait, or the
// context error.
func (s *Stream) Need(ctx context.Context, n int) error {
	if err := s.wait(ctx, n); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

// wait returns nil with mu held once n bytes are buffered.
func (s *Stream) wait(ctx context.Context, n int) error {
	s.mu.Lock()
	if s.waiting {
		s.mu.Unlock()
		return errConcurrentWait
	}
	s.waiting = true
	gen := s.gen

	for {
		switch {
		case s.gen != gen:
			s.waiting = false
			s.mu.Unlock()
			return ErrReset
		case len(s.buf) >= n:
			s.waiting = false
			return nil
		case s.closed && len(s.buf) == 0:
			s.waiting = false
			s.mu.Unlock()
			return io.EOF
		case s.closed:
			have := len(s.buf)
			s.waiting = false
			s.mu.Unlock()
			return fmt.Errorf("%w: need %d bytes, stream ended with %d", ErrUnexpectedEnd, n, have)
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
			s.mu.Lock()
		case <-ctx.Done():
			s.mu.Lock()
			s.waiting = false
			s.mu.Unlock()
			return ctx.Err()
		}
	}
}

func (s *Stream) take(ctx context.Context, n int) ([]byte, error) {
	if err := s.wait(ctx, n); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: need %d bytes, stream ended", ErrUnexpectedEnd, n)
		}
		return nil, err
	}
	defer s.mu.Unlock()
	out := make([]byte, n)
	copy(out, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return out, nil
}

// ReadU8 waits for and reads one byte.
func (s *Stream) ReadU8(ctx context.Context) (uint8, error) {
	b, err := s.take(ctx, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 waits for and reads a big-endian 16-bit value.
func (s *Stream) ReadU16(ctx context.Context) (uint16, error) {
	b, err := s.take(ctx, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadU24 waits for and reads a big-endian 24-bit value.
func (s *Stream) ReadU24(ctx context.Context) (uint32, error) {
	b, err := s.take(ctx, 3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// ReadU32 waits for and reads a big-endian 32-bit value.
func (s *Stream) ReadU32(ctx context.Context) (uint32, error) {
	b, err := s.take(ctx, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadBytes waits for n bytes and returns a copy the caller owns.
func (s *Stream) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	return s.take(ctx, n)
}

// streamReadSize is the chunk size Pump reads from its source.
const streamReadSize = 32 * 1024

// Pump copies r into the stream until r is exhausted or ctx is done, then
// closes the stream. A read error other than io.EOF is returned after close.
func (s *Stream) Pump(ctx context.Context, r io.Reader) error {
	defer s.Close()
	buf := make([]byte, streamReadSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
