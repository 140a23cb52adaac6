package cursor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestStream_ReadAfterWrite(t *testing.T) {
	t.Parallel()
	s := NewStream()
	s.Write([]byte{0x50, 0x47, 0x00, 0x00, 0x00, 0x01})

	ctx := context.Background()
	magic, err := s.ReadU16(ctx)
	if err != nil || magic != 0x5047 {
		t.Fatalf("ReadU16 = 0x%04X, %v", magic, err)
	}
	v, err := s.ReadU32(ctx)
	if err != nil || v != 1 {
		t.Fatalf("ReadU32 = %d, %v", v, err)
	}
	if s.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", s.Buffered())
	}
}

func TestStream_SuspendsUntilWrite(t *testing.T) {
	t.Parallel()
	s := NewStream()
	got := make(chan uint32, 1)
	errCh := make(chan error, 1)

	go func() {
		v, err := s.ReadU24(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		got <- v
	}()

	s.Write([]byte{0x01})
	select {
	case <-got:
		t.Fatal("read completed with only one byte buffered")
	case <-time.After(20 * time.Millisecond):
	}

	s.Write([]byte{0x02, 0x03})
	select {
	case v := <-got:
		if v != 0x010203 {
			t.Errorf("ReadU24 = 0x%06X, want 0x010203", v)
		}
	case err := <-errCh:
		t.Fatal(err)
	case <-time.After(time.Second):
		t.Fatal("read did not resume after write")
	}
}

func TestStream_CloseWithPartialData(t *testing.T) {
	t.Parallel()
	s := NewStream()
	s.Write([]byte{0x01})
	s.Close()

	if _, err := s.ReadU16(context.Background()); !errors.Is(err, ErrUnexpectedEnd) {
		t.Errorf("err = %v, want ErrUnexpectedEnd", err)
	}
}

func TestStream_NeedEOFWhenDrained(t *testing.T) {
	t.Parallel()
	s := NewStream()
	s.Close()
	if err := s.Need(context.Background(), 1); !errors.Is(err, io.EOF) {
		t.Errorf("Need on closed empty stream = %v, want io.EOF", err)
	}
	if _, err := s.Write([]byte{0x00}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestStream_ResetInterruptsWait(t *testing.T) {
	t.Parallel()
	s := NewStream()
	s.Write([]byte{0xAA})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadU32(context.Background())
		errCh <- err
	}()

	waitForConsumer(t, s)
	s.Reset()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReset) {
			t.Fatalf("err = %v, want ErrReset", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reset did not interrupt the wait")
	}

	if s.Buffered() != 0 {
		t.Errorf("buffered = %d after reset, want 0", s.Buffered())
	}
	if s.Generation() != 1 {
		t.Errorf("generation = %d, want 1", s.Generation())
	}

	// A fresh wait after the reset starts cleanly.
	s.Write([]byte{0x00, 0x00, 0x00, 0x2A})
	v, err := s.ReadU32(context.Background())
	if err != nil || v != 42 {
		t.Errorf("ReadU32 after reset = %d, %v; want 42", v, err)
	}
}

func TestStream_ContextCancel(t *testing.T) {
	t.Parallel()
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ReadU8(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	// The cancelled wait must not leave the stream marked as busy.
	s.Write([]byte{0x07})
	b, err := s.ReadU8(context.Background())
	if err != nil || b != 0x07 {
		t.Errorf("ReadU8 = %d, %v; want 7", b, err)
	}
}

func TestStream_Pump(t *testing.T) {
	t.Parallel()
	s := NewStream()
	src := bytes.Repeat([]byte{0x11, 0x22}, 40000)

	done := make(chan error, 1)
	go func() { done <- s.Pump(context.Background(), bytes.NewReader(src)) }()

	got, err := s.ReadBytes(context.Background(), len(src))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Error("pumped bytes differ from source")
	}
	if err := <-done; err != nil {
		t.Errorf("Pump = %v", err)
	}
	if err := s.Need(context.Background(), 1); !errors.Is(err, io.EOF) {
		t.Errorf("Need after pump = %v, want io.EOF", err)
	}
}

// waitForConsumer blocks until a reader is parked inside the stream.
func waitForConsumer(t *testing.T, s *Stream) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		waiting := s.waiting
		s.mu.Unlock()
		if waiting {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("consumer never started waiting")
}
