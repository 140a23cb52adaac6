package feeder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/cursor"
	"github.com/zsiec/pgs/segment"
)

// StreamFeeder decodes a SUP byte stream in the background. Content serves
// the points decoded so far, so playback can start before the stream ends.
type StreamFeeder struct {
	log       *slog.Logger
	timeshift time.Duration
	stream    *cursor.Stream
	src       io.Reader
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.RWMutex
	points  []*acquisition.Point
	err     error
	readErr error
}

// NewStreamFeeder starts decoding r. Decoding stops when r is exhausted,
// when it fails, when ctx is done or on Close.
//
// Done and Close track the decoder, not the read from r. A Read blocked on a
// source that is not an io.Closer keeps its goroutine until it returns; the
// bytes it delivers after that are discarded.
func NewStreamFeeder(ctx context.Context, r io.Reader, opts Options) *StreamFeeder {
	ctx, cancel := context.WithCancel(ctx)
	f := &StreamFeeder{
		log:       opts.logger().With("component", "stream-feeder"),
		timeshift: opts.Timeshift,
		stream:    cursor.NewStream(),
		src:       r,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go f.stream.Pump(ctx, &recordingReader{r: r, f: f})
	go func() {
		err := f.consume(ctx, opts)
		// Stop buffering for a pump that is still reading.
		f.stream.Reset()
		f.stream.Close()

		f.mu.Lock()
		f.err = err
		n := len(f.points)
		f.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			f.log.Warn("stream decode stopped", "error", err, "points", n)
		} else {
			f.log.Debug("stream decode finished", "points", n)
		}
		close(f.done)
	}()
	return f
}

// recordingReader keeps the first read failure of the source so the decoder
// can report it instead of the truncation it causes.
type recordingReader struct {
	r io.Reader
	f *StreamFeeder
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		rr.f.mu.Lock()
		if rr.f.readErr == nil {
			rr.f.readErr = err
		}
		rr.f.mu.Unlock()
	}
	return n, err
}

func (f *StreamFeeder) consume(ctx context.Context, opts Options) error {
	err := f.decode(ctx, opts)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.RLock()
	rerr := f.readErr
	f.mu.RUnlock()
	if rerr != nil {
		return rerr
	}
	return err
}

func (f *StreamFeeder) decode(ctx context.Context, opts Options) error {
	r := acquisition.NewReader(segment.NewStreamReader(ctx, f.stream), opts.acquisition())
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.points = append(f.points, p)
		f.mu.Unlock()
	}
}

// Content implements Feeder.
func (f *StreamFeeder) Content(at time.Duration) *acquisition.Point {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return floor(f.points, at-f.timeshift)
}

// Seek implements Feeder. Decoded points stay valid across seeks.
func (f *StreamFeeder) Seek() {}

// Done is closed once decoding has stopped.
func (f *StreamFeeder) Done() <-chan struct{} { return f.done }

// Err returns the failure that stopped decoding. It is nil while decoding
// is still running and after a clean end, and context.Canceled after Close.
func (f *StreamFeeder) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// First returns the earliest point decoded so far, or nil.
func (f *StreamFeeder) First() *acquisition.Point {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.points) == 0 {
		return nil
	}
	return f.points[0]
}

// Len returns the number of points decoded so far.
func (f *StreamFeeder) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.points)
}

// Close stops decoding and waits for the decoder to finish. The pending byte
// wait is interrupted; if the source is an io.Closer it is closed so a
// blocked read returns.
func (f *StreamFeeder) Close() error {
	f.cancel()
	f.stream.Reset()
	if c, ok := f.src.(io.Closer); ok {
		c.Close()
	}
	<-f.done
	return nil
}
