// Package ingest tracks live subtitle feeds pushed into the process. Each
// feed is a Stream: a byte pipe the transport writes into and a decoder
// reads from, with connection counters and a done signal.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// InputFormat identifies the framing of an ingested byte stream.
type InputFormat int

// Supported ingest formats.
const (
	FormatMPEGTS InputFormat = iota // transport stream carrying PGS PES packets
	FormatSUP                       // raw SUP records
)

func (f InputFormat) String() string {
	switch f {
	case FormatMPEGTS:
		return "mpegts"
	case FormatSUP:
		return "sup"
	}
	return fmt.Sprintf("InputFormat(%d)", int(f))
}

// ParseFormat maps a format name to an InputFormat.
func ParseFormat(s string) (InputFormat, error) {
	switch s {
	case "mpegts", "ts", "m2ts":
		return FormatMPEGTS, nil
	case "sup", "pgs":
		return FormatSUP, nil
	}
	return 0, fmt.Errorf("ingest: unknown format %q", s)
}

// ErrStreamExists is returned by Register for a key that is already live.
var ErrStreamExists = errors.New("ingest: stream key already registered")

// Stats is a snapshot of one stream's connection counters.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	WriteCount    int64  `json:"writeCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
	Format        string `json:"format"`
}

// Stream is one live feed. The transport writes into it; the decoder reads
// the other end of its pipe.
type Stream struct {
	Key       string
	StartedAt time.Time
	Format    InputFormat
	input     io.ReadCloser
	pw        *io.PipeWriter
	done      chan struct{}

	bytesReceived atomic.Int64
	writeCount    atomic.Int64
	remoteAddr    atomic.Value
}

// Write forwards p to the reading side, blocking until it is consumed, and
// counts it.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.pw.Write(p)
	s.bytesReceived.Add(int64(n))
	s.writeCount.Add(1)
	return n, err
}

// SetRemoteAddr records the peer address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		WriteCount:    s.writeCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
		Format:        s.Format.String(),
	}
}

// Registry tracks live streams by key and hands each new one to the
// onStream callback, which typically starts a decoder on it.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream func(s *Stream, input io.Reader)
}

// NewRegistry creates a Registry. onStream, when non-nil, runs in its own
// goroutine for every registered stream.
func NewRegistry(onStream func(s *Stream, input io.Reader)) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a live stream under key.
func (r *Registry) Register(key string, format InputFormat) (*Stream, error) {
	pr, pw := io.Pipe()
	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.streams[key]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrStreamExists, key)
	}
	r.streams[key] = stream
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(stream, pr)
	}
	return stream, nil
}

// Unregister removes a stream, ends its pipe with io.EOF for the reader and
// closes Done.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
	}
}

// Get returns the live stream for key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Keys returns the live stream keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
