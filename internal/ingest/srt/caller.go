package srt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/pgs/internal/ingest"
)

// dialTimeout bounds Pull's connection attempt.
const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string             `json:"address"`
	StreamKey string             `json:"streamKey"`
	StreamID  string             `json:"streamId,omitempty"`
	Format    ingest.InputFormat `json:"format"`
}

// streamID returns the ID sent to the remote listener.
func (r PullRequest) streamID() string {
	if r.StreamID != "" {
		return r.StreamID
	}
	if r.Format == ingest.FormatSUP {
		return "sup/" + r.StreamKey
	}
	return "live/" + r.StreamKey
}

func (r PullRequest) validate() error {
	if r.Address == "" {
		return fmt.Errorf("srt: pull: address is required")
	}
	if r.StreamKey == "" {
		return fmt.Errorf("srt: pull: streamKey is required")
	}
	return nil
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller dials remote SRT listeners and streams their data into the ingest
// registry.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller. If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

// Pull dials the remote listener, waiting up to dialTimeout. On success the
// stream is registered and copied in the background until the remote side
// ends, ctx is done, or Stop is called.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if c.active(req.StreamKey) {
		return fmt.Errorf("srt: pull already active for stream key %q", req.StreamKey)
	}

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = req.streamID()

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("srt: dial %s: %w", req.Address, res.err)
		}
		return c.start(ctx, req, res.conn)
	case <-timer.C:
		abandon()
		return fmt.Errorf("srt: dial %s timed out after %s", req.Address, dialTimeout)
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}
}

func (c *Caller) active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pulls[key]
	return ok
}

func (c *Caller) start(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("srt: pull already active for stream key %q", req.StreamKey)
	}
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	stream, err := c.registry.Register(req.StreamKey, req.Format)
	if err != nil {
		c.forget(req.StreamKey)
		cancel()
		conn.Close()
		return err
	}
	stream.SetRemoteAddr(req.Address)
	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey, "format", req.Format)

	go func() {
		// The connection is closed once pullCtx ends, which also unblocks a
		// pending conn.Read when the pull is stopped.
		<-pullCtx.Done()
		conn.Close()
	}()
	go func() {
		defer func() {
			cancel()
			stats := stream.Stats()
			c.registry.Unregister(req.StreamKey)
			c.forget(req.StreamKey)
			c.log.Info("pull ended", "stream_key", req.StreamKey,
				"bytes", stats.BytesReceived, "writes", stats.WriteCount,
				"uptime_ms", stats.UptimeMs)
		}()
		copyStream(pullCtx, conn, stream, c.log)
	}()
	return nil
}

func (c *Caller) forget(key string) {
	c.mu.Lock()
	delete(c.pulls, key)
	c.mu.Unlock()
}

// Stop cancels an active pull.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("srt: no active pull for stream key %q", streamKey)
	}
	ap.cancel()
	return nil
}

// ActivePulls lists the running pulls ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}
