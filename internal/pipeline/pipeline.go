// Package pipeline runs one live subtitle stream end to end: it decodes the
// ingested bytes (SUP records or an MPEG transport stream), presents them on
// a stream clock through a controller and a render surface, and hands every
// newly shown subtitle frame to a Sink.
package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/controller"
	"github.com/zsiec/pgs/demux"
	"github.com/zsiec/pgs/feeder"
	"github.com/zsiec/pgs/internal/ingest"
	"github.com/zsiec/pgs/render"
	"github.com/zsiec/pgs/segment"
)

// DefaultTick is the presentation tick when Config.Tick is zero.
const DefaultTick = 40 * time.Millisecond

// Sink receives each subtitle the moment it is shown. frame is the surface
// snapshot after rendering p; it is fully transparent for a clear.
type Sink interface {
	Present(key string, p *acquisition.Point, frame *image.NRGBA) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key string, p *acquisition.Point, frame *image.NRGBA) error

// Present implements Sink.
func (f SinkFunc) Present(key string, p *acquisition.Point, frame *image.NRGBA) error {
	return f(key, p, frame)
}

// Config configures a Pipeline.
type Config struct {
	Key     string
	Format  ingest.InputFormat
	Feeder  feeder.Options
	Surface render.SurfaceConfig
	// PID selects one PGS stream in a transport stream; zero takes all.
	PID uint16
	// Tick is the presentation interval.
	Tick time.Duration
	// Delay holds presentation behind the stream's first decode time so
	// segments can arrive ahead of their display. Zero means four ticks.
	Delay time.Duration
	Sink  Sink
	Log   *slog.Logger
}

// Snapshot is a point-in-time view of a pipeline's counters.
type Snapshot struct {
	Key       string `json:"key"`
	Format    string `json:"format"`
	Records   int64  `json:"records"`
	Presented int64  `json:"presented"`
	LastPTS   int64  `json:"lastPts"`
	UptimeMs  int64  `json:"uptimeMs"`
}

// Pipeline runs one stream. Create it with New and call Run once.
type Pipeline struct {
	log     *slog.Logger
	cfg     Config
	input   io.Reader
	clock   *streamClock
	surface *render.Surface
	started time.Time

	records   atomic.Int64
	presented atomic.Int64
	lastPTS   atomic.Int64
}

// New creates a Pipeline reading input.
func New(input io.Reader, cfg Config) *Pipeline {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 4 * cfg.Tick
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stream", cfg.Key)
	cfg.Feeder.Log = log
	return &Pipeline{
		log:     log,
		cfg:     cfg,
		input:   input,
		clock:   &streamClock{delay: cfg.Delay},
		surface: render.NewSurface(cfg.Surface),
		started: time.Now(),
	}
}

// Snapshot returns the pipeline's counters.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Key:       p.cfg.Key,
		Format:    p.cfg.Format.String(),
		Records:   p.records.Load(),
		Presented: p.presented.Load(),
		LastPTS:   p.lastPTS.Load(),
		UptimeMs:  time.Since(p.started).Milliseconds(),
	}
}

// Run decodes and presents until the input ends and the last subtitle has
// been shown, or until ctx is cancelled. Cancellation is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.surface.Destroy()
	if c, ok := p.input.(io.Closer); ok {
		// Unblocks a pending read on cancellation.
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	present, stopPresent := context.WithCancel(gctx)
	defer stopPresent()

	var f feeder.Feeder
	switch p.cfg.Format {
	case ingest.FormatSUP:
		sf := feeder.NewStreamFeeder(gctx, p.input, p.cfg.Feeder)
		defer sf.Close()
		p.clock.probe = func() (time.Duration, bool) {
			if first := sf.First(); first != nil {
				return first.Time(), true
			}
			return 0, false
		}
		f = sf
		g.Go(func() error {
			defer stopPresent()
			return p.drainSUP(gctx, sf)
		})
	default:
		lf := &lockedFeeder{f: feeder.NewMpegTSFeeder(p.cfg.Feeder), log: p.log}
		dmx := demux.NewDemuxer(p.input, demux.Options{PID: p.cfg.PID, Log: p.log})
		f = lf
		g.Go(func() error {
			return dmx.Run(gctx)
		})
		g.Go(func() error {
			defer stopPresent()
			return p.feedTS(gctx, dmx, lf)
		})
	}

	ctl := controller.New(f, &presenter{p: p}, p.log)
	g.Go(func() error {
		err := ctl.Run(present, p.clock, p.cfg.Tick)
		if gctx.Err() == nil {
			// The stream drained: one last tick shows the final subtitle.
			if _, terr := ctl.Tick(p.clock.Now()); terr != nil {
				return terr
			}
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := g.Wait()
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// feedTS moves demuxed records into the live feeder, then waits for the
// clock to pass the last presentation time.
func (p *Pipeline) feedTS(ctx context.Context, dmx *demux.Demuxer, lf *lockedFeeder) error {
	last := time.Duration(math.MinInt64)
	for rec := range dmx.Records() {
		p.records.Add(1)
		p.clock.anchor(segment.Ticks(rec.DTS, segment.Timescale))
		if err := lf.feed(rec); err != nil {
			p.log.Debug("record dropped", "pid", rec.PID, "pts", rec.PTS, "error", err)
		}
		if t := segment.Ticks(rec.PTS, segment.Timescale); t > last {
			last = t
		}
	}
	st := dmx.Stats()
	p.log.Info("transport stream ended", "packets", st.Packets, "records", st.Records,
		"cc_errors", st.ContinuityErrors)
	return p.waitFor(ctx, last)
}

func (p *Pipeline) drainSUP(ctx context.Context, sf *feeder.StreamFeeder) error {
	select {
	case <-sf.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	p.records.Store(int64(sf.Len()))
	if err := sf.Err(); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("SUP stream ended with error", "error", err)
	}
	last := time.Duration(math.MinInt64)
	if pt := sf.Content(time.Duration(math.MaxInt64)); pt != nil {
		last = pt.Time()
	}
	return p.waitFor(ctx, last)
}

// waitFor blocks until the stream clock has passed last by one tick.
func (p *Pipeline) waitFor(ctx context.Context, last time.Duration) error {
	if last == time.Duration(math.MinInt64) {
		return nil
	}
	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()
	for p.clock.Now() < last+p.cfg.Tick {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// presenter renders onto the pipeline's surface and forwards each frame to
// the sink.
type presenter struct {
	p *Pipeline
}

func (r *presenter) Render(pt *acquisition.Point) error {
	p := r.p
	if err := p.surface.Render(pt); err != nil {
		return err
	}
	p.presented.Add(1)
	p.lastPTS.Store(pt.PTS)
	p.log.Info("subtitle", "pts", pt.PTS, "at", pt.Time(), "objects", len(pt.Objects), "clear", pt.Empty())
	if p.cfg.Sink == nil {
		return nil
	}
	return p.cfg.Sink.Present(p.cfg.Key, pt, p.surface.Snapshot())
}

func (r *presenter) Clear() { r.p.surface.Clear() }

// lockedFeeder serializes Feed against the controller's Content and Seek.
type lockedFeeder struct {
	mu  sync.Mutex
	f   *feeder.MpegTSFeeder
	log *slog.Logger
}

func (l *lockedFeeder) feed(rec demux.Record) error {
	segs, err := segment.ReadAll(rec.Segments(), l.log)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range segs {
		l.f.Push(s)
	}
	return err
}

func (l *lockedFeeder) Content(at time.Duration) *acquisition.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Content(at)
}

func (l *lockedFeeder) Seek() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f.Seek()
}

// streamClock maps wall time onto stream time. It is anchored at the first
// decode time seen, minus delay; before that it reports zero.
type streamClock struct {
	delay time.Duration
	probe func() (time.Duration, bool)

	mu       sync.Mutex
	anchored bool
	base     time.Duration
	wall     time.Time
}

func (c *streamClock) anchor(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchorLocked(t)
}

func (c *streamClock) anchorLocked(t time.Duration) {
	if c.anchored {
		return
	}
	c.anchored = true
	c.base = t - c.delay
	c.wall = time.Now()
}

// Now implements controller.Clock.
func (c *streamClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.anchored && c.probe != nil {
		if t, ok := c.probe(); ok {
			c.anchorLocked(t)
		}
	}
	if !c.anchored {
		return 0
	}
	return c.base + time.Since(c.wall)
}
