// Package controller drives a renderer from a feeder: on every tick it asks
// the feeder for the subtitle showing at the clock's current time and paints
// it when it changed.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/feeder"
)

// Clock reports the current playback time.
type Clock interface {
	Now() time.Duration
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Duration

// Now implements Clock.
func (f ClockFunc) Now() time.Duration { return f() }

// WallClock is a Clock that advances with real time from its start.
type WallClock struct {
	start time.Time
}

// NewWallClock returns a WallClock starting at zero now.
func NewWallClock() *WallClock { return &WallClock{start: time.Now()} }

// Now implements Clock.
func (c *WallClock) Now() time.Duration { return time.Since(c.start) }

// Renderer paints points. render.Surface implements it.
type Renderer interface {
	Render(p *acquisition.Point) error
	Clear()
}

// Controller connects one feeder to one renderer. It is safe for concurrent
// use; calls into the feeder are serialized.
type Controller struct {
	log *slog.Logger

	mu       sync.Mutex
	feeder   feeder.Feeder
	renderer Renderer
	last     *acquisition.Point
	showing  bool
}

// New returns a showing Controller. Either side may be attached later.
func New(f feeder.Feeder, r Renderer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:      log.With("component", "controller"),
		feeder:   f,
		renderer: r,
		showing:  true,
	}
}

// AttachFeeder switches to f and clears the renderer.
func (c *Controller) AttachFeeder(f feeder.Feeder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeder = f
	c.clearLocked()
}

// DetachFeeder drops the feeder and clears the renderer.
func (c *Controller) DetachFeeder() {
	c.AttachFeeder(nil)
}

// Tick looks up the subtitle at time at and renders it if it differs from
// the last one rendered. It reports whether a render happened.
func (c *Controller) Tick(at time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.showing || c.feeder == nil || c.renderer == nil {
		return false, nil
	}
	p := c.feeder.Content(at)
	if p == nil {
		return false, nil
	}
	if c.last != nil && c.last.PTS == p.PTS {
		return false, nil
	}
	if err := c.renderer.Render(p); err != nil {
		return false, err
	}
	c.last = p
	c.log.Debug("rendered subtitle", "pts", p.PTS, "at", at, "empty", p.Empty())
	return true, nil
}

// Seek forwards a seek to the feeder and clears the renderer.
func (c *Controller) Seek() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feeder != nil {
		c.feeder.Seek()
	}
	c.clearLocked()
}

// Show resumes rendering on the next tick.
func (c *Controller) Show() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showing = true
}

// Hide stops rendering and clears the renderer.
func (c *Controller) Hide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showing = false
	c.clearLocked()
}

// Showing reports whether the controller renders on tick.
func (c *Controller) Showing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showing
}

func (c *Controller) clearLocked() {
	if c.renderer != nil {
		c.renderer.Clear()
	}
	c.last = nil
}

// Run ticks every interval with the clock's time until ctx is done. Render
// errors are logged and do not stop the loop.
func (c *Controller) Run(ctx context.Context, clock Clock, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := c.Tick(clock.Now()); err != nil {
			c.log.Warn("render failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
