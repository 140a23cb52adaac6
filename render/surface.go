package render

import (
	"errors"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/zsiec/pgs/acquisition"
)

// ErrDestroyed is returned by Render after Destroy.
var ErrDestroyed = errors.New("render: surface destroyed")

// SurfaceConfig configures a Surface.
type SurfaceConfig struct {
	Width  int
	Height int
	Fit    Fit
	// Scaler resamples the composed frame. Nil means draw.ApproxBiLinear.
	Scaler draw.Scaler
}

// Surface is an output raster that frames are painted onto. It is safe for
// concurrent use.
type Surface struct {
	mu        sync.Mutex
	fit       Fit
	scaler    draw.Scaler
	img       *image.NRGBA
	destroyed bool
	rendered  int
}

// NewSurface returns a transparent surface.
func NewSurface(cfg SurfaceConfig) *Surface {
	scaler := cfg.Scaler
	if scaler == nil {
		scaler = draw.ApproxBiLinear
	}
	fit := cfg.Fit
	if fit == "" {
		fit = Fill
	}
	return &Surface{
		fit:    fit,
		scaler: scaler,
		img:    image.NewNRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
	}
}

// Render replaces the surface contents with p, scaled per the fit policy.
// An empty point just clears the surface.
func (s *Surface) Render(p *acquisition.Point) error {
	var frame *image.NRGBA
	if !p.Empty() {
		frame = Compose(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	clear(s.img.Pix)
	s.rendered++
	if frame == nil {
		return nil
	}

	fb := frame.Bounds()
	dr := Place(s.fit, fb.Size(), s.img.Bounds().Size())
	if dr.Empty() {
		return nil
	}
	if dr.Size() == fb.Size() {
		draw.Copy(s.img, dr.Min, frame, fb, draw.Src, nil)
		return nil
	}
	s.scaler.Scale(s.img, dr, frame, fb, draw.Src, nil)
	return nil
}

// Clear makes the surface fully transparent.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.img.Pix)
}

// Resize replaces the surface with a transparent one of the new size.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = image.NewNRGBA(image.Rect(0, 0, width, height))
}

// Destroy releases the raster. Later renders fail with ErrDestroyed.
func (s *Surface) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.img = image.NewNRGBA(image.Rectangle{})
}

// Snapshot returns a copy of the current contents.
func (s *Surface) Snapshot() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewNRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// Size returns the surface dimensions.
func (s *Surface) Size() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.Bounds().Size()
}

// Rendered returns the number of Render calls that reached the raster.
func (s *Surface) Rendered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}
