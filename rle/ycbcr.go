package rle

import (
	"image/color"

	"github.com/zsiec/pgs/segment"
)

// YCbCrToRGB converts a palette entry's luminance and chroma to RGB using
// the PGS coefficients. Channels are clamped to [0,255] and truncated.
func YCbCrToRGB(y, cb, cr uint8) (r, g, b uint8) {
	fy := float64(y)
	fcb := float64(cb) - 128
	fcr := float64(cr) - 128
	return clamp(fy + 1.371*fcr), clamp(fy - 0.336*fcb - 0.698*fcr), clamp(fy + 1.732*fcb)
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Palette is a PDS resolved to non-premultiplied colors, indexed by entry ID.
type Palette struct {
	colors  [256]color.NRGBA
	present [256]bool
}

// NewPalette converts every entry of pds. A nil pds yields an empty palette,
// under which every run is a transparent gap.
func NewPalette(pds *segment.PDS) *Palette {
	p := &Palette{}
	if pds == nil {
		return p
	}
	for _, e := range pds.Entries {
		r, g, b := YCbCrToRGB(e.Y, e.Cb, e.Cr)
		p.colors[e.ID] = color.NRGBA{R: r, G: g, B: b, A: e.Alpha}
		p.present[e.ID] = true
	}
	return p
}

// Lookup returns the color of entry id and whether the palette defines it.
func (p *Palette) Lookup(id uint8) (color.NRGBA, bool) {
	return p.colors[id], p.present[id]
}
