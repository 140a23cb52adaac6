// Package rle decodes PGS run-length encoded object bitmaps into RGBA
// rasters.
//
// Pixel codes name palette entries by their ID byte, not by their position
// in the PDS, so sparse and unordered palettes resolve correctly.
package rle

import (
	"fmt"
	"image"

	"github.com/zsiec/pgs/segment"
)

// ErrNoFirstFragment is returned when an object's fragment list does not
// start with a First or FirstAndLast fragment, so its size is unknown.
var ErrNoFirstFragment = fmt.Errorf("%w: object has no first fragment", segment.ErrStructural)

// Run flag bits of the byte that follows a zero escape.
const (
	flagColor    = 0x80
	flagExtended = 0x40
	lengthMask   = 0x3F
)

// Decode concatenates the fragments of one object and paints its runs with
// the palette of pds. The raster starts fully transparent.
//
// Runs that name an entry missing from the palette, or that extend past the
// raster, leave those pixels untouched but still advance the pixel offset.
// If the data ends inside a run the partially painted raster is returned
// together with segment.ErrBufferUnderrun.
func Decode(pds *segment.PDS, fragments []*segment.ODS) (*image.NRGBA, error) {
	return DecodeWith(NewPalette(pds), fragments)
}

// DecodeWith is Decode with an already resolved palette.
func DecodeWith(p *Palette, fragments []*segment.ODS) (*image.NRGBA, error) {
	if len(fragments) == 0 || !fragments[0].Sequence.IsFirst() {
		return nil, ErrNoFirstFragment
	}
	first := fragments[0]
	img := image.NewNRGBA(image.Rect(0, 0, int(first.Width), int(first.Height)))

	data := first.Data
	if len(fragments) > 1 {
		size := 0
		for _, f := range fragments {
			size += len(f.Data)
		}
		data = make([]byte, 0, size)
		for _, f := range fragments {
			data = append(data, f.Data...)
		}
	}

	d := decoder{img: img, palette: p, total: len(img.Pix) / 4}
	if err := d.run(data); err != nil {
		return img, fmt.Errorf("rle: object %d: %w", first.ObjectID, err)
	}
	return img, nil
}

type decoder struct {
	img     *image.NRGBA
	palette *Palette
	total   int
	offset  int
}

func (d *decoder) run(data []byte) error {
	i := 0
	next := func() (byte, error) {
		if i >= len(data) {
			return 0, fmt.Errorf("%w: run at byte %d", segment.ErrBufferUnderrun, i)
		}
		b := data[i]
		i++
		return b, nil
	}

	for i < len(data) {
		b0 := data[i]
		i++
		if b0 != 0 {
			d.paint(1, b0)
			continue
		}
		b1, err := next()
		if err != nil {
			return err
		}
		if b1 == 0 {
			// End of line. Rows are implied by the raster width.
			continue
		}
		n := int(b1 & lengthMask)
		if b1&flagExtended != 0 {
			lo, err := next()
			if err != nil {
				return err
			}
			n = n<<8 | int(lo)
		}
		var idx byte
		if b1&flagColor != 0 {
			if idx, err = next(); err != nil {
				return err
			}
		}
		d.paint(n, idx)
	}
	return nil
}

func (d *decoder) paint(n int, idx byte) {
	start := d.offset
	d.offset += n
	c, ok := d.palette.Lookup(idx)
	if !ok || start >= d.total {
		return
	}
	end := min(d.offset, d.total)
	pix := d.img.Pix
	for px := start; px < end; px++ {
		o := px * 4
		pix[o+0] = c.R
		pix[o+1] = c.G
		pix[o+2] = c.B
		pix[o+3] = c.A
	}
}
