// Package render paints acquisition points into RGBA images: Compose builds
// the full-canvas subtitle frame, Surface scales it onto an output of any
// size with an object-fit policy.
package render

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/rle"
)

// Compose paints p onto a transparent canvas the size of its composition.
// Each composition object is clipped to its window; a cropped object shows
// its crop rectangle with the rectangle's origin at the object position.
// Objects whose window or raster is missing are skipped. Raw objects are
// decoded on the fly.
func Compose(p *acquisition.Point) *image.NRGBA {
	canvas := image.NewNRGBA(image.Rect(0, 0, int(p.Composition.Width), int(p.Composition.Height)))
	ComposeInto(canvas, p)
	return canvas
}

// ComposeInto paints p onto canvas without clearing it first.
func ComposeInto(canvas draw.Image, p *acquisition.Point) {
	var palette *rle.Palette
	for _, co := range p.Composition.Objects {
		obj, ok := p.Objects[co.ObjectID]
		if !ok {
			continue
		}
		win, ok := p.Windows[co.WindowID]
		if !ok {
			continue
		}
		img := obj.Image
		if img == nil {
			if palette == nil {
				palette = rle.NewPalette(p.Palette)
			}
			// A partially decoded raster is still worth showing.
			img, _ = rle.DecodeWith(palette, obj.Fragments)
			if img == nil {
				continue
			}
		}

		src := img.Bounds()
		if co.Cropped {
			src = image.Rect(int(co.Crop.X), int(co.Crop.Y),
				int(co.Crop.X)+int(co.Crop.Width), int(co.Crop.Y)+int(co.Crop.Height)).Intersect(src)
		}
		at := image.Pt(int(co.X), int(co.Y))
		dst := src.Sub(src.Min).Add(at)

		clip := image.Rect(int(win.X), int(win.Y), int(win.X)+int(win.Width), int(win.Y)+int(win.Height))
		visible := dst.Intersect(clip).Intersect(canvas.Bounds())
		if visible.Empty() {
			continue
		}
		sp := src.Min.Add(visible.Min.Sub(dst.Min))
		draw.Draw(canvas, visible, img, sp, draw.Over)
	}
}
