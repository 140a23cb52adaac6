package render

import (
	"fmt"
	"image"
	"math"
)

// Fit is an object-fit policy for placing a frame on a surface.
type Fit string

// Fit policies, named as in CSS object-fit.
const (
	Fill      Fit = "fill"
	Contain   Fit = "contain"
	Cover     Fit = "cover"
	None      Fit = "none"
	ScaleDown Fit = "scale-down"
)

// ParseFit validates s. The empty string means Fill.
func ParseFit(s string) (Fit, error) {
	switch f := Fit(s); f {
	case "":
		return Fill, nil
	case Fill, Contain, Cover, None, ScaleDown:
		return f, nil
	}
	return "", fmt.Errorf("render: unknown object fit %q", s)
}

// Place returns where a frame of size src lands on a surface of size dst.
// The rectangle is centered and may extend past the surface for Cover and
// None.
func Place(fit Fit, src, dst image.Point) image.Rectangle {
	if src.X <= 0 || src.Y <= 0 {
		return image.Rectangle{}
	}
	sx := float64(dst.X) / float64(src.X)
	sy := float64(dst.Y) / float64(src.Y)

	var scale float64
	switch fit {
	case Fill, "":
		return image.Rectangle{Max: dst}
	case Contain:
		scale = math.Min(sx, sy)
	case Cover:
		scale = math.Max(sx, sy)
	case None:
		scale = 1
	case ScaleDown:
		scale = math.Min(1, math.Min(sx, sy))
	default:
		return image.Rectangle{Max: dst}
	}

	w := int(math.Round(float64(src.X) * scale))
	h := int(math.Round(float64(src.Y) * scale))
	x := (dst.X - w) / 2
	y := (dst.Y - h) / 2
	return image.Rect(x, y, x+w, y+h)
}
