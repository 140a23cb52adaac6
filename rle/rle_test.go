package rle

import (
	"errors"
	"image/color"
	"testing"

	"github.com/zsiec/pgs/segment"
)

var testPDS = &segment.PDS{Entries: []segment.PaletteEntry{
	{ID: 0, Y: 16, Cb: 128, Cr: 128, Alpha: 0},
	{ID: 1, Y: 200, Cb: 128, Cr: 128, Alpha: 255},
	{ID: 5, Y: 100, Cb: 128, Cr: 128, Alpha: 128},
}}

func object(w, h uint16, data ...[]byte) []*segment.ODS {
	var frags []*segment.ODS
	for i, d := range data {
		f := &segment.ODS{ObjectID: 1, Data: d}
		switch {
		case len(data) == 1:
			f.Sequence = segment.SequenceFirstAndLast
		case i == 0:
			f.Sequence = segment.SequenceFirst
		case i == len(data)-1:
			f.Sequence = segment.SequenceLast
		default:
			f.Sequence = segment.SequenceIntermediate
		}
		if f.Sequence.IsFirst() {
			f.Width, f.Height = w, h
		}
		frags = append(frags, f)
	}
	return frags
}

// alphas returns the alpha channel of every pixel in raster order.
func alphas(t *testing.T, w, h uint16, data ...[]byte) []uint8 {
	t.Helper()
	img, err := Decode(testPDS, object(w, h, data...))
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint8, 0, len(img.Pix)/4)
	for i := 3; i < len(img.Pix); i += 4 {
		out = append(out, img.Pix[i])
	}
	return out
}

func equal(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDecode_Runs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		w, h uint16
		data []byte
		want []uint8
	}{
		{"single pixels", 3, 1, []byte{0x01, 0x05, 0x01}, []uint8{255, 128, 255}},
		{"end of line advances nothing", 2, 1, []byte{0x00, 0x00, 0x01}, []uint8{255, 0}},
		{"short colored run", 4, 1, []byte{0x00, 0x83, 0x05, 0x01}, []uint8{128, 128, 128, 255}},
		{"extended length with no color", 4, 1, []byte{0x00, 0x43, 0x05}, []uint8{0, 0, 0, 0}},
		{"short transparent run", 3, 1, []byte{0x00, 0x02, 0x01}, []uint8{0, 0, 255}},
		{"extended transparent run", 3, 1, []byte{0x00, 0x40, 0x02, 0x01}, []uint8{0, 0, 255}},
		{"extended colored run", 3, 1, []byte{0x00, 0xC0, 0x03, 0x01}, []uint8{255, 255, 255}},
		{"rows", 2, 2, []byte{0x01, 0x01, 0x00, 0x00, 0x05, 0x05, 0x00, 0x00}, []uint8{255, 255, 128, 128}},
		{"missing entry leaves gap", 3, 1, []byte{0x00, 0x82, 0x09, 0x01}, []uint8{0, 0, 255}},
		{"run past raster is clipped", 2, 1, []byte{0x00, 0x84, 0x01}, []uint8{255, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := alphas(t, tt.w, tt.h, tt.data)
			if !equal(got, tt.want) {
				t.Errorf("alphas = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_ExtendedLength(t *testing.T) {
	t.Parallel()
	// 0x41 0x2C is (1<<8)|0x2C = 300 pixels of entry 1.
	img, err := Decode(testPDS, object(300, 1, []byte{0x00, 0xC1, 0x2C, 0x01}))
	if err != nil {
		t.Fatal(err)
	}
	if got := img.NRGBAAt(299, 0); got.A != 255 {
		t.Errorf("last pixel = %+v, want opaque", got)
	}
}

func TestDecode_Fragments(t *testing.T) {
	t.Parallel()
	// The colored run's index byte lives in the second fragment.
	got := alphas(t, 3, 1, []byte{0x01, 0x00, 0x82}, []byte{0x05})
	if want := []uint8{255, 128, 128}; !equal(got, want) {
		t.Errorf("alphas = %v, want %v", got, want)
	}
	got = alphas(t, 3, 1, []byte{0x01}, []byte{0x01}, []byte{0x05})
	if want := []uint8{255, 255, 128}; !equal(got, want) {
		t.Errorf("three fragments: alphas = %v, want %v", got, want)
	}
}

func TestDecode_Color(t *testing.T) {
	t.Parallel()
	pds := &segment.PDS{Entries: []segment.PaletteEntry{{ID: 7, Y: 81, Cb: 90, Cr: 240, Alpha: 200}}}
	img, err := Decode(pds, object(1, 1, []byte{0x07}))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b := YCbCrToRGB(81, 90, 240)
	want := color.NRGBA{R: r, G: g, B: b, A: 200}
	if got := img.NRGBAAt(0, 0); got != want {
		t.Errorf("pixel = %+v, want %+v", got, want)
	}
}

func TestDecode_Truncated(t *testing.T) {
	t.Parallel()
	img, err := Decode(testPDS, object(4, 1, []byte{0x01, 0x00, 0xC0}))
	if !errors.Is(err, segment.ErrBufferUnderrun) {
		t.Fatalf("err = %v, want ErrBufferUnderrun", err)
	}
	if img == nil || img.NRGBAAt(0, 0).A != 255 {
		t.Error("partial raster should keep the pixels decoded before the failure")
	}
}

func TestDecode_NoFirstFragment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frags []*segment.ODS
	}{
		{"none", nil},
		{"starts at last", []*segment.ODS{{Sequence: segment.SequenceLast, Data: []byte{0x01}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(testPDS, tt.frags)
			if !errors.Is(err, ErrNoFirstFragment) || !errors.Is(err, segment.ErrStructural) {
				t.Errorf("err = %v, want ErrNoFirstFragment", err)
			}
		})
	}
}

func TestYCbCrToRGB(t *testing.T) {
	t.Parallel()
	tests := []struct {
		y, cb, cr uint8
		r, g, b   uint8
	}{
		{128, 128, 128, 128, 128, 128},
		{235, 128, 128, 235, 235, 235},
		{0, 128, 128, 0, 0, 0},
		{255, 255, 255, 255, 123, 255}, // R and B clamp
		{0, 0, 0, 0, 132, 0},          // R and B clamp low
		{100, 128, 200, 198, 49, 100},
	}
	for _, tt := range tests {
		r, g, b := YCbCrToRGB(tt.y, tt.cb, tt.cr)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("YCbCrToRGB(%d,%d,%d) = %d,%d,%d; want %d,%d,%d", tt.y, tt.cb, tt.cr, r, g, b, tt.r, tt.g, tt.b)
		}
	}
}

func TestPalette_Lookup(t *testing.T) {
	t.Parallel()
	p := NewPalette(testPDS)
	if _, ok := p.Lookup(5); !ok {
		t.Error("entry 5 should be present")
	}
	if _, ok := p.Lookup(2); ok {
		t.Error("entry 2 should be absent")
	}
	if _, ok := NewPalette(nil).Lookup(0); ok {
		t.Error("nil palette should be empty")
	}
}

func TestDecode_SparsePaletteByID(t *testing.T) {
	t.Parallel()
	// Entries out of ID order with gaps: code 9 sits at position 0 and code 1
	// is undefined.
	pds := &segment.PDS{Entries: []segment.PaletteEntry{
		{ID: 9, Y: 235, Cb: 128, Cr: 128, Alpha: 200},
		{ID: 3, Y: 16, Cb: 128, Cr: 128, Alpha: 50},
	}}
	img, err := Decode(pds, object(4, 1, []byte{0x09, 0x03, 0x01, 0x01}))
	if err != nil {
		t.Fatal(err)
	}
	want := []color.NRGBA{
		{R: 235, G: 235, B: 235, A: 200},
		{R: 16, G: 16, B: 16, A: 50},
		{},
		{},
	}
	for x, w := range want {
		if got := img.NRGBAAt(x, 0); got != w {
			t.Errorf("pixel %d = %v, want %v", x, got, w)
		}
	}
}
