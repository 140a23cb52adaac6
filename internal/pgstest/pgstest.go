// Package pgstest builds PGS segment, SUP record and MPEG-TS byte fixtures
// for tests. It depends on nothing else in the module so any
// package's internal tests can import it.
package pgstest

import "encoding/binary"

// Segment type and flag bytes as they appear on the wire.
const (
	TypePDS = 0x14
	TypeODS = 0x15
	TypePCS = 0x16
	TypeWDS = 0x17
	TypeEND = 0x80

	StateNormal           = 0x00
	StateAcquisitionPoint = 0x40
	StateEpochStart       = 0x80

	SeqIntermediate = 0x00
	SeqLast         = 0x40
	SeqFirst        = 0x80
	SeqFirstAndLast = 0xC0
)

// Object is one composition object entry of a PCS.
type Object struct {
	ObjectID                   uint16
	WindowID                   uint8
	X, Y                       uint16
	Cropped                    bool
	CropX, CropY, CropW, CropH uint16
}

// Window is one WDS window entry.
type Window struct {
	ID         uint8
	X, Y, W, H uint16
}

// Entry is one PDS palette entry.
type Entry struct {
	ID, Y, Cb, Cr, Alpha uint8
}

func be16(b []byte, v uint16) []byte { return binary.BigEndian.AppendUint16(b, v) }

// PCS returns a presentation composition payload.
func PCS(width, height, number uint16, state, paletteID uint8, objs ...Object) []byte {
	b := be16(nil, width)
	b = be16(b, height)
	b = append(b, 0x10) // frame rate
	b = be16(b, number)
	b = append(b, state, 0x00, paletteID, byte(len(objs)))
	for _, o := range objs {
		b = be16(b, o.ObjectID)
		b = append(b, o.WindowID)
		if o.Cropped {
			b = append(b, 0x40)
		} else {
			b = append(b, 0x00)
		}
		b = be16(b, o.X)
		b = be16(b, o.Y)
		if o.Cropped {
			b = be16(b, o.CropX)
			b = be16(b, o.CropY)
			b = be16(b, o.CropW)
			b = be16(b, o.CropH)
		}
	}
	return b
}

// PaletteUpdatePCS is PCS with the palette update flag set.
func PaletteUpdatePCS(width, height, number uint16, state, paletteID uint8, objs ...Object) []byte {
	b := PCS(width, height, number, state, paletteID, objs...)
	b[8] = 0x80
	return b
}

// PDS returns a palette definition payload. Entries are written in wire
// order: id, Y, Cr, Cb, alpha.
func PDS(id, version uint8, entries ...Entry) []byte {
	b := []byte{id, version}
	for _, e := range entries {
		b = append(b, e.ID, e.Y, e.Cr, e.Cb, e.Alpha)
	}
	return b
}

// WDS returns a window definition payload.
func WDS(windows ...Window) []byte {
	b := []byte{byte(len(windows))}
	for _, w := range windows {
		b = append(b, w.ID)
		b = be16(b, w.X)
		b = be16(b, w.Y)
		b = be16(b, w.W)
		b = be16(b, w.H)
	}
	return b
}

// ODS returns an object definition payload. Width and height are only
// written for first fragments.
func ODS(id uint16, version, seq uint8, width, height uint16, data []byte) []byte {
	b := be16(nil, id)
	b = append(b, version, seq)
	if seq == SeqFirst || seq == SeqFirstAndLast {
		n := len(data) + 4
		b = append(b, byte(n>>16), byte(n>>8), byte(n))
		b = be16(b, width)
		b = be16(b, height)
	}
	return append(b, data...)
}

// Segment frames a payload as type, 16-bit length, payload.
func Segment(typ uint8, payload []byte) []byte {
	b := []byte{typ}
	b = be16(b, uint16(len(payload)))
	return append(b, payload...)
}

// Sup returns one SUP record: magic, pts, dts, segment.
func Sup(pts, dts uint32, typ uint8, payload []byte) []byte {
	b := []byte{0x50, 0x47}
	b = binary.BigEndian.AppendUint32(b, pts)
	b = binary.BigEndian.AppendUint32(b, dts)
	return append(b, Segment(typ, payload)...)
}

// Framed returns magic followed by one segment, the MPEG-TS record layout.
func Framed(typ uint8, payload []byte) []byte {
	return append([]byte{0x50, 0x47}, Segment(typ, payload)...)
}

// Record is one segment of a display set fixture.
type Record struct {
	Type    uint8
	Payload []byte
}

// SupSet returns a SUP display set: every record at pts/dts, followed by
// END.
func SupSet(pts uint32, recs ...Record) []byte {
	var b []byte
	for _, r := range recs {
		b = append(b, Sup(pts, pts, r.Type, r.Payload)...)
	}
	return append(b, Sup(pts, pts, TypeEND, nil)...)
}

// Epoch returns the records of a minimal self-contained display set: one
// window, one 2x1 object of palette entry 1, one palette.
func Epoch(state uint8, objectID uint16) []Record {
	return []Record{
		{TypePCS, PCS(1920, 1080, 0, state, 0, Object{ObjectID: objectID, WindowID: 0, X: 10, Y: 20})},
		{TypeWDS, WDS(Window{ID: 0, X: 10, Y: 20, W: 100, H: 50})},
		{TypePDS, PDS(0, 0, Entry{ID: 1, Y: 235, Cb: 128, Cr: 128, Alpha: 255})},
		{TypeODS, ODS(objectID, 0, SeqFirstAndLast, 2, 1, []byte{0x01, 0x01, 0x00, 0x00})},
	}
}

// Clear returns the records of an end-of-epoch display set: a PCS with no
// composition objects.
func Clear(state uint8) []Record {
	return []Record{{TypePCS, PCS(1920, 1080, 1, state, 0)}}
}
