package segment

import (
	"fmt"

	"github.com/zsiec/pgs/cursor"
)

// Decode reads one segment: a type byte, a 16-bit length and exactly length
// bytes of payload. The payload is decoded from a bounded sub-reader, so a
// payload decoder can never consume bytes of the following segment.
func Decode(r *cursor.Reader) (Segment, error) {
	typ, err := r.ReadU8()
	if err != nil {
		return Segment{}, fmt.Errorf("segment: type: %w", err)
	}
	length, err := r.ReadU16()
	if err != nil {
		return Segment{}, fmt.Errorf("segment: length: %w", err)
	}
	body, err := r.Sub(int(length))
	if err != nil {
		return Segment{}, fmt.Errorf("segment: %s payload: %w", Type(typ), err)
	}
	return decodePayload(Type(typ), body)
}

func decodePayload(t Type, body *cursor.Reader) (Segment, error) {
	seg := Segment{Type: t}
	var err error
	switch t {
	case TypePCS:
		seg.PCS, err = decodePCS(body)
	case TypePDS:
		seg.PDS, err = decodePDS(body)
	case TypeWDS:
		seg.WDS, err = decodeWDS(body)
	case TypeODS:
		seg.ODS, err = decodeODS(body)
	case TypeEND:
	default:
		return Segment{}, fmt.Errorf("segment: %w 0x%02X", ErrUnrecognizedType, uint8(t))
	}
	if err != nil {
		return Segment{}, fmt.Errorf("segment: %s: %w", t, err)
	}
	return seg, nil
}

func decodePCS(r *cursor.Reader) (*PCS, error) {
	var (
		p   PCS
		err error
	)
	if p.Width, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if p.Height, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if p.FrameRate, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if p.CompositionNumber, err = r.ReadU16(); err != nil {
		return nil, err
	}
	state, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	p.CompositionState = CompositionState(state)
	switch p.CompositionState {
	case StateNormal, StateAcquisitionPoint, StateEpochStart:
	default:
		return nil, fmt.Errorf("%w 0x%02X", ErrInvalidCompositionState, state)
	}
	update, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	p.PaletteUpdate = update == 0x80
	if p.PaletteID, err = r.ReadU8(); err != nil {
		return nil, err
	}
	count, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	p.Objects = make([]CompositionObject, 0, count)
	for i := 0; i < int(count); i++ {
		obj, err := decodeCompositionObject(r)
		if err != nil {
			return nil, fmt.Errorf("composition object %d: %w", i, err)
		}
		p.Objects = append(p.Objects, obj)
	}
	return &p, nil
}

func decodeCompositionObject(r *cursor.Reader) (CompositionObject, error) {
	var (
		o   CompositionObject
		err error
	)
	if o.ObjectID, err = r.ReadU16(); err != nil {
		return o, err
	}
	if o.WindowID, err = r.ReadU8(); err != nil {
		return o, err
	}
	cropped, err := r.ReadU8()
	if err != nil {
		return o, err
	}
	o.Cropped = cropped != 0x00
	if o.X, err = r.ReadU16(); err != nil {
		return o, err
	}
	if o.Y, err = r.ReadU16(); err != nil {
		return o, err
	}
	if !o.Cropped {
		return o, nil
	}
	o.Crop, err = decodeRect(r)
	return o, err
}

func decodeRect(r *cursor.Reader) (Rect, error) {
	var (
		rc  Rect
		err error
	)
	if rc.X, err = r.ReadU16(); err != nil {
		return rc, err
	}
	if rc.Y, err = r.ReadU16(); err != nil {
		return rc, err
	}
	if rc.Width, err = r.ReadU16(); err != nil {
		return rc, err
	}
	rc.Height, err = r.ReadU16()
	return rc, err
}

func decodeWDS(r *cursor.Reader) (*WDS, error) {
	count, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	w := &WDS{Windows: make([]WindowDefinition, 0, count)}
	for i := 0; i < int(count); i++ {
		var wd WindowDefinition
		if wd.ID, err = r.ReadU8(); err != nil {
			return nil, err
		}
		rc, err := decodeRect(r)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		wd.X, wd.Y, wd.Width, wd.Height = rc.X, rc.Y, rc.Width, rc.Height
		w.Windows = append(w.Windows, wd)
	}
	return w, nil
}

// paletteEntrySize is id, Y, Cr, Cb, alpha.
const paletteEntrySize = 5

func decodePDS(r *cursor.Reader) (*PDS, error) {
	var (
		p   PDS
		err error
	)
	if p.ID, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if p.Version, err = r.ReadU8(); err != nil {
		return nil, err
	}
	p.Entries = make([]PaletteEntry, 0, r.Len()/paletteEntrySize)
	for !r.IsEmpty() {
		b, err := r.ReadBytes(paletteEntrySize)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d: %w", len(p.Entries), err)
		}
		// Wire order puts Cr ahead of Cb.
		p.Entries = append(p.Entries, PaletteEntry{ID: b[0], Y: b[1], Cr: b[2], Cb: b[3], Alpha: b[4]})
	}
	return &p, nil
}

func decodeODS(r *cursor.Reader) (*ODS, error) {
	var (
		o   ODS
		err error
	)
	if o.ObjectID, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if o.Version, err = r.ReadU8(); err != nil {
		return nil, err
	}
	flag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	o.Sequence = SequenceFlag(flag)
	switch o.Sequence {
	case SequenceFirst, SequenceFirstAndLast:
		if o.DataLength, err = r.ReadU24(); err != nil {
			return nil, err
		}
		if o.Width, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if o.Height, err = r.ReadU16(); err != nil {
			return nil, err
		}
	case SequenceLast, SequenceIntermediate:
	default:
		return nil, fmt.Errorf("%w 0x%02X", ErrInvalidSequenceFlag, flag)
	}
	o.Data = r.ReadRemaining()
	return &o, nil
}
