// Package segment decodes Presentation Graphic Stream (PGS) segments and the
// SUP and MPEG-TS record framings that carry them.
//
// A [Segment] is a tagged union: Type selects which one of PCS, PDS, WDS or
// ODS is non-nil (END carries no payload). [Timestamped] attaches the
// presentation and decode timestamps of the record the segment came from.
package segment

import (
	"fmt"
	"time"
)

// Timescale is the PGS clock rate in ticks per second.
const Timescale = 90000

// Type is the one-byte segment discriminant read from the wire.
type Type uint8

// Segment types.
const (
	TypePDS Type = 0x14
	TypeODS Type = 0x15
	TypePCS Type = 0x16
	TypeWDS Type = 0x17
	TypeEND Type = 0x80
)

func (t Type) String() string {
	switch t {
	case TypePDS:
		return "PDS"
	case TypeODS:
		return "ODS"
	case TypePCS:
		return "PCS"
	case TypeWDS:
		return "WDS"
	case TypeEND:
		return "END"
	}
	return fmt.Sprintf("Type(0x%02X)", uint8(t))
}

// CompositionState classifies a presentation composition within its epoch.
type CompositionState uint8

// Composition states.
const (
	StateNormal           CompositionState = 0x00
	StateAcquisitionPoint CompositionState = 0x40
	StateEpochStart       CompositionState = 0x80
)

func (s CompositionState) String() string {
	switch s {
	case StateNormal:
		return "Normal"
	case StateAcquisitionPoint:
		return "AcquisitionPoint"
	case StateEpochStart:
		return "EpochStart"
	}
	return fmt.Sprintf("CompositionState(0x%02X)", uint8(s))
}

// IsDefining reports whether the state starts a new epoch baseline.
func (s CompositionState) IsDefining() bool {
	return s == StateEpochStart || s == StateAcquisitionPoint
}

// SequenceFlag marks an ODS fragment's position within its object.
type SequenceFlag uint8

// Sequence flags.
const (
	SequenceIntermediate SequenceFlag = 0x00
	SequenceLast         SequenceFlag = 0x40
	SequenceFirst        SequenceFlag = 0x80
	SequenceFirstAndLast SequenceFlag = 0xC0
)

func (f SequenceFlag) String() string {
	switch f {
	case SequenceIntermediate:
		return "Intermediate"
	case SequenceLast:
		return "Last"
	case SequenceFirst:
		return "First"
	case SequenceFirstAndLast:
		return "FirstAndLast"
	}
	return fmt.Sprintf("SequenceFlag(0x%02X)", uint8(f))
}

// IsFirst reports whether the fragment carries the object's dimensions.
func (f SequenceFlag) IsFirst() bool {
	return f == SequenceFirst || f == SequenceFirstAndLast
}

// Rect is a rectangle in canvas or object coordinates.
type Rect struct {
	X      uint16 `json:"x"`
	Y      uint16 `json:"y"`
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
}

// CompositionObject places one object inside one window. Crop is only
// meaningful when Cropped is set.
type CompositionObject struct {
	ObjectID uint16 `json:"objectId"`
	WindowID uint8  `json:"windowId"`
	Cropped  bool   `json:"cropped"`
	X        uint16 `json:"x"`
	Y        uint16 `json:"y"`
	Crop     Rect   `json:"crop,omitempty"`
}

// PCS is a Presentation Composition Segment.
type PCS struct {
	Width             uint16              `json:"width"`
	Height            uint16              `json:"height"`
	FrameRate         uint8               `json:"frameRate"`
	CompositionNumber uint16              `json:"compositionNumber"`
	CompositionState  CompositionState    `json:"compositionState"`
	PaletteUpdate     bool                `json:"paletteUpdate"`
	PaletteID         uint8               `json:"paletteId"`
	Objects           []CompositionObject `json:"objects"`
}

// WindowDefinition is one rectangular drawing area.
type WindowDefinition struct {
	ID     uint8  `json:"id"`
	X      uint16 `json:"x"`
	Y      uint16 `json:"y"`
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
}

// WDS is a Window Definition Segment.
type WDS struct {
	Windows []WindowDefinition `json:"windows"`
}

// PaletteEntry is one YCbCr+alpha palette slot.
type PaletteEntry struct {
	ID    uint8 `json:"id"`
	Y     uint8 `json:"y"`
	Cb    uint8 `json:"cb"`
	Cr    uint8 `json:"cr"`
	Alpha uint8 `json:"alpha"`
}

// PDS is a Palette Definition Segment.
type PDS struct {
	ID      uint8          `json:"id"`
	Version uint8          `json:"version"`
	Entries []PaletteEntry `json:"entries"`
}

// ODS is one Object Definition Segment fragment. DataLength, Width and Height
// are only present on fragments whose Sequence IsFirst.
type ODS struct {
	ObjectID   uint16       `json:"objectId"`
	Version    uint8        `json:"version"`
	Sequence   SequenceFlag `json:"sequence"`
	DataLength uint32       `json:"dataLength,omitempty"`
	Width      uint16       `json:"width,omitempty"`
	Height     uint16       `json:"height,omitempty"`
	Data       []byte       `json:"-"`
}

// Segment is the decoded form of one segment. Exactly one of PCS, PDS, WDS or
// ODS is non-nil, matching Type; all are nil for TypeEND.
type Segment struct {
	Type Type
	PCS  *PCS
	PDS  *PDS
	WDS  *WDS
	ODS  *ODS
}

// Timestamped is a Segment with the timestamps of its enclosing record.
type Timestamped struct {
	Segment
	PTS       int64
	DTS       int64
	Timescale int64
}

// PresentationTime returns PTS as a duration.
func (t Timestamped) PresentationTime() time.Duration {
	return Ticks(t.PTS, t.Timescale)
}

// DecodeTime returns DTS as a duration.
func (t Timestamped) DecodeTime() time.Duration {
	return Ticks(t.DTS, t.Timescale)
}

// Ticks converts a tick count at the given timescale to a duration.
// A non-positive timescale is treated as the 90 kHz PGS clock.
func Ticks(ticks, timescale int64) time.Duration {
	if timescale <= 0 {
		timescale = Timescale
	}
	sec := ticks / timescale
	rem := ticks % timescale
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(timescale)
}
