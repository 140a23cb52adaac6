// Package mpegts reads MPEG transport streams far enough to hand elementary
// stream PES packets, with their timestamps, to a payload decoder. It
// discovers streams from the PAT and PMT, reassembles PES packets per PID
// with continuity checks, and handles both 188-byte TS and 192-byte BDAV
// (Blu-ray .m2ts) packets.
package mpegts

import "fmt"

// Stream types found in PMTs of the media this package is used with.
const (
	StreamTypeMPEG2Video = 0x02
	StreamTypeAAC        = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
	StreamTypeAC3        = 0x81
	StreamTypePGS        = 0x90 // Blu-ray Presentation Graphic Stream
	StreamTypeIGS        = 0x91 // Blu-ray Interactive Graphic Stream
	StreamTypeTextST     = 0x92 // Blu-ray text subtitles
)

// StreamTypeName returns a short human-readable name for a PMT stream type.
func StreamTypeName(t uint8) string {
	switch t {
	case StreamTypeMPEG2Video:
		return "mpeg2video"
	case StreamTypeAAC:
		return "aac"
	case StreamTypeH264:
		return "h264"
	case StreamTypeH265:
		return "h265"
	case StreamTypeAC3:
		return "ac3"
	case StreamTypePGS:
		return "pgs"
	case StreamTypeIGS:
		return "igs"
	case StreamTypeTextST:
		return "textst"
	}
	return fmt.Sprintf("0x%02X", t)
}

// Packet is one transport stream packet with its header decoded.
type Packet struct {
	PID           uint16
	CC            uint8
	Start         bool // payload_unit_start_indicator
	TransportErr  bool
	Discontinuity bool
	HasPayload    bool
	Payload       []byte
}

// Program is one PAT entry.
type Program struct {
	Number uint16
	PMTPID uint16
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// PMT is a decoded program map.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// PES is one reassembled elementary stream packet. PTS and DTS are 90 kHz
// ticks, valid only when the matching Has flag is set.
type PES struct {
	PID        uint16
	StreamType uint8
	StreamID   uint8
	PTS        int64
	DTS        int64
	HasPTS     bool
	HasDTS     bool
	Data       []byte
}

// DecodeTime returns DTS, or PTS when the packet carries no DTS.
func (p *PES) DecodeTime() int64 {
	if p.HasDTS {
		return p.DTS
	}
	return p.PTS
}

// Unit is one demuxer output. Exactly one of PAT, PMT or PES is set.
type Unit struct {
	PID uint16
	PAT []Program
	PMT *PMT
	PES *PES
}
