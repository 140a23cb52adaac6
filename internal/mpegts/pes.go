package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errNotPES = errors.New("mpegts: missing PES start code")

func hasStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == 0x00 && b[1] == 0x00 && b[2] == 0x01
}

// noOptionalHeader lists stream IDs whose PES packets carry no optional
// header: program_stream_map, padding, private_stream_2, ECM, EMM,
// directory, DSMCC and H.222.1 type E.
func noOptionalHeader(id uint8) bool {
	switch id {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return true
	}
	return false
}

// pesLength returns the total byte length a PES packet declares, or 0 when
// it is unbounded or the header is not yet complete.
func pesLength(b []byte) int {
	if len(b) < 6 {
		return 0
	}
	n := int(binary.BigEndian.Uint16(b[4:]))
	if n == 0 {
		return 0
	}
	return 6 + n
}

// parsePES decodes a reassembled PES packet. Data aliases b.
func parsePES(b []byte) (*PES, error) {
	if !hasStartCode(b) {
		return nil, errNotPES
	}
	if len(b) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet is %d bytes", len(b))
	}
	p := &PES{StreamID: b[3]}
	if n := pesLength(b); n > 0 && n < len(b) {
		b = b[:n]
	}
	if noOptionalHeader(p.StreamID) {
		p.Data = b[6:]
		return p, nil
	}
	if len(b) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header truncated")
	}
	flags := b[7] >> 6
	start := 9 + int(b[8])
	if start > len(b) {
		return nil, fmt.Errorf("mpegts: PES header length %d past packet end", b[8])
	}
	opt := b[9:start]
	if flags&0x2 != 0 && len(opt) >= 5 {
		p.PTS, p.HasPTS = timestamp(opt), true
		if flags == 0x3 && len(opt) >= 10 {
			p.DTS, p.HasDTS = timestamp(opt[5:]), true
		}
	}
	p.Data = b[start:]
	return p, nil
}

// timestamp decodes a 33-bit PTS or DTS from its 5-byte marker form.
func timestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
