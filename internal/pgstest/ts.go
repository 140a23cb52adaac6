package pgstest

import "encoding/binary"

// TSPacketSize is the fixed size of an MPEG-TS packet.
const TSPacketSize = 188

// StreamTypePGS is the PMT stream type of a Presentation Graphic Stream.
const StreamTypePGS = 0x90

// Stream is one PMT elementary stream entry.
type Stream struct {
	Type uint8
	PID  uint16
}

// EncodeTimestamp encodes a 33-bit PTS or DTS into 5 bytes with marker bits.
func EncodeTimestamp(prefix byte, v int64) []byte {
	return []byte{
		prefix<<4 | byte((v>>29)&0x0E) | 0x01,
		byte(v >> 22),
		byte((v>>14)&0xFE) | 0x01,
		byte(v >> 7),
		byte((v<<1)&0xFE) | 0x01,
	}
}

// PES builds a private_stream_1 PES packet carrying data. A negative dts
// omits the DTS field.
func PES(pts, dts int64, data []byte) []byte {
	var opt []byte
	indicator := byte(2)
	if dts >= 0 {
		indicator = 3
		opt = append(opt, EncodeTimestamp(0x03, pts)...)
		opt = append(opt, EncodeTimestamp(0x01, dts)...)
	} else {
		opt = append(opt, EncodeTimestamp(0x02, pts)...)
	}
	length := 3 + len(opt) + len(data)
	b := []byte{0x00, 0x00, 0x01, 0xBD, byte(length >> 8), byte(length), 0x80, indicator << 6, byte(len(opt))}
	b = append(b, opt...)
	return append(b, data...)
}

// Packetize splits a PES packet into TS packets on pid, padding the last
// packet with an adaptation field and advancing cc.
func Packetize(pes []byte, pid uint16, cc *byte) []byte {
	var out []byte
	first := true
	for off := 0; off < len(pes); {
		var pkt [TSPacketSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[3] = 0x10 | (*cc & 0x0F)
		*cc = (*cc + 1) & 0x0F

		remaining := len(pes) - off
		capacity := TSPacketSize - 4
		if remaining >= capacity {
			copy(pkt[4:], pes[off:off+capacity])
			off += capacity
		} else {
			stuff := capacity - remaining
			pkt[3] |= 0x20
			pkt[4] = byte(stuff - 1)
			if stuff > 1 {
				pkt[5] = 0x00
				for i := 6; i < 4+stuff; i++ {
					pkt[i] = 0xFF
				}
			}
			copy(pkt[4+stuff:], pes[off:])
			off = len(pes)
		}
		out = append(out, pkt[:]...)
	}
	return out
}

// PATPacket returns a TS packet holding a PAT with one program mapped to
// pmtPID.
func PATPacket(pmtPID uint16) []byte {
	section := []byte{0x00, 0xB0, 0x0D, 0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0 | byte(pmtPID>>8)&0x1F, byte(pmtPID)}
	section = binary.BigEndian.AppendUint32(section, CRC32(section))
	return psiPacket(0x0000, section)
}

// PMTPacket returns a TS packet holding a PMT on pmtPID listing streams.
func PMTPacket(pmtPID, pcrPID uint16, streams ...Stream) []byte {
	sectionLength := 9 + 5*len(streams) + 4
	section := []byte{0x02, 0xB0 | byte(sectionLength>>8)&0x0F, byte(sectionLength),
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0, 0x00}
	for _, s := range streams {
		section = append(section, s.Type, 0xE0|byte(s.PID>>8)&0x1F, byte(s.PID), 0xF0, 0x00)
	}
	section = binary.BigEndian.AppendUint32(section, CRC32(section))
	return psiPacket(pmtPID, section)
}

func psiPacket(pid uint16, section []byte) []byte {
	pkt := make([]byte, TSPacketSize)
	for i := range pkt {
		pkt[i] = 0xFF
	}
	pkt[0] = 0x47
	pkt[1] = 0x40 | byte(pid>>8)&0x1F
	pkt[2] = byte(pid)
	pkt[3] = 0x10
	pkt[4] = 0x00 // pointer field
	copy(pkt[5:], section)
	return pkt
}

// CRC32 computes the MPEG-2 CRC32 (polynomial 0x04C11DB7).
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
