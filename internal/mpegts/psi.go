package mpegts

import (
	"encoding/binary"
	"fmt"
)

const (
	pidPAT     = 0x0000
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// sections splits a PSI payload (pointer field first) into complete
// sections. ok is false while the last section is still incomplete.
func sections(payload []byte) (out [][]byte, ok bool) {
	if len(payload) == 0 {
		return nil, false
	}
	off := 1 + int(payload[0])
	for off < len(payload) {
		// 0xFF is stuffing after the last section.
		if payload[off] == 0xFF {
			break
		}
		if off+3 > len(payload) {
			return out, false
		}
		end := off + 3 + int(binary.BigEndian.Uint16(payload[off+1:])&0x0FFF)
		if end > len(payload) {
			return out, false
		}
		out = append(out, payload[off:end])
		off = end
	}
	return out, true
}

// parsePAT decodes a PAT section, skipping the network PID entry.
func parsePAT(s []byte) ([]Program, error) {
	if len(s) < 12 {
		return nil, fmt.Errorf("mpegts: PAT section is %d bytes", len(s))
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("mpegts: PAT: %w", err)
	}
	var progs []Program
	for e := s[8 : len(s)-4]; len(e) >= 4; e = e[4:] {
		num := binary.BigEndian.Uint16(e)
		if num == 0 {
			continue
		}
		progs = append(progs, Program{Number: num, PMTPID: binary.BigEndian.Uint16(e[2:]) & 0x1FFF})
	}
	return progs, nil
}

// parsePMT decodes a PMT section's elementary stream loop.
func parsePMT(s []byte) (*PMT, error) {
	if len(s) < 16 {
		return nil, fmt.Errorf("mpegts: PMT section is %d bytes", len(s))
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("mpegts: PMT: %w", err)
	}
	pmt := &PMT{
		ProgramNumber: binary.BigEndian.Uint16(s[3:]),
		PCRPID:        binary.BigEndian.Uint16(s[8:]) & 0x1FFF,
	}
	off := 12 + int(binary.BigEndian.Uint16(s[10:])&0x0FFF)
	end := len(s) - 4
	for off+5 <= end {
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			StreamType: s[off],
			PID:        binary.BigEndian.Uint16(s[off+1:]) & 0x1FFF,
		})
		off += 5 + int(binary.BigEndian.Uint16(s[off+3:])&0x0FFF)
	}
	return pmt, nil
}
