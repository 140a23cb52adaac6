package mpegts

import (
	"errors"
	"fmt"
)

// Packet sizes.
const (
	PacketSize     = 188
	BDAVPacketSize = 192 // 4-byte arrival timestamp + TS packet
	syncByte       = 0x47
)

// ErrSync reports a packet that does not start with the sync byte.
var ErrSync = errors.New("mpegts: lost sync")

// parsePacket decodes one 188-byte packet. The payload aliases buf.
func parsePacket(buf []byte) (Packet, error) {
	if len(buf) != PacketSize {
		return Packet{}, fmt.Errorf("mpegts: packet is %d bytes, want %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return Packet{}, fmt.Errorf("%w: 0x%02X", ErrSync, buf[0])
	}
	p := Packet{
		TransportErr: buf[1]&0x80 != 0,
		Start:        buf[1]&0x40 != 0,
		PID:          uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		HasPayload:   buf[3]&0x10 != 0,
		CC:           buf[3] & 0x0F,
	}
	body := buf[4:]
	if buf[3]&0x20 != 0 {
		afLen := int(body[0])
		if afLen > 0 && len(body) > 1 {
			p.Discontinuity = body[1]&0x80 != 0
		}
		if 1+afLen >= len(body) {
			body = nil
		} else {
			body = body[1+afLen:]
		}
	}
	if p.HasPayload && len(body) > 0 {
		p.Payload = body
	}
	return p, nil
}
