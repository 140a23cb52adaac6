package mpegts

import "errors"

var errCRC = errors.New("mpegts: section CRC32 mismatch")

// crcTable is the MPEG-2 CRC32 table, polynomial 0x04C11DB7, MSB first.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// checkCRC verifies a section that ends in its own CRC32.
func checkCRC(section []byte) error {
	if len(section) < 4 || crc32MPEG(section) != 0 {
		return errCRC
	}
	return nil
}
