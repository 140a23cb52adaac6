package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/pgs/cursor"
)

// Magic is the two-byte "PG" marker that opens every framed record.
const Magic uint16 = 0x5047

func readMagic(r *cursor.Reader) error {
	magic, err := r.ReadU16()
	if err != nil {
		return fmt.Errorf("segment: magic: %w", err)
	}
	if magic != Magic {
		return fmt.Errorf("segment: %w 0x%04X", ErrBadMagic, magic)
	}
	return nil
}

// DecodeSupRecord reads one SUP record: magic, 32-bit PTS, 32-bit DTS, then
// one segment. Timestamps are 90 kHz ticks.
func DecodeSupRecord(r *cursor.Reader) (Timestamped, error) {
	if err := readMagic(r); err != nil {
		return Timestamped{}, err
	}
	pts, err := r.ReadU32()
	if err != nil {
		return Timestamped{}, fmt.Errorf("segment: pts: %w", err)
	}
	dts, err := r.ReadU32()
	if err != nil {
		return Timestamped{}, fmt.Errorf("segment: dts: %w", err)
	}
	seg, err := Decode(r)
	if err != nil {
		return Timestamped{}, err
	}
	return Timestamped{Segment: seg, PTS: int64(pts), DTS: int64(dts), Timescale: Timescale}, nil
}

// DecodeMpegTSRecord reads one magic-framed segment whose timestamps come
// from the enclosing PES packet rather than the payload.
func DecodeMpegTSRecord(r *cursor.Reader, pts, dts int64) (Timestamped, error) {
	if err := readMagic(r); err != nil {
		return Timestamped{}, err
	}
	return DecodeBareRecord(r, pts, dts)
}

// DecodeBareRecord reads one segment with no magic, as carried directly in
// Blu-ray transport stream PES payloads.
func DecodeBareRecord(r *cursor.Reader, pts, dts int64) (Timestamped, error) {
	seg, err := Decode(r)
	if err != nil {
		return Timestamped{}, err
	}
	return Timestamped{Segment: seg, PTS: pts, DTS: dts, Timescale: Timescale}, nil
}

// Source is a pull sequence of timestamped segments. Next returns io.EOF
// after the last segment; any other error is terminal.
type Source interface {
	Next() (Timestamped, error)
}

// SupReader is a finite, restartable Source over a SUP buffer.
type SupReader struct {
	buf []byte
	r   *cursor.Reader
	err error
}

// NewSupReader returns a SupReader positioned at the start of buf.
func NewSupReader(buf []byte) *SupReader {
	return &SupReader{buf: buf, r: cursor.New(buf)}
}

// Next decodes the next record. After the first failure every call returns
// the same error; unparsed bytes are abandoned.
func (s *SupReader) Next() (Timestamped, error) {
	if s.err != nil {
		return Timestamped{}, s.err
	}
	if s.r.IsEmpty() {
		s.err = io.EOF
		return Timestamped{}, s.err
	}
	seg, err := DecodeSupRecord(s.r)
	if err != nil {
		s.err = err
		return Timestamped{}, err
	}
	return seg, nil
}

// Offset returns the number of bytes consumed from the buffer.
func (s *SupReader) Offset() int { return s.r.Offset() }

// Restart rewinds to the start of the buffer.
func (s *SupReader) Restart() {
	s.r = cursor.New(s.buf)
	s.err = nil
}

// MpegTSReader is a finite Source over one PES payload holding any number of
// segments that share the packet's timestamps.
type MpegTSReader struct {
	r    *cursor.Reader
	pts  int64
	dts  int64
	bare bool
	err  error
}

// NewMpegTSReader returns a reader over payload. When bare is set, segments
// are expected without the "PG" magic.
func NewMpegTSReader(payload []byte, pts, dts int64, bare bool) *MpegTSReader {
	return &MpegTSReader{r: cursor.New(payload), pts: pts, dts: dts, bare: bare}
}

// Next decodes the next segment of the payload.
func (m *MpegTSReader) Next() (Timestamped, error) {
	if m.err != nil {
		return Timestamped{}, m.err
	}
	if m.r.IsEmpty() {
		m.err = io.EOF
		return Timestamped{}, m.err
	}
	var (
		seg Timestamped
		err error
	)
	if m.bare {
		seg, err = DecodeBareRecord(m.r, m.pts, m.dts)
	} else {
		seg, err = DecodeMpegTSRecord(m.r, m.pts, m.dts)
	}
	if err != nil {
		m.err = err
		return Timestamped{}, err
	}
	return seg, nil
}

// StreamReader is an unbounded, single-pass Source of SUP records read from
// a cursor.Stream. Next suspends at each record boundary until the producer
// supplies the record's bytes.
type StreamReader struct {
	ctx context.Context
	s   *cursor.Stream
	err error
}

// NewStreamReader returns a StreamReader over s. ctx bounds every wait.
func NewStreamReader(ctx context.Context, s *cursor.Stream) *StreamReader {
	return &StreamReader{ctx: ctx, s: s}
}

// recordHeaderSize is magic, pts, dts, type and length.
const recordHeaderSize = 2 + 4 + 4 + 1 + 2

// Next waits for and decodes the next record. io.EOF means the stream ended
// on a record boundary; a stream that ends mid-record yields
// ErrBufferUnderrun.
func (sr *StreamReader) Next() (Timestamped, error) {
	if sr.err != nil {
		return Timestamped{}, sr.err
	}
	seg, err := sr.next()
	if err != nil {
		sr.err = err
	}
	return seg, err
}

func (sr *StreamReader) next() (Timestamped, error) {
	if err := sr.s.Need(sr.ctx, 1); err != nil {
		if errors.Is(err, io.EOF) {
			return Timestamped{}, io.EOF
		}
		return Timestamped{}, fmt.Errorf("segment: %w", err)
	}
	head, err := sr.s.ReadBytes(sr.ctx, recordHeaderSize)
	if err != nil {
		return Timestamped{}, fmt.Errorf("segment: record header: %w", err)
	}
	hr := cursor.New(head)
	if err := readMagic(hr); err != nil {
		return Timestamped{}, err
	}
	pts, _ := hr.ReadU32()
	dts, _ := hr.ReadU32()
	typ, _ := hr.ReadU8()
	length, _ := hr.ReadU16()

	body, err := sr.s.ReadBytes(sr.ctx, int(length))
	if err != nil {
		return Timestamped{}, fmt.Errorf("segment: %s payload: %w", Type(typ), err)
	}
	seg, err := decodePayload(Type(typ), cursor.New(body))
	if err != nil {
		return Timestamped{}, err
	}
	return Timestamped{Segment: seg, PTS: int64(pts), DTS: int64(dts), Timescale: Timescale}, nil
}

// ReadAll drains src. The returned error is nil on a clean end and otherwise
// the failure that stopped decoding; the segments read before it are always
// returned. A failure is logged once at Warn on log (nil means
// slog.Default()).
func ReadAll(src Source, log *slog.Logger) ([]Timestamped, error) {
	if log == nil {
		log = slog.Default()
	}
	var out []Timestamped
	for {
		seg, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			log.Warn("segment decode stopped", "error", err, "segments", len(out))
			return out, err
		}
		out = append(out, seg)
	}
}
