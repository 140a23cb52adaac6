package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/pgs/internal/pgstest"
)

const (
	testPMTPID   = 0x1000
	testVideoPID = 0x1011
	testPGSPID   = 0x1200
)

func header() []byte {
	var b []byte
	b = append(b, pgstest.PATPacket(testPMTPID)...)
	b = append(b, pgstest.PMTPacket(testPMTPID, testVideoPID,
		pgstest.Stream{Type: StreamTypeH264, PID: testVideoPID},
		pgstest.Stream{Type: StreamTypePGS, PID: testPGSPID},
	)...)
	return b
}

func drainUnits(t *testing.T, d *Demuxer) []Unit {
	t.Helper()
	var out []Unit
	for {
		u, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, u)
	}
}

func pesUnits(units []Unit) []*PES {
	var out []*PES
	for _, u := range units {
		if u.PES != nil {
			out = append(out, u.PES)
		}
	}
	return out
}

func TestDemuxer_Synthetic(t *testing.T) {
	t.Parallel()
	stream := header()
	var cc byte
	stream = append(stream, pgstest.Packetize(pgstest.PES(90000, 89000, []byte{0x80, 0x00, 0x00}), testPGSPID, &cc)...)
	big := bytes.Repeat([]byte{0x5A}, 500)
	stream = append(stream, pgstest.Packetize(pgstest.PES(180000, -1, big), testPGSPID, &cc)...)

	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	units := drainUnits(t, d)
	if len(units) != 4 {
		t.Fatalf("units = %d, want 4", len(units))
	}
	if units[0].PAT == nil || units[0].PAT[0].PMTPID != testPMTPID {
		t.Fatalf("unit 0 = %+v, want PAT", units[0])
	}
	if units[1].PMT == nil || len(units[1].PMT.Streams) != 2 {
		t.Fatalf("unit 1 = %+v, want PMT", units[1])
	}
	first, second := units[2].PES, units[3].PES
	if first.PID != testPGSPID || first.StreamType != StreamTypePGS {
		t.Errorf("pes = pid 0x%X type 0x%X", first.PID, first.StreamType)
	}
	if first.PTS != 90000 || first.DTS != 89000 || !bytes.Equal(first.Data, []byte{0x80, 0x00, 0x00}) {
		t.Errorf("first PES = %+v", first)
	}
	if second.PTS != 180000 || !bytes.Equal(second.Data, big) {
		t.Errorf("second PES: pts %d, %d bytes", second.PTS, len(second.Data))
	}

	streams := d.Streams()
	if len(streams) != 2 || streams[0].PID != testVideoPID || streams[1].StreamType != StreamTypePGS {
		t.Errorf("Streams = %+v", streams)
	}
}

func TestDemuxer_BoundedPESReturnedWithoutLookahead(t *testing.T) {
	t.Parallel()
	stream := header()
	var cc byte
	stream = append(stream, pgstest.Packetize(pgstest.PES(90000, -1, []byte{0x80, 0x00, 0x00}), testPGSPID, &cc)...)
	stream = append(stream, pgstest.Packetize(pgstest.PES(180000, -1, []byte{0x80, 0x00, 0x00}), testPGSPID, &cc)...)

	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	for {
		u, err := d.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if u.PES != nil {
			break
		}
	}
	if d.Packets() != 3 {
		t.Errorf("packets read = %d, want 3", d.Packets())
	}
}

func TestDemuxer_UnboundedPESFlushedOnNextStart(t *testing.T) {
	t.Parallel()
	stream := header()
	unbounded := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80, 0x80, 0x05}
	unbounded = append(unbounded, pgstest.EncodeTimestamp(0x02, 3000)...)
	unbounded = append(unbounded, 0x00, 0x00, 0x00, 0x01, 0x09)
	var cc byte
	stream = append(stream, pgstest.Packetize(unbounded, testVideoPID, &cc)...)
	stream = append(stream, pgstest.Packetize(unbounded, testVideoPID, &cc)...)

	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	pes := pesUnits(drainUnits(t, d))
	if len(pes) != 2 {
		t.Fatalf("PES = %d, want 2 (one on start, one at EOF)", len(pes))
	}
	for _, p := range pes {
		if p.StreamType != StreamTypeH264 || p.PTS != 3000 {
			t.Errorf("PES = type 0x%X pts %d", p.StreamType, p.PTS)
		}
	}
}

func TestDemuxer_ContinuityGap(t *testing.T) {
	t.Parallel()
	stream := header()
	var cc byte
	pkts := pgstest.Packetize(pgstest.PES(90000, -1, make([]byte, 500)), testPGSPID, &cc)
	if len(pkts) != 3*PacketSize {
		t.Fatalf("packetized to %d bytes", len(pkts))
	}
	// Drop the middle packet.
	stream = append(stream, pkts[:PacketSize]...)
	stream = append(stream, pkts[2*PacketSize:]...)
	stream = append(stream, pgstest.Packetize(pgstest.PES(180000, -1, []byte{0x80, 0x00, 0x00}), testPGSPID, &cc)...)

	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	pes := pesUnits(drainUnits(t, d))
	if len(pes) != 1 || pes[0].PTS != 180000 {
		t.Fatalf("PES = %+v, want only the packet after the gap", pes)
	}
	if d.ContinuityErrors() != 1 {
		t.Errorf("continuity errors = %d, want 1", d.ContinuityErrors())
	}
}

func TestDemuxer_DuplicatePSIEmittedOnce(t *testing.T) {
	t.Parallel()
	stream := append(header(), header()...)
	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	units := drainUnits(t, d)
	if len(units) != 2 {
		t.Fatalf("units = %d, want PAT and PMT once each", len(units))
	}
}

func TestDemuxer_IgnoresUnknownPIDs(t *testing.T) {
	t.Parallel()
	var cc byte
	stream := pgstest.Packetize(pgstest.PES(0, -1, []byte{0x01}), testPGSPID, &cc)
	stream = append(stream, header()...)
	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	if pes := pesUnits(drainUnits(t, d)); len(pes) != 0 {
		t.Fatalf("PES before PMT = %d, want 0", len(pes))
	}
}

func TestDemuxer_BDAV(t *testing.T) {
	t.Parallel()
	ts := header()
	var cc byte
	ts = append(ts, pgstest.Packetize(pgstest.PES(90000, -1, []byte{0x80, 0x00, 0x00}), testPGSPID, &cc)...)
	var m2ts []byte
	for off := 0; off < len(ts); off += PacketSize {
		m2ts = append(m2ts, 0x00, 0x00, 0x00, 0x00)
		m2ts = append(m2ts, ts[off:off+PacketSize]...)
	}

	d := NewDemuxer(context.Background(), bytes.NewReader(m2ts), DemuxerOptPacketSize(BDAVPacketSize))
	pes := pesUnits(drainUnits(t, d))
	if len(pes) != 1 || pes[0].PTS != 90000 {
		t.Fatalf("PES = %+v", pes)
	}
}

func TestDemuxer_TruncatedTail(t *testing.T) {
	t.Parallel()
	stream := header()
	stream = append(stream, 0x47, 0x00)
	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	if units := drainUnits(t, d); len(units) != 2 {
		t.Fatalf("units = %d, want 2", len(units))
	}
}

func TestDemuxer_LostSync(t *testing.T) {
	t.Parallel()
	stream := append(header(), make([]byte, PacketSize)...)
	d := NewDemuxer(context.Background(), bytes.NewReader(stream))
	var err error
	for err == nil {
		_, err = d.Next()
	}
	if !errors.Is(err, ErrSync) {
		t.Fatalf("err = %v, want ErrSync", err)
	}
}

func TestDemuxer_ContextCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDemuxer(ctx, bytes.NewReader(header()))
	if _, err := d.Next(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDemuxer_Empty(t *testing.T) {
	t.Parallel()
	d := NewDemuxer(context.Background(), bytes.NewReader(nil))
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
