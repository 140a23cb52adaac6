package demux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/pgs/internal/pgstest"
	"github.com/zsiec/pgs/segment"
)

const (
	pmtPID   = 0x1000
	videoPID = 0x1011
	pgsPID   = 0x1200
	pgsPID2  = 0x1201
)

type tsBuilder struct {
	buf bytes.Buffer
	cc  map[uint16]*byte
}

func newTS(streams ...pgstest.Stream) *tsBuilder {
	b := &tsBuilder{cc: make(map[uint16]*byte)}
	b.buf.Write(pgstest.PATPacket(pmtPID))
	b.buf.Write(pgstest.PMTPacket(pmtPID, videoPID, streams...))
	return b
}

func (b *tsBuilder) pes(pid uint16, pts, dts int64, data []byte) *tsBuilder {
	cc, ok := b.cc[pid]
	if !ok {
		cc = new(byte)
		b.cc[pid] = cc
	}
	b.buf.Write(pgstest.Packetize(pgstest.PES(pts, dts, data), pid, cc))
	return b
}

func (b *tsBuilder) reader() io.Reader { return bytes.NewReader(b.buf.Bytes()) }

func defaultStreams() []pgstest.Stream {
	return []pgstest.Stream{
		{Type: 0x1B, PID: videoPID},
		{Type: pgstest.StreamTypePGS, PID: pgsPID},
	}
}

func framedSet() []byte {
	var b []byte
	b = append(b, pgstest.Framed(pgstest.TypePCS, pgstest.PCS(1920, 1080, 0, pgstest.StateEpochStart, 0))...)
	return append(b, pgstest.Framed(pgstest.TypeEND, nil)...)
}

func collect(t *testing.T, d *Demuxer) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := d.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestDemuxer_Records(t *testing.T) {
	t.Parallel()
	ts := newTS(defaultStreams()...).
		pes(videoPID, 3000, -1, []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xF0}).
		pes(pgsPID, 90000, 89000, framedSet()).
		pes(pgsPID, 180000, -1, pgstest.Framed(pgstest.TypeEND, nil))

	d := NewDemuxer(ts.reader(), Options{})
	recs := collect(t, d)
	require.Len(t, recs, 2)

	assert.Equal(t, uint16(pgsPID), recs[0].PID)
	assert.Equal(t, int64(90000), recs[0].PTS)
	assert.Equal(t, int64(89000), recs[0].DTS)
	assert.True(t, recs[0].Framed())
	assert.Equal(t, recs[1].PTS, recs[1].DTS, "DTS falls back to PTS")

	segs, err := segment.ReadAll(recs[0].Segments(), nil)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, segment.TypePCS, segs[0].Type)
	assert.Equal(t, segment.TypeEND, segs[1].Type)
	assert.Equal(t, int64(89000), segs[0].DTS)

	assert.Equal(t, []uint16{pgsPID}, d.Streams())
	st := d.Stats()
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 5, st.Packets)
	assert.Zero(t, st.ContinuityErrors)
}

func TestDemuxer_BareSegments(t *testing.T) {
	t.Parallel()
	payload := append(pgstest.Segment(pgstest.TypeWDS, pgstest.WDS(pgstest.Window{ID: 0, W: 10, H: 10})),
		pgstest.Segment(pgstest.TypeEND, nil)...)
	ts := newTS(defaultStreams()...).pes(pgsPID, 900, 900, payload)

	recs := collect(t, NewDemuxer(ts.reader(), Options{}))
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Framed())

	segs, err := segment.ReadAll(recs[0].Segments(), nil)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, segment.TypeWDS, segs[0].Type)
}

func TestDemuxer_PIDFilter(t *testing.T) {
	t.Parallel()
	streams := append(defaultStreams(), pgstest.Stream{Type: pgstest.StreamTypePGS, PID: pgsPID2})
	ts := newTS(streams...).
		pes(pgsPID, 100, -1, framedSet()).
		pes(pgsPID2, 200, -1, framedSet())

	all := collect(t, NewDemuxer(ts.reader(), Options{}))
	require.Len(t, all, 2)

	d := NewDemuxer(ts.reader(), Options{PID: pgsPID2})
	only := collect(t, d)
	require.Len(t, only, 1)
	assert.Equal(t, uint16(pgsPID2), only[0].PID)
	assert.Equal(t, []uint16{pgsPID2}, d.Streams())
}

func TestDemuxer_BDAV(t *testing.T) {
	t.Parallel()
	ts := newTS(defaultStreams()...).pes(pgsPID, 100, -1, framedSet())
	raw := ts.buf.Bytes()
	var m2ts []byte
	for off := 0; off < len(raw); off += pgstest.TSPacketSize {
		m2ts = append(m2ts, 0, 0, 0, 0)
		m2ts = append(m2ts, raw[off:off+pgstest.TSPacketSize]...)
	}
	recs := collect(t, NewDemuxer(bytes.NewReader(m2ts), Options{BDAV: true}))
	require.Len(t, recs, 1)
	assert.Equal(t, int64(100), recs[0].PTS)
}

func TestDemuxer_Run(t *testing.T) {
	t.Parallel()
	ts := newTS(defaultStreams()...).
		pes(pgsPID, 100, -1, framedSet()).
		pes(pgsPID, 200, -1, framedSet()).
		pes(pgsPID, 300, -1, framedSet())

	d := NewDemuxer(ts.reader(), Options{})
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	var pts []int64
	for rec := range d.Records() {
		pts = append(pts, rec.PTS)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []int64{100, 200, 300}, pts)
}

func TestDemuxer_RunCanceled(t *testing.T) {
	t.Parallel()
	ts := newTS(defaultStreams()...).pes(pgsPID, 100, -1, framedSet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		d := NewDemuxer(ts.reader(), Options{})
		err := d.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
		_, open := <-d.Records()
		require.False(t, open, "no record is delivered after cancellation (run %d)", i)
	}
}

func TestDemuxer_NextCanceled(t *testing.T) {
	t.Parallel()
	ts := newTS(defaultStreams()...).pes(pgsPID, 100, -1, framedSet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDemuxer(ts.reader(), Options{})
	_, err := d.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, d.Stats().Records)
}

func TestDemuxer_Source(t *testing.T) {
	t.Parallel()
	broken := append(pgstest.Framed(pgstest.TypeEND, nil), 0x50, 0x47, 0x99, 0x00, 0x00)
	ts := newTS(defaultStreams()...).
		pes(pgsPID, 100, -1, framedSet()).
		pes(pgsPID, 200, -1, broken).
		pes(pgsPID, 300, -1, framedSet())

	segs, err := segment.ReadAll(NewDemuxer(ts.reader(), Options{}).Source(context.Background()), nil)
	require.NoError(t, err)
	require.Len(t, segs, 5, "two full sets plus the END before the bad segment")
	assert.Equal(t, int64(100), segs[0].PTS)
	assert.Equal(t, int64(200), segs[2].PTS)
	assert.Equal(t, segment.TypeEND, segs[2].Type)
	assert.Equal(t, int64(300), segs[4].PTS)
}
