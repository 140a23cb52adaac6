// Package demux extracts Presentation Graphic Stream payloads from an MPEG
// transport stream. It discovers PGS elementary streams (PMT stream type
// 0x90) and delivers each PES packet as a [Record] carrying the payload and
// its 90 kHz timestamps, ready for segment decoding.
//
// Records are available by pull through [Demuxer.Next], or pushed on the
// channel returned by [Demuxer.Records] while [Demuxer.Run] is active.
package demux

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/pgs/internal/mpegts"
	"github.com/zsiec/pgs/segment"
)

// RecordBufferSize is the capacity of the Records channel.
const RecordBufferSize = 64

// Record is one PGS PES packet. DTS equals PTS when the packet carried no
// DTS.
type Record struct {
	PID     uint16
	PTS     int64
	DTS     int64
	Payload []byte
}

// Framed reports whether the payload starts with the "PG" record magic.
// Blu-ray transport streams carry bare segments; segment type bytes never
// collide with the magic's first byte.
func (r Record) Framed() bool {
	return len(r.Payload) >= 2 && uint16(r.Payload[0])<<8|uint16(r.Payload[1]) == segment.Magic
}

// Segments returns a reader over the record's segments, detecting framing
// from the payload.
func (r Record) Segments() *segment.MpegTSReader {
	return segment.NewMpegTSReader(r.Payload, r.PTS, r.DTS, !r.Framed())
}

// Options configures a Demuxer.
type Options struct {
	// PID selects one PGS stream. Zero accepts every PGS stream.
	PID uint16
	// BDAV reads 192-byte .m2ts packets instead of 188-byte TS packets.
	BDAV bool
	Log  *slog.Logger
}

// Stats are running counters.
type Stats struct {
	Packets          int
	Records          int
	ContinuityErrors int
}

// Demuxer reads PGS records from a transport stream. It is not safe for
// concurrent use; Run and Next must not be mixed.
type Demuxer struct {
	log     *slog.Logger
	dmx     *mpegts.Demuxer
	cancel  context.CancelFunc
	pid     uint16
	streams map[uint16]bool
	order   []uint16
	records int
	out     chan Record
}

// NewDemuxer creates a Demuxer that reads from r. If opts.Log is nil,
// slog.Default() is used.
func NewDemuxer(r io.Reader, opts Options) *Demuxer {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "demux")
	ctx, cancel := context.WithCancel(context.Background())
	size := mpegts.PacketSize
	if opts.BDAV {
		size = mpegts.BDAVPacketSize
	}
	return &Demuxer{
		log:    log,
		cancel: cancel,
		dmx: mpegts.NewDemuxer(ctx, r,
			mpegts.DemuxerOptPacketSize(size),
			mpegts.DemuxerOptLogger(log),
		),
		pid:     opts.PID,
		streams: make(map[uint16]bool),
		out:     make(chan Record, RecordBufferSize),
	}
}

// Next returns the next record, or io.EOF at the end of the stream.
// Canceling ctx stops the demuxer for good.
func (d *Demuxer) Next(ctx context.Context) (Record, error) {
	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		u, err := d.dmx.Next()
		if err != nil {
			if ctx.Err() != nil {
				return Record{}, ctx.Err()
			}
			return Record{}, err
		}
		if u.PMT != nil {
			d.program(u.PMT)
			continue
		}
		if u.PES == nil || !d.streams[u.PID] {
			continue
		}
		if !u.PES.HasPTS {
			d.log.Debug("PES without PTS dropped", "pid", u.PID)
			continue
		}
		d.records++
		return Record{
			PID:     u.PID,
			PTS:     u.PES.PTS,
			DTS:     u.PES.DecodeTime(),
			Payload: u.PES.Data,
		}, nil
	}
}

func (d *Demuxer) program(pmt *mpegts.PMT) {
	for _, es := range pmt.Streams {
		if es.StreamType != mpegts.StreamTypePGS || d.streams[es.PID] {
			continue
		}
		if d.pid != 0 && es.PID != d.pid {
			continue
		}
		d.streams[es.PID] = true
		d.order = append(d.order, es.PID)
		d.log.Info("found PGS PID", "pid", es.PID, "program", pmt.ProgramNumber)
	}
}

// Streams returns the PGS PIDs selected so far, in discovery order.
func (d *Demuxer) Streams() []uint16 {
	return append([]uint16(nil), d.order...)
}

// Stats returns the running counters.
func (d *Demuxer) Stats() Stats {
	return Stats{
		Packets:          d.dmx.Packets(),
		Records:          d.records,
		ContinuityErrors: d.dmx.ContinuityErrors(),
	}
}

// Records returns the channel Run delivers records on. It is closed when Run
// returns.
func (d *Demuxer) Records() <-chan Record {
	return d.out
}

// Run demuxes until the end of the stream or context cancellation, sending
// every record on the Records channel. It returns nil at the end of the
// stream.
func (d *Demuxer) Run(ctx context.Context) error {
	defer close(d.out)
	for {
		rec, err := d.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case d.out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Source returns a segment.Source over every segment of every record, in
// stream order. A record whose payload fails to decode is logged and
// skipped from the failing segment on; records after it are still read.
func (d *Demuxer) Source(ctx context.Context) segment.Source {
	return &recordSource{ctx: ctx, d: d}
}

type recordSource struct {
	ctx context.Context
	d   *Demuxer
	cur *segment.MpegTSReader
	pid uint16
}

func (s *recordSource) Next() (segment.Timestamped, error) {
	for {
		if s.cur != nil {
			seg, err := s.cur.Next()
			if err == nil {
				return seg, nil
			}
			if !errors.Is(err, io.EOF) {
				s.d.log.Debug("record segments dropped", "pid", s.pid, "error", err)
			}
			s.cur = nil
		}
		rec, err := s.d.Next(s.ctx)
		if err != nil {
			return segment.Timestamped{}, err
		}
		s.cur, s.pid = rec.Segments(), rec.PID
	}
}
