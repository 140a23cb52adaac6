package mpegts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
)

// maxSectionSize bounds PSI reassembly; a PSI section is at most 1024 bytes
// plus header.
const maxSectionSize = 4096

type pesBuffer struct {
	cc      uint8
	started bool
	data    []byte
}

// Demuxer reads transport stream packets from a reader and produces Units:
// PAT and PMT changes, and every complete PES packet on a stream the PMT
// announced.
type Demuxer struct {
	ctx     context.Context
	reader  io.Reader
	readBuf []byte
	pktSize int
	log     *slog.Logger

	pat     []Program
	pmtPIDs map[uint16]bool
	pmts    map[uint16]*PMT
	types   map[uint16]uint8
	psi     map[uint16][]byte
	pes     map[uint16]*pesBuffer

	queue     []Unit
	eof       bool
	ccErrors  int
	packetsIn int
}

// NewDemuxer creates a demuxer reading from r.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		ctx:     ctx,
		reader:  r,
		pktSize: PacketSize,
		log:     slog.Default(),
		pmtPIDs: make(map[uint16]bool),
		pmts:    make(map[uint16]*PMT),
		types:   make(map[uint16]uint8),
		psi:     make(map[uint16][]byte),
		pes:     make(map[uint16]*pesBuffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.readBuf = make([]byte, d.pktSize)
	return d
}

// DemuxerOptPacketSize sets the on-disk packet size: PacketSize (default) or
// BDAVPacketSize for .m2ts files.
func DemuxerOptPacketSize(size int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.pktSize = size
	}
}

// DemuxerOptLogger sets the logger used for dropped packets and sections.
func DemuxerOptLogger(l *slog.Logger) func(*Demuxer) {
	return func(d *Demuxer) {
		if l != nil {
			d.log = l
		}
	}
}

// Next returns the next unit. PES packets whose declared length is reached
// are returned immediately; unbounded ones when the next unit starts on the
// PID, or at end of input. It returns io.EOF after the last unit.
func (d *Demuxer) Next() (Unit, error) {
	for {
		if len(d.queue) > 0 {
			u := d.queue[0]
			d.queue = d.queue[1:]
			return u, nil
		}
		if d.eof {
			return Unit{}, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return Unit{}, err
		}

		_, err := io.ReadFull(d.reader, d.readBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drain()
				continue
			}
			return Unit{}, fmt.Errorf("mpegts: read: %w", err)
		}
		buf := d.readBuf
		if d.pktSize == BDAVPacketSize {
			buf = buf[4:]
		}
		pkt, err := parsePacket(buf)
		if err != nil {
			return Unit{}, fmt.Errorf("mpegts: packet %d: %w", d.packetsIn, err)
		}
		d.packetsIn++
		d.handle(pkt)
	}
}

// Streams returns the elementary streams of every PMT seen so far, ordered by
// PID.
func (d *Demuxer) Streams() []ElementaryStream {
	out := make([]ElementaryStream, 0, len(d.types))
	for pid, t := range d.types {
		out = append(out, ElementaryStream{PID: pid, StreamType: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// ContinuityErrors returns the number of PES packets discarded because of a
// continuity counter gap.
func (d *Demuxer) ContinuityErrors() int { return d.ccErrors }

// Packets returns the number of packets read.
func (d *Demuxer) Packets() int { return d.packetsIn }

func (d *Demuxer) handle(pkt Packet) {
	if pkt.TransportErr {
		d.log.Debug("mpegts: transport error packet dropped", "pid", pkt.PID)
		d.resetPES(pkt.PID)
		return
	}
	switch {
	case pkt.PID == pidPAT || d.pmtPIDs[pkt.PID]:
		d.addPSI(pkt)
	case d.hasStream(pkt.PID):
		d.addPES(pkt)
	}
}

func (d *Demuxer) hasStream(pid uint16) bool {
	_, ok := d.types[pid]
	return ok
}

func (d *Demuxer) addPSI(pkt Packet) {
	if pkt.Payload == nil {
		return
	}
	if pkt.Start {
		d.psi[pkt.PID] = append([]byte(nil), pkt.Payload...)
	} else if buf, ok := d.psi[pkt.PID]; ok {
		d.psi[pkt.PID] = append(buf, pkt.Payload...)
	} else {
		return
	}
	buf := d.psi[pkt.PID]
	secs, ok := sections(buf)
	if !ok {
		if len(buf) > maxSectionSize {
			d.log.Debug("mpegts: oversized PSI dropped", "pid", pkt.PID, "bytes", len(buf))
			delete(d.psi, pkt.PID)
		}
		return
	}
	delete(d.psi, pkt.PID)
	for _, s := range secs {
		d.section(pkt.PID, s)
	}
}

func (d *Demuxer) section(pid uint16, s []byte) {
	switch {
	case pid == pidPAT && s[0] == tableIDPAT:
		progs, err := parsePAT(s)
		if err != nil {
			d.log.Debug("mpegts: PAT dropped", "error", err)
			return
		}
		if slices.Equal(progs, d.pat) {
			return
		}
		d.pat = progs
		for _, p := range progs {
			d.pmtPIDs[p.PMTPID] = true
		}
		d.queue = append(d.queue, Unit{PID: pid, PAT: progs})
	case d.pmtPIDs[pid] && s[0] == tableIDPMT:
		pmt, err := parsePMT(s)
		if err != nil {
			d.log.Debug("mpegts: PMT dropped", "pid", pid, "error", err)
			return
		}
		if prev, ok := d.pmts[pid]; ok && prev.PCRPID == pmt.PCRPID && slices.Equal(prev.Streams, pmt.Streams) {
			return
		}
		if prev, ok := d.pmts[pid]; ok {
			for _, es := range prev.Streams {
				delete(d.types, es.PID)
			}
		}
		d.pmts[pid] = pmt
		for _, es := range pmt.Streams {
			d.types[es.PID] = es.StreamType
		}
		d.queue = append(d.queue, Unit{PID: pid, PMT: pmt})
	}
}

func (d *Demuxer) addPES(pkt Packet) {
	if pkt.Payload == nil {
		return
	}
	b := d.pes[pkt.PID]
	if b == nil {
		b = &pesBuffer{}
		d.pes[pkt.PID] = b
	}
	if pkt.Start {
		if b.started {
			d.flush(pkt.PID, b)
		}
		b.started = true
		b.cc = pkt.CC
		b.data = append([]byte(nil), pkt.Payload...)
	} else {
		if !b.started {
			return
		}
		if pkt.CC == b.cc {
			return // duplicate
		}
		if pkt.CC != (b.cc+1)&0x0F && !pkt.Discontinuity {
			d.ccErrors++
			d.log.Debug("mpegts: continuity gap, PES dropped",
				"pid", pkt.PID, "expected", (b.cc+1)&0x0F, "got", pkt.CC)
			b.started = false
			b.data = nil
			return
		}
		b.cc = pkt.CC
		b.data = append(b.data, pkt.Payload...)
	}
	if n := pesLength(b.data); n > 0 && len(b.data) >= n {
		d.flush(pkt.PID, b)
	}
}

func (d *Demuxer) flush(pid uint16, b *pesBuffer) {
	data := b.data
	b.started = false
	b.data = nil
	pes, err := parsePES(data)
	if err != nil {
		d.log.Debug("mpegts: PES dropped", "pid", pid, "error", err)
		return
	}
	pes.PID = pid
	pes.StreamType = d.types[pid]
	d.queue = append(d.queue, Unit{PID: pid, PES: pes})
}

func (d *Demuxer) resetPES(pid uint16) {
	if b, ok := d.pes[pid]; ok {
		b.started = false
		b.data = nil
	}
}

// drain flushes every partially assembled PES packet in PID order.
func (d *Demuxer) drain() {
	pids := make([]uint16, 0, len(d.pes))
	for pid, b := range d.pes {
		if b.started {
			pids = append(pids, pid)
		}
	}
	slices.Sort(pids)
	for _, pid := range pids {
		d.flush(pid, d.pes[pid])
	}
}
