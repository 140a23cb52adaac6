package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/zsiec/pgs/demux"
	"github.com/zsiec/pgs/internal/mpegts"
	"github.com/zsiec/pgs/segment"
)

// tsChunkPackets is the number of transport packets per SRT write.
const tsChunkPackets = 7

// defaultDuration paces a transport stream whose PTS range cannot be
// measured.
const defaultDuration = 60 * time.Second

// chunk is a slice of the input due at offset at from the start of playback.
type chunk struct {
	at   time.Duration
	data []byte
}

// plan is the write schedule for one pass over a file.
type plan struct {
	sup    bool
	chunks []chunk
	total  time.Duration
}

func (p *plan) duration() time.Duration { return p.total }

// newPlan splits data into timed chunks. SUP records are released at their
// own PTS; transport streams are paced at a constant byte rate.
func newPlan(path string, data []byte, duration time.Duration) (*plan, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".sup" || bytes.HasPrefix(data, []byte("PG")) {
		return supPlan(data)
	}
	packetSize := mpegts.PacketSize
	if ext == ".m2ts" || ext == ".mts" {
		packetSize = mpegts.BDAVPacketSize
	}
	if duration <= 0 {
		duration = measure(data, packetSize == mpegts.BDAVPacketSize)
	}
	if duration <= 0 {
		duration = defaultDuration
	}
	return tsPlan(data, packetSize, duration), nil
}

// supPlan cuts data at display set boundaries. A set is due at the PTS of
// its first record, relative to the first record of the file.
func supPlan(data []byte) (*plan, error) {
	r := segment.NewSupReader(data)
	p := &plan{sup: true}
	var (
		first int64 = -1
		start int
		due   time.Duration
	)
	for {
		before := r.Offset()
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sup offset %d: %w", before, err)
		}
		if first < 0 {
			first = rec.PTS
		}
		if before == start {
			due = segment.Ticks(rec.PTS-first, rec.Timescale)
		}
		if rec.Type == segment.TypeEND {
			p.chunks = append(p.chunks, chunk{at: due, data: data[start:r.Offset()]})
			start = r.Offset()
		}
	}
	if start < len(data) {
		p.chunks = append(p.chunks, chunk{at: due, data: data[start:]})
	}
	if n := len(p.chunks); n > 0 {
		p.total = p.chunks[n-1].at
	}
	return p, nil
}

func tsPlan(data []byte, packetSize int, duration time.Duration) *plan {
	p := &plan{total: duration}
	size := packetSize * tsChunkPackets
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		at := time.Duration(float64(duration) * float64(off) / float64(len(data)))
		p.chunks = append(p.chunks, chunk{at: at, data: data[off:end]})
	}
	return p
}

// measure returns the PTS span of the subtitle records in a transport
// stream, or zero when fewer than two are found.
func measure(data []byte, bdav bool) time.Duration {
	d := demux.NewDemuxer(bytes.NewReader(data), demux.Options{BDAV: bdav, Log: slog.New(slog.DiscardHandler)})
	var first, last int64 = -1, -1
	for {
		rec, err := d.Next(context.Background())
		if err != nil {
			break
		}
		if first < 0 {
			first = rec.PTS
		}
		last = rec.PTS
	}
	if first < 0 || last <= first {
		return 0
	}
	return segment.Ticks(last-first, segment.Timescale)
}

// pacer writes a plan against the wall clock.
type pacer struct {
	speed float64
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
	log   *slog.Logger
}

func (p *pacer) play(ctx context.Context, w io.Writer, pl *plan) error {
	now := p.now
	if now == nil {
		now = time.Now
	}
	start := now()
	var sent int
	for _, c := range pl.chunks {
		due := time.Duration(float64(c.at) / p.speed)
		if wait := due - now().Sub(start); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}
		if _, err := w.Write(c.data); err != nil {
			return err
		}
		sent += len(c.data)
	}
	p.log.Debug("pass complete", "bytes", sent, "elapsed", now().Sub(start))
	return nil
}
