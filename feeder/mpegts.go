package feeder

import (
	"log/slog"
	"time"

	"github.com/google/btree"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/displayset"
	"github.com/zsiec/pgs/segment"
)

// decodePriority orders segments that share a decode time.
func decodePriority(t segment.Type) int {
	switch t {
	case segment.TypePCS:
		return 0
	case segment.TypePDS:
		return 1
	case segment.TypeODS:
		return 2
	case segment.TypeWDS:
		return 3
	case segment.TypeEND:
		return 4
	}
	return 5
}

type buffered struct {
	dts      time.Duration
	priority int
	seq      uint64
	seg      segment.Timestamped
}

func lessBuffered(a, b buffered) bool {
	if a.dts != b.dts {
		return a.dts < b.dts
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

type presented struct {
	at    time.Duration
	point *acquisition.Point
}

func lessPresented(a, b presented) bool { return a.at < b.at }

// btreeDegree suits the few hundred entries a live buffer holds.
const btreeDegree = 16

// MpegTSFeeder is the live feeder. Feed buffers segments keyed by decode
// time; each Content call releases the buffered segments whose decode time
// lies between the previous query time and the current one, in decode
// order, into the display set and acquisition stages.
type MpegTSFeeder struct {
	log       *slog.Logger
	timeshift time.Duration
	bare      bool

	decode  *btree.BTreeG[buffered]
	present *btree.BTreeG[presented]
	agg     *displayset.Aggregator
	rec     *acquisition.Reconstructor

	prev    time.Duration
	hasPrev bool
	seq     uint64
	err     error
}

// NewMpegTSFeeder returns an empty live feeder.
func NewMpegTSFeeder(opts Options) *MpegTSFeeder {
	log := opts.logger().With("component", "mpegts-feeder")
	return &MpegTSFeeder{
		log:       log,
		timeshift: opts.Timeshift,
		bare:      opts.Bare,
		decode:    btree.NewG(btreeDegree, lessBuffered),
		present:   btree.NewG(btreeDegree, lessPresented),
		agg:       displayset.NewAggregator(displayset.Options{Strict: opts.Strict, Log: opts.Log}),
		rec:       acquisition.NewReconstructor(opts.acquisition()),
	}
}

// Feed buffers every segment of one PES payload. pts and dts are 90 kHz
// ticks from the PES header. On a decode error the segments before it stay
// buffered and the rest of the payload is discarded.
func (f *MpegTSFeeder) Feed(payload []byte, pts, dts int64) error {
	segs, err := segment.ReadAll(segment.NewMpegTSReader(payload, pts, dts, f.bare), f.log)
	for _, s := range segs {
		f.Push(s)
	}
	return err
}

// Push buffers one already decoded segment.
func (f *MpegTSFeeder) Push(s segment.Timestamped) {
	f.seq++
	f.decode.ReplaceOrInsert(buffered{
		dts:      s.DecodeTime(),
		priority: decodePriority(s.Type),
		seq:      f.seq,
		seg:      s,
	})
}

// Content implements Feeder. The first call after construction or a seek
// only starts the release window.
func (f *MpegTSFeeder) Content(at time.Duration) *acquisition.Point {
	if f.hasPrev && at >= f.prev {
		f.release(f.prev, at)
	}
	f.prev, f.hasPrev = at, true

	var out *acquisition.Point
	f.present.DescendLessOrEqual(presented{at: at - f.timeshift}, func(p presented) bool {
		out = p.point
		return false
	})
	return out
}

// release feeds the pipeline every buffered segment with decode time in
// [from, to] and returns them in the order processed. Segments that arrived
// after their window had passed are discarded.
func (f *MpegTSFeeder) release(from, to time.Duration) []segment.Timestamped {
	var due []buffered
	f.decode.Ascend(func(b buffered) bool {
		if b.dts > to {
			return false
		}
		due = append(due, b)
		return true
	})
	var (
		out   = make([]segment.Timestamped, 0, len(due))
		stale int
	)
	for _, b := range due {
		f.decode.Delete(b)
		if b.dts < from {
			stale++
			continue
		}
		f.process(b.seg)
		out = append(out, b.seg)
	}
	if stale > 0 {
		f.log.Debug("discarded late segments", "count", stale, "window", from)
	}
	return out
}

func (f *MpegTSFeeder) process(s segment.Timestamped) {
	ds, err := f.agg.Push(s)
	if err != nil {
		f.err = err
		f.log.Warn("invalid display set", "error", err, "pts", s.PTS)
		return
	}
	if ds == nil {
		return
	}
	if p := f.rec.Push(ds); p != nil {
		f.present.ReplaceOrInsert(presented{at: p.Time(), point: p})
	}
}

// Seek implements Feeder: buffered segments, presented points and the
// release window are all discarded, so nothing from before the seek is
// replayed.
func (f *MpegTSFeeder) Seek() {
	f.decode.Clear(false)
	f.present.Clear(false)
	f.agg.Reset()
	f.rec.Reset()
	f.hasPrev = false
	f.prev = 0
}

// Attach resets the feeder for a newly attached playback clock.
func (f *MpegTSFeeder) Attach() { f.Seek() }

// Detach resets the feeder when its playback clock goes away.
func (f *MpegTSFeeder) Detach() { f.Seek() }

// Pending returns the number of buffered, unreleased segments.
func (f *MpegTSFeeder) Pending() int { return f.decode.Len() }

// Len returns the number of presentable points.
func (f *MpegTSFeeder) Len() int { return f.present.Len() }

// Err returns the last invalid display set error seen in strict mode.
func (f *MpegTSFeeder) Err() error { return f.err }
