// Package displayset groups a flat, arrival-ordered sequence of timestamped
// PGS segments into display sets.
//
// Groups are delimited by END segments: an END closes the current group and a
// trailing group with no END is still emitted when the input ends. A group
// that is empty (two ENDs in a row) is ignored.
package displayset

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/pgs/segment"
)

// Structural errors raised while building a display set.
var (
	ErrMissingPCS   = fmt.Errorf("%w: display set has no PCS", segment.ErrStructural)
	ErrDuplicatePCS = fmt.Errorf("%w: display set has more than one PCS", segment.ErrStructural)
	ErrMissingPDS   = fmt.Errorf("%w: display set has no PDS for its palette", segment.ErrStructural)
)

// DisplaySet is one time-coincident group of segments. PTS, DTS and
// Timescale come from the PCS record.
type DisplaySet struct {
	PTS              int64
	DTS              int64
	Timescale        int64
	CompositionState segment.CompositionState
	PCS              *segment.PCS
	PDS              *segment.PDS // nil only when CompositionState is Normal
	WDS              *segment.WDS
	ODS              []*segment.ODS
}

// Time returns the presentation time of the set.
func (d *DisplaySet) Time() time.Duration {
	return segment.Ticks(d.PTS, d.Timescale)
}

// Build validates one group and assembles its display set. The first PDS
// whose ID matches the PCS palette ID is selected, as is the first WDS.
func Build(group []segment.Timestamped) (*DisplaySet, error) {
	var (
		ds  DisplaySet
		pds []*segment.PDS
	)
	for i := range group {
		s := &group[i]
		switch s.Type {
		case segment.TypePCS:
			if ds.PCS != nil {
				return nil, ErrDuplicatePCS
			}
			ds.PCS = s.PCS
			ds.PTS, ds.DTS, ds.Timescale = s.PTS, s.DTS, s.Timescale
			ds.CompositionState = s.PCS.CompositionState
		case segment.TypePDS:
			pds = append(pds, s.PDS)
		case segment.TypeWDS:
			if ds.WDS == nil {
				ds.WDS = s.WDS
			}
		case segment.TypeODS:
			ds.ODS = append(ds.ODS, s.ODS)
		}
	}
	if ds.PCS == nil {
		return nil, ErrMissingPCS
	}
	for _, p := range pds {
		if p.ID == ds.PCS.PaletteID {
			ds.PDS = p
			break
		}
	}
	if ds.PDS == nil && ds.CompositionState != segment.StateNormal {
		return nil, fmt.Errorf("%w %d (%s)", ErrMissingPDS, ds.PCS.PaletteID, ds.CompositionState)
	}
	return &ds, nil
}

// Options configures an Aggregator or Reader.
type Options struct {
	// Strict makes an invalid group an error. By default it is logged at
	// Debug and skipped.
	Strict bool
	Log    *slog.Logger
}

// Aggregator is the push form of the grouping state machine.
type Aggregator struct {
	log     *slog.Logger
	strict  bool
	pending []segment.Timestamped
	skipped int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator(opts Options) *Aggregator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		log:    log.With("component", "displayset"),
		strict: opts.Strict,
	}
}

// Push adds one segment. It returns a display set when s is an END that
// closes a valid group, and nil otherwise. In strict mode an invalid group is
// returned as an error; the group is discarded either way.
func (a *Aggregator) Push(s segment.Timestamped) (*DisplaySet, error) {
	if s.Type != segment.TypeEND {
		a.pending = append(a.pending, s)
		return nil, nil
	}
	return a.close()
}

// Flush closes a trailing group that never saw its END.
func (a *Aggregator) Flush() (*DisplaySet, error) {
	return a.close()
}

func (a *Aggregator) close() (*DisplaySet, error) {
	if len(a.pending) == 0 {
		return nil, nil
	}
	group := a.pending
	a.pending = nil
	ds, err := Build(group)
	if err != nil {
		if a.strict {
			return nil, err
		}
		a.skipped++
		a.log.Debug("skipping invalid display set", "error", err, "segments", len(group), "pts", group[0].PTS)
		return nil, nil
	}
	return ds, nil
}

// Reset discards the pending group.
func (a *Aggregator) Reset() {
	a.pending = nil
}

// Pending returns the number of segments waiting for an END.
func (a *Aggregator) Pending() int { return len(a.pending) }

// Skipped returns the number of invalid groups dropped in lenient mode.
func (a *Aggregator) Skipped() int { return a.skipped }

// Reader is the pull form: it drains a segment.Source and yields display
// sets. It is finite or unbounded exactly as its source is.
type Reader struct {
	src  segment.Source
	agg  *Aggregator
	done bool
	err  error
}

// NewReader returns a Reader over src.
func NewReader(src segment.Source, opts Options) *Reader {
	return &Reader{src: src, agg: NewAggregator(opts)}
}

// Next returns the next display set, or io.EOF after the last one. At a
// clean end the trailing group is flushed; a source error discards it.
func (r *Reader) Next() (*DisplaySet, error) {
	for {
		if r.done {
			return nil, r.err
		}
		seg, err := r.src.Next()
		if err != nil {
			r.done = true
			r.err = err
			if !errors.Is(err, io.EOF) {
				// The group the failure interrupted is incomplete.
				r.agg.Reset()
				return nil, err
			}
			ds, ferr := r.agg.Flush()
			if ferr != nil {
				r.err = ferr
				return nil, ferr
			}
			if ds != nil {
				return ds, nil
			}
			return nil, r.err
		}
		ds, err := r.agg.Push(seg)
		if err != nil {
			r.done = true
			r.err = err
			return nil, err
		}
		if ds != nil {
			return ds, nil
		}
	}
}

// Collect drains src into display sets. The returned error is nil on a clean
// end; otherwise it is the failure that stopped decoding, logged once at Warn,
// with every display set completed before it still returned.
func Collect(src segment.Source, opts Options) ([]*DisplaySet, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	r := NewReader(src, opts)
	var out []*DisplaySet
	for {
		ds, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			log.Warn("display set decode stopped", "error", err, "displaySets", len(out))
			return out, err
		}
		out = append(out, ds)
	}
}
