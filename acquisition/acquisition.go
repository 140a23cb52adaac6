// Package acquisition folds display sets into acquisition points: frames
// resolved against their epoch's defining display set, so each one can be
// painted without any earlier frame.
package acquisition

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/pgs/displayset"
	"github.com/zsiec/pgs/rle"
	"github.com/zsiec/pgs/segment"
)

// Object is one resolved object. Fragments is always set; Image is set when
// the reconstructor decodes. Images may be shared between points of the
// same epoch and must not be modified.
type Object struct {
	ID        uint16
	Fragments []*segment.ODS
	Image     *image.NRGBA
}

// Point is a self-contained subtitle frame.
type Point struct {
	PTS              int64
	Timescale        int64
	CompositionState segment.CompositionState
	Composition      *segment.PCS
	Palette          *segment.PDS
	Windows          map[uint8]segment.WindowDefinition
	Objects          map[uint16]*Object
}

// Time returns the presentation time of the point.
func (p *Point) Time() time.Duration {
	return segment.Ticks(p.PTS, p.Timescale)
}

// Empty reports whether the point clears the screen.
func (p *Point) Empty() bool {
	return len(p.Composition.Objects) == 0
}

// Options configures a Reconstructor or Reader.
type Options struct {
	// Decode resolves every object to an RGBA raster instead of leaving
	// raw fragments only.
	Decode bool
	// Strict is passed to the display set stage.
	Strict bool
	Log    *slog.Logger
}

type cacheKey struct {
	palette *segment.PDS
	first   *segment.ODS
}

// Reconstructor holds the reference display set of the current epoch.
type Reconstructor struct {
	log    *slog.Logger
	decode bool

	ref        *displayset.DisplaySet
	refObjects map[uint16][]*segment.ODS
	refWindows map[uint8]segment.WindowDefinition
	cache      map[cacheKey]*image.NRGBA
	dropped    int
}

// NewReconstructor returns a Reconstructor with no epoch context.
func NewReconstructor(opts Options) *Reconstructor {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Reconstructor{
		log:    log.With("component", "acquisition"),
		decode: opts.Decode,
	}
}

// Push resolves ds against the current epoch. It returns nil when no
// EpochStart or AcquisitionPoint set has been seen yet; such sets are
// dropped, which lets a stream be joined mid-epoch.
func (r *Reconstructor) Push(ds *displayset.DisplaySet) *Point {
	if ds.CompositionState.IsDefining() {
		r.ref = ds
		r.refObjects = groupObjects(ds.ODS)
		r.refWindows = windows(nil, ds.WDS)
		r.cache = make(map[cacheKey]*image.NRGBA)
	}
	if r.ref == nil {
		r.dropped++
		r.log.Debug("dropping display set outside an epoch", "pts", ds.PTS, "state", ds.CompositionState)
		return nil
	}

	p := &Point{
		PTS:              ds.PTS,
		Timescale:        ds.Timescale,
		CompositionState: ds.CompositionState,
		Composition:      ds.PCS,
		Palette:          r.palette(ds),
		Windows:          map[uint8]segment.WindowDefinition{},
		Objects:          map[uint16]*Object{},
	}
	if len(ds.PCS.Objects) == 0 {
		return p
	}

	if ds == r.ref {
		for id, w := range r.refWindows {
			p.Windows[id] = w
		}
	} else {
		p.Windows = windows(r.refWindows, ds.WDS)
	}

	frags := r.refObjects
	if ds != r.ref && len(ds.ODS) > 0 {
		frags = make(map[uint16][]*segment.ODS, len(r.refObjects))
		for id, f := range r.refObjects {
			frags[id] = f
		}
		for id, f := range groupObjects(ds.ODS) {
			frags[id] = f
		}
	}
	for id, f := range frags {
		obj := &Object{ID: id, Fragments: f}
		if r.decode {
			obj.Image = r.decodeObject(p.Palette, f)
		}
		p.Objects[id] = obj
	}
	return p
}

// palette returns the reference PDS unless ds is a palette update that
// carries its own.
func (r *Reconstructor) palette(ds *displayset.DisplaySet) *segment.PDS {
	if ds.PCS.PaletteUpdate && ds.PDS != nil {
		return ds.PDS
	}
	return r.ref.PDS
}

func (r *Reconstructor) decodeObject(pds *segment.PDS, frags []*segment.ODS) *image.NRGBA {
	if len(frags) == 0 {
		return nil
	}
	key := cacheKey{palette: pds, first: frags[0]}
	if img, ok := r.cache[key]; ok {
		return img
	}
	img, err := rle.Decode(pds, frags)
	if err != nil {
		r.log.Debug("object decode failed", "object", frags[0].ObjectID, "error", err)
	}
	r.cache[key] = img
	return img
}

// Reset drops the epoch context, as after a seek.
func (r *Reconstructor) Reset() {
	r.ref = nil
	r.refObjects = nil
	r.refWindows = nil
	r.cache = nil
}

// Dropped returns the number of display sets discarded for lack of an epoch.
func (r *Reconstructor) Dropped() int { return r.dropped }

func groupObjects(ods []*segment.ODS) map[uint16][]*segment.ODS {
	m := make(map[uint16][]*segment.ODS)
	for _, o := range ods {
		m[o.ObjectID] = append(m[o.ObjectID], o)
	}
	return m
}

// windows copies base and overlays wds, last write winning per ID.
func windows(base map[uint8]segment.WindowDefinition, wds *segment.WDS) map[uint8]segment.WindowDefinition {
	m := make(map[uint8]segment.WindowDefinition, len(base))
	for id, w := range base {
		m[id] = w
	}
	if wds != nil {
		for _, w := range wds.Windows {
			m[w.ID] = w
		}
	}
	return m
}

// FromDisplaySets reconstructs every point of sets in order.
func FromDisplaySets(sets []*displayset.DisplaySet, opts Options) []*Point {
	r := NewReconstructor(opts)
	var out []*Point
	for _, ds := range sets {
		if p := r.Push(ds); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Reader pulls acquisition points from a segment source.
type Reader struct {
	sets *displayset.Reader
	rec  *Reconstructor
}

// NewReader returns a Reader over src.
func NewReader(src segment.Source, opts Options) *Reader {
	return &Reader{
		sets: displayset.NewReader(src, displayset.Options{Strict: opts.Strict, Log: opts.Log}),
		rec:  NewReconstructor(opts),
	}
}

// Next returns the next point, or io.EOF after the last one.
func (r *Reader) Next() (*Point, error) {
	for {
		ds, err := r.sets.Next()
		if err != nil {
			return nil, err
		}
		if p := r.rec.Push(ds); p != nil {
			return p, nil
		}
	}
}

// Collect drains src. Points completed before a failure are returned with
// it; the failure is logged once at Warn.
func Collect(src segment.Source, opts Options) ([]*Point, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	r := NewReader(src, opts)
	var out []*Point
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			log.Warn("acquisition decode stopped", "error", err, "points", len(out))
			return out, err
		}
		out = append(out, p)
	}
}
