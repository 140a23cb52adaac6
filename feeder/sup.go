package feeder

import (
	"sort"
	"time"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/segment"
)

// SupFeeder serves points decoded from a complete SUP buffer.
type SupFeeder struct {
	timeshift time.Duration
	points    []*acquisition.Point
	err       error
}

// NewSupFeeder decodes buf. A malformed tail does not fail construction: the
// points decoded before it are served and Err reports the failure.
func NewSupFeeder(buf []byte, opts Options) *SupFeeder {
	points, err := acquisition.Collect(segment.NewSupReader(buf), opts.acquisition())
	f := NewPointFeeder(points, opts)
	f.err = err
	return f
}

// NewPointFeeder serves an already reconstructed list of points.
func NewPointFeeder(points []*acquisition.Point, opts Options) *SupFeeder {
	sorted := sort.SliceIsSorted(points, func(i, j int) bool {
		return points[i].Time() < points[j].Time()
	})
	if !sorted {
		points = append([]*acquisition.Point(nil), points...)
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Time() < points[j].Time()
		})
	}
	return &SupFeeder{timeshift: opts.Timeshift, points: points}
}

// Content implements Feeder.
func (f *SupFeeder) Content(at time.Duration) *acquisition.Point {
	return floor(f.points, at-f.timeshift)
}

// Seek implements Feeder. Bulk lookups are stateless.
func (f *SupFeeder) Seek() {}

// All returns every point in presentation order.
func (f *SupFeeder) All() []*acquisition.Point { return f.points }

// Len returns the number of points.
func (f *SupFeeder) Len() int { return len(f.points) }

// Err returns the failure that stopped decoding, if any.
func (f *SupFeeder) Err() error { return f.err }
