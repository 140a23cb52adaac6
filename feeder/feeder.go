// Package feeder answers "which subtitle is showing at time T" over
// reconstructed acquisition points.
//
// SupFeeder decodes a whole SUP buffer up front. StreamFeeder decodes a SUP
// byte stream in the background and serves whatever has arrived.
// MpegTSFeeder accepts PES payloads ahead of playback and reorders them by
// decode time before they enter the pipeline.
//
// A feeder is not safe for concurrent Content, Feed and Seek calls; the
// caller serializes them. StreamFeeder is the exception: its background
// decoder and Content may run concurrently.
package feeder

import (
	"log/slog"
	"sort"
	"time"

	"github.com/zsiec/pgs/acquisition"
)

// Feeder is the lookup side every feeder implements.
type Feeder interface {
	// Content returns the point showing at playback time at, or nil if no
	// subtitle has started yet.
	Content(at time.Duration) *acquisition.Point
	// Seek tells the feeder that playback jumped.
	Seek()
}

// Options configures every feeder.
type Options struct {
	// Decode resolves objects to RGBA rasters while ingesting.
	Decode bool
	// Timeshift is subtracted from playback time before lookup.
	Timeshift time.Duration
	// Strict turns invalid display sets into errors instead of skipping them.
	Strict bool
	// Bare makes MpegTSFeeder expect PES payloads without the "PG" magic.
	Bare bool
	Log  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Log == nil {
		return slog.Default()
	}
	return o.Log
}

func (o Options) acquisition() acquisition.Options {
	return acquisition.Options{Decode: o.Decode, Strict: o.Strict, Log: o.Log}
}

// floor returns the last point whose presentation time is at or before at.
// points must be sorted by presentation time.
func floor(points []*acquisition.Point, at time.Duration) *acquisition.Point {
	i := sort.Search(len(points), func(i int) bool {
		return points[i].Time() > at
	})
	if i == 0 {
		return nil
	}
	return points[i-1]
}
