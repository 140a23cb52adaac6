package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/feeder"
	"github.com/zsiec/pgs/internal/config"
	"github.com/zsiec/pgs/internal/ingest"
	srtingest "github.com/zsiec/pgs/internal/ingest/srt"
	"github.com/zsiec/pgs/internal/pipeline"
	"github.com/zsiec/pgs/render"
)

type app struct {
	cfg      config.Config
	registry *ingest.Registry
}

func listen(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	pullAddr := fs.String("pull", "", "dial a remote SRT listener instead of only accepting publishers")
	pullKey := fs.String("key", "default", "stream key for -pull")
	pullFormat := fs.String("format", "ts", "framing of the pulled stream: ts or sup")
	if err := fs.Parse(args); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// The registry callback captures the errgroup context so pipelines stop
	// when any component fails.
	a := &app{cfg: cfg}
	a.registry = ingest.NewRegistry(func(s *ingest.Stream, input io.Reader) {
		a.handleNewStream(ctx, s, input)
	})

	srtSrv := srtingest.NewServer(cfg.SRTAddr, a.registry, nil)
	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	if *pullAddr != "" {
		format, err := ingest.ParseFormat(*pullFormat)
		if err != nil {
			return err
		}
		caller := srtingest.NewCaller(a.registry, nil)
		if err := caller.Pull(ctx, srtingest.PullRequest{
			Address:   *pullAddr,
			StreamKey: *pullKey,
			Format:    format,
		}); err != nil {
			return err
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) handleNewStream(ctx context.Context, s *ingest.Stream, input io.Reader) {
	log := slog.With("stream", s.Key)
	log.Info("new stream from ingest", "format", s.Format)

	p := pipeline.New(input, pipeline.Config{
		Key:    s.Key,
		Format: s.Format,
		Feeder: feeder.Options{
			Decode:    a.cfg.Decode,
			Strict:    a.cfg.Strict,
			Timeshift: a.cfg.Timeshift,
		},
		Surface: render.SurfaceConfig{Width: a.cfg.Width, Height: a.cfg.Height, Fit: a.cfg.Fit()},
		PID:     a.cfg.PID,
		Tick:    a.cfg.TickInterval,
		Sink:    a.sink(),
		Log:     slog.Default(),
	})
	if err := p.Run(ctx); err != nil {
		log.Error("pipeline error", "error", err)
	}

	snap := p.Snapshot()
	log.Info("stream ended", "records", snap.Records, "presented", snap.Presented,
		"uptime_ms", snap.UptimeMs, "ingest", s.Stats())
}

// sink writes frames to the output directory when one is configured.
func (a *app) sink() pipeline.Sink {
	if a.cfg.OutputDir == "" {
		return nil
	}
	dir := a.cfg.OutputDir
	return pipeline.SinkFunc(func(key string, p *acquisition.Point, frame *image.NRGBA) error {
		path, err := writePNG(dir, frameName(key, p), frame)
		if err != nil {
			return err
		}
		slog.Debug("frame written", "stream", key, "path", path)
		return nil
	})
}
