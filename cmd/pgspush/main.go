// Command pgspush publishes a SUP or MPEG-TS subtitle file to an SRT
// listener in real time, for exercising pgsdump listen.
//
//	pgspush [-addr host:port] [-key KEY] [-loop] [-speed 1.0] FILE
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	srt "github.com/zsiec/srtgo"
)

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("pgspush failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("pgspush", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:6000", "SRT listener address")
	key := fs.String("key", "", "stream key (default: file name without extension)")
	loop := fs.Bool("loop", false, "restart from the beginning at end of file")
	speed := fs.Float64("speed", 1, "playback rate")
	duration := fs.Duration("duration", 0, "transport stream duration (default: measured from PTS)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(fs.Output(), "usage: pgspush [flags] FILE")
		fs.PrintDefaults()
		return flag.ErrHelp
	}
	if *speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", *speed)
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sched, err := newPlan(path, data, *duration)
	if err != nil {
		return err
	}

	streamKey := *key
	if streamKey == "" {
		base := filepath.Base(path)
		streamKey = strings.TrimSuffix(base, filepath.Ext(base))
	}
	streamID := "live/" + streamKey
	if sched.sup {
		streamID = "sup/" + streamKey
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := slog.Default().With("stream_id", streamID, "addr", *addr)
	log.Info("pushing", "file", path, "chunks", len(sched.chunks), "duration", sched.duration())

	for {
		err := pushOnce(ctx, *addr, streamID, sched, *speed, *loop, log)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("connection lost, reconnecting", "error", err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pushOnce(ctx context.Context, addr, streamID string, sched *plan, speed float64, loop bool, log *slog.Logger) error {
	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID
	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	log.Info("connected")

	p := &pacer{speed: speed, sleep: sleepCtx, log: log}
	for n := 1; ; n++ {
		if err := p.play(ctx, conn, sched); err != nil {
			return err
		}
		if !loop {
			return nil
		}
		log.Info("loop complete", "loop", n)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
