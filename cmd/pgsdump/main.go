// Command pgsdump decodes Presentation Graphic Stream subtitles.
//
//	pgsdump [-config file.yaml] dump [-png] [-format auto|sup|ts|m2ts] FILE
//	pgsdump [-config file.yaml] listen [-pull host:port -key KEY [-format sup|ts]]
//
// dump prints one JSON line per presented subtitle and, with -png, writes
// each composed frame to the output directory. listen accepts SRT publishers
// (stream id "sup/<key>" for SUP, anything else for MPEG-TS) and presents
// their subtitles live.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zsiec/pgs/internal/config"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("pgsdump failed", "error", err)
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(), "usage: pgsdump [-config file] dump|listen [flags]\n")
		fs.PrintDefaults()
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("pgsdump", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	switch rest[0] {
	case "dump":
		return dump(ctx, cfg, rest[1:], os.Stdout)
	case "listen":
		slog.Info("pgsdump starting", "version", version, "srt", cfg.SRTAddr)
		return listen(ctx, cfg, rest[1:])
	case "version":
		fmt.Println(version)
		return nil
	}
	fs.Usage()
	return fmt.Errorf("unknown command %q", rest[0])
}
