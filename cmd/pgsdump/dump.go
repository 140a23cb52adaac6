package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zsiec/pgs/acquisition"
	"github.com/zsiec/pgs/demux"
	"github.com/zsiec/pgs/feeder"
	"github.com/zsiec/pgs/internal/config"
	"github.com/zsiec/pgs/render"
	"github.com/zsiec/pgs/segment"
)

type inputKind int

const (
	kindSUP inputKind = iota
	kindTS
	kindM2TS
)

// detectKind picks the container from the flag, then the extension, then
// the first bytes.
func detectKind(format, path string, head []byte) (inputKind, error) {
	switch format {
	case "sup":
		return kindSUP, nil
	case "ts":
		return kindTS, nil
	case "m2ts":
		return kindM2TS, nil
	case "", "auto":
	default:
		return 0, fmt.Errorf("unknown format %q", format)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sup":
		return kindSUP, nil
	case ".ts":
		return kindTS, nil
	case ".m2ts", ".mts":
		return kindM2TS, nil
	}
	switch {
	case len(head) >= 2 && head[0] == 'P' && head[1] == 'G':
		return kindSUP, nil
	case len(head) >= 1 && head[0] == 0x47:
		return kindTS, nil
	case len(head) >= 5 && head[4] == 0x47:
		return kindM2TS, nil
	}
	return 0, fmt.Errorf("%s: cannot detect container", path)
}

type jsonObject struct {
	ID       uint16 `json:"id"`
	WindowID uint8  `json:"windowId"`
	X        uint16 `json:"x"`
	Y        uint16 `json:"y"`
	Width    uint16 `json:"width"`
	Height   uint16 `json:"height"`
	Cropped  bool   `json:"cropped,omitempty"`
}

type jsonPoint struct {
	PTS       int64                      `json:"pts"`
	Time      string                     `json:"time"`
	State     string                     `json:"state"`
	Number    uint16                     `json:"compositionNumber"`
	Width     uint16                     `json:"width"`
	Height    uint16                     `json:"height"`
	PaletteID uint8                      `json:"paletteId"`
	Windows   []segment.WindowDefinition `json:"windows"`
	Objects   []jsonObject               `json:"objects"`
	Empty     bool                       `json:"empty"`
	Frame     string                     `json:"frame,omitempty"`
}

func describe(p *acquisition.Point) jsonPoint {
	jp := jsonPoint{
		PTS:     p.PTS,
		Time:    p.Time().String(),
		State:   p.CompositionState.String(),
		Windows: []segment.WindowDefinition{},
		Objects: []jsonObject{},
		Empty:   p.Empty(),
	}
	if pcs := p.Composition; pcs != nil {
		jp.Number, jp.Width, jp.Height, jp.PaletteID = pcs.CompositionNumber, pcs.Width, pcs.Height, pcs.PaletteID
		for _, co := range pcs.Objects {
			o := jsonObject{ID: co.ObjectID, WindowID: co.WindowID, X: co.X, Y: co.Y, Cropped: co.Cropped}
			if obj, ok := p.Objects[co.ObjectID]; ok && len(obj.Fragments) > 0 && obj.Fragments[0].Sequence.IsFirst() {
				o.Width, o.Height = obj.Fragments[0].Width, obj.Fragments[0].Height
			}
			jp.Objects = append(jp.Objects, o)
		}
	}
	for _, w := range p.Windows {
		jp.Windows = append(jp.Windows, w)
	}
	sort.Slice(jp.Windows, func(i, j int) bool { return jp.Windows[i].ID < jp.Windows[j].ID })
	return jp
}

// frameName is the PNG file name of a presented frame.
func frameName(key string, p *acquisition.Point) string {
	name := fmt.Sprintf("%012d.png", p.PTS)
	if key != "" {
		name = strings.ReplaceAll(key, "/", "_") + "_" + name
	}
	return name
}

func writePNG(dir, name string, img image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	return path, f.Close()
}

func dump(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	writeFrames := fs.Bool("png", cfg.OutputDir != "", "write composed frames as PNG files")
	outDir := fs.String("out", cfg.OutputDir, "directory for PNG frames")
	format := fs.String("format", "auto", "container: auto, sup, ts or m2ts")
	pid := fs.Uint("pid", uint(cfg.PID), "PGS PID in a transport stream (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("dump: expected exactly one input file")
	}
	path := fs.Arg(0)
	if *writeFrames && *outDir == "" {
		*outDir = "."
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	kind, err := detectKind(*format, path, data)
	if err != nil {
		return err
	}

	log := slog.Default().With("file", filepath.Base(path))
	opts := feeder.Options{Decode: cfg.Decode, Strict: cfg.Strict, Timeshift: cfg.Timeshift, Log: log}

	var (
		points  []*acquisition.Point
		loadErr error
	)
	started := time.Now()
	switch kind {
	case kindSUP:
		f := feeder.NewSupFeeder(data, opts)
		points, loadErr = f.All(), f.Err()
	default:
		d := demux.NewDemuxer(bytes.NewReader(data), demux.Options{
			PID:  uint16(*pid),
			BDAV: kind == kindM2TS,
			Log:  log,
		})
		points, loadErr = acquisition.Collect(d.Source(ctx),
			acquisition.Options{Decode: cfg.Decode, Strict: cfg.Strict, Log: log})
		st := d.Stats()
		log.Info("transport stream read", "packets", st.Packets, "records", st.Records,
			"pids", d.Streams(), "cc_errors", st.ContinuityErrors)
	}
	log.Info("decoded", "points", len(points), "elapsed", time.Since(started))

	var surface *render.Surface
	if *writeFrames {
		surface = render.NewSurface(render.SurfaceConfig{Width: cfg.Width, Height: cfg.Height, Fit: cfg.Fit()})
		defer surface.Destroy()
	}

	enc := json.NewEncoder(out)
	for _, p := range points {
		jp := describe(p)
		if surface != nil {
			if err := surface.Render(p); err != nil {
				return err
			}
			framePath, err := writePNG(*outDir, frameName("", p), surface.Snapshot())
			if err != nil {
				return err
			}
			jp.Frame = framePath
		}
		if err := enc.Encode(jp); err != nil {
			return err
		}
	}
	// A decode failure keeps everything decoded before it; report it after
	// the output.
	if loadErr != nil {
		return fmt.Errorf("%s: %w", path, loadErr)
	}
	return nil
}
