package srt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/zsiec/pgs/internal/ingest"
)

func TestParseStreamID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		streamID   string
		wantKey    string
		wantFormat ingest.InputFormat
	}{
		{name: "simple key", streamID: "movie1", wantKey: "movie1", wantFormat: ingest.FormatMPEGTS},
		{name: "leading slash", streamID: "/movie1", wantKey: "movie1", wantFormat: ingest.FormatMPEGTS},
		{name: "live prefix", streamID: "live/movie1", wantKey: "movie1", wantFormat: ingest.FormatMPEGTS},
		{name: "sup prefix", streamID: "sup/movie1", wantKey: "movie1", wantFormat: ingest.FormatSUP},
		{name: "slash and sup prefix", streamID: "/sup/movie1", wantKey: "movie1", wantFormat: ingest.FormatSUP},
		{name: "sup then live", streamID: "sup/live/movie1", wantKey: "movie1", wantFormat: ingest.FormatSUP},
		{name: "empty returns default", streamID: "", wantKey: "default", wantFormat: ingest.FormatMPEGTS},
		{name: "bare sup returns default", streamID: "sup/", wantKey: "default", wantFormat: ingest.FormatSUP},
		{name: "nested path preserved", streamID: "studio/movie1", wantKey: "studio/movie1", wantFormat: ingest.FormatMPEGTS},
		{name: "sup in name preserved", streamID: "superbowl", wantKey: "superbowl", wantFormat: ingest.FormatMPEGTS},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			key, format := parseStreamID(tc.streamID)
			if key != tc.wantKey || format != tc.wantFormat {
				t.Errorf("parseStreamID(%q) = %q, %v; want %q, %v",
					tc.streamID, key, format, tc.wantKey, tc.wantFormat)
			}
		})
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestCopyStream(t *testing.T) {
	t.Parallel()

	got := make(chan []byte, 1)
	r := ingest.NewRegistry(func(_ *ingest.Stream, input io.Reader) {
		b, _ := io.ReadAll(input)
		got <- b
	})
	stream, err := r.Register("k", ingest.FormatSUP)
	if err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("PG"), 10000)
	src := &failingReader{data: payload, err: errors.New("connection reset")}
	copyStream(context.Background(), src, stream, slog.New(slog.DiscardHandler))
	r.Unregister("k")

	if b := <-got; !bytes.Equal(b, payload) {
		t.Fatalf("copied %d bytes, want %d", len(b), len(payload))
	}
	if stream.Stats().BytesReceived != int64(len(payload)) {
		t.Fatalf("BytesReceived = %d", stream.Stats().BytesReceived)
	}
}

func TestPullRequest(t *testing.T) {
	t.Parallel()

	if err := (PullRequest{StreamKey: "k"}).validate(); err == nil {
		t.Error("missing address accepted")
	}
	if err := (PullRequest{Address: "h:1"}).validate(); err == nil {
		t.Error("missing key accepted")
	}

	tests := []struct {
		req  PullRequest
		want string
	}{
		{PullRequest{StreamKey: "k"}, "live/k"},
		{PullRequest{StreamKey: "k", Format: ingest.FormatSUP}, "sup/k"},
		{PullRequest{StreamKey: "k", StreamID: "custom"}, "custom"},
	}
	for _, tc := range tests {
		if got := tc.req.streamID(); got != tc.want {
			t.Errorf("streamID(%+v) = %q, want %q", tc.req, got, tc.want)
		}
		key, _ := parseStreamID(tc.req.streamID())
		if tc.req.StreamID == "" && key != "k" {
			t.Errorf("round trip key = %q", key)
		}
	}
}

func TestCallerStopUnknown(t *testing.T) {
	t.Parallel()

	c := NewCaller(ingest.NewRegistry(nil), nil)
	if err := c.Stop("nope"); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("err = %v", err)
	}
	if len(c.ActivePulls()) != 0 {
		t.Fatal("unexpected active pulls")
	}
}
