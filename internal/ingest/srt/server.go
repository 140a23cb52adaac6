// Package srt accepts live subtitle feeds over SRT (Secure Reliable
// Transport). Server listens for publishers; Caller dials remote listeners
// and pulls from them. Either way the bytes land in an ingest.Stream.
//
// The SRT stream ID selects the key and framing: "sup/<key>" carries raw
// SUP records, anything else ("live/<key>", "<key>") an MPEG transport
// stream.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/pgs/internal/ingest"
)

// srtReadBufferSize is the read buffer for SRT socket reads: ten 1316-byte
// SRT payloads (7 TS packets each).
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers them with
// the ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr. If log is nil,
// slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start accepts publishers until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key, format := parseStreamID(conn.StreamID())
		s.log.Info("publish", "stream_key", key, "format", format, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, key, format)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, key string, format ingest.InputFormat) {
	defer conn.Close()

	stream, err := s.registry.Register(key, format)
	if err != nil {
		s.log.Warn("publish rejected", "stream_key", key, "error", err)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	copyStream(ctx, conn, stream, s.log)

	stats := stream.Stats()
	s.registry.Unregister(key)
	s.log.Info("connection closed", "stream_key", key,
		"bytes", stats.BytesReceived, "writes", stats.WriteCount,
		"uptime_ms", stats.UptimeMs)
}

// copyStream moves bytes from the socket into the stream until either side
// fails or ctx is done.
func copyStream(ctx context.Context, r io.Reader, stream *ingest.Stream, log *slog.Logger) {
	buf := make([]byte, srtReadBufferSize)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := stream.Write(buf[:n]); werr != nil {
				log.Debug("pipe write error", "stream_key", stream.Key, "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", stream.Key, "error", err)
			}
			return
		}
	}
}

// parseStreamID derives the registry key and framing from an SRT stream ID.
func parseStreamID(streamID string) (string, ingest.InputFormat) {
	format := ingest.FormatMPEGTS
	streamID = strings.TrimPrefix(streamID, "/")
	if rest, ok := strings.CutPrefix(streamID, "sup/"); ok {
		format = ingest.FormatSUP
		streamID = rest
	}
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default", format
	}
	return streamID, format
}
