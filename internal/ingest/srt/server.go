package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vorbisprobe/internal/ingest"
)

// readChunk is the socket read size. SRT live mode delivers at most 1316
// payload bytes per packet; reading several at once cuts syscalls.
const readChunk = 1316 * 10

// latencyNs is the SRT receiver latency (120ms).
const latencyNs = 120_000_000

// Server accepts SRT publish connections and registers each one as an
// ingest stream.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates a Server listening on addr. A nil log uses slog.Default().
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
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt: listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	// Publishers must name their stream; keys are derived from the ID and
	// an empty one would collide with every other anonymous publisher.
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if streamKey(req.StreamID) == "" {
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
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key := streamKey(conn.StreamID())
	remote := conn.RemoteAddr().String()
	log := s.log.With("stream", key, "remote", remote)

	stream, w, err := s.registry.Register(key, ingest.FormatOggVorbis)
	if err != nil {
		log.Warn("publish refused", "error", err)
		return
	}
	stream.SetRemoteAddr(remote)
	log.Info("publish")

	copyStream(ctx, conn, w, log)

	s.registry.Unregister(stream)
	logClosed(log, stream)
}

// copyStream copies from conn into w until either side fails or ctx ends.
func copyStream(ctx context.Context, conn io.Reader, w io.Writer, log *slog.Logger) {
	buf := make([]byte, readChunk)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Debug("pipe write error", "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "error", err)
			}
			return
		}
	}
}

func logClosed(log *slog.Logger, stream *ingest.Stream) {
	stats := stream.IngestStats()
	log.Info("connection closed",
		"bytes", stats.BytesReceived,
		"reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// streamKey derives a registry key from an SRT stream ID. Both "key" and
// the "#!::r=key,m=publish" access-control form are accepted, with an
// optional leading "/" or "live/".
func streamKey(streamID string) string {
	if rest, ok := strings.CutPrefix(streamID, "#!::"); ok {
		for _, kv := range strings.Split(rest, ",") {
			if v, ok := strings.CutPrefix(kv, "r="); ok {
				return streamKey(v)
			}
		}
		return ""
	}
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	return strings.TrimSuffix(streamID, "/")
}
