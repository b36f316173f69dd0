// Command vorbisprobe validates Ogg Vorbis streams.
//
//	vorbisprobe probe [-json] [-mmap] [-concurrency N] [-partition N] SOURCE...
//	vorbisprobe serve
//
// probe checks files, standard input ("-") or files inside disk images
// ("card.img::/MUSIC/A.OGG"), decompressing ".zst" sources. It exits 0 when
// every source is clean, 3 when only warnings were found and 1 on any fatal
// error. serve accepts live streams over SRT and publishes their reports
// over HTTPS and HTTP/3.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vorbisprobe/internal/api"
	"github.com/zsiec/vorbisprobe/internal/certs"
	"github.com/zsiec/vorbisprobe/internal/ingest"
	srtingest "github.com/zsiec/vorbisprobe/internal/ingest/srt"
	"github.com/zsiec/vorbisprobe/internal/pipeline"
	"github.com/zsiec/vorbisprobe/internal/stream"
)

var version = "dev"

const usage = `usage:
  vorbisprobe probe [-json] [-mmap] [-concurrency N] [-partition N] SOURCE...
  vorbisprobe serve
  vorbisprobe version
`

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}
	switch os.Args[1] {
	case "probe":
		os.Exit(runProbe(os.Args[2:], os.Stdout, os.Stderr))
	case "serve":
		if err := serve(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(exitFatal)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}
}

func serve() error {
	cert, err := certs.Generate(certs.DefaultValidity, splitList(os.Getenv("CERT_HOSTS"))...)
	if err != nil {
		return err
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	srtAddr := envOr("SRT_ADDR", ":6000")
	apiAddr := envOr("API_ADDR", ":4444")
	h3Addr := envOr("H3_ADDR", ":4443")

	slog.Info("vorbisprobe starting",
		"version", version,
		"srt", srtAddr,
		"api", apiAddr,
		"h3", h3Addr)

	g, ctx := errgroup.WithContext(ctx)

	// Registry and caller are created after the errgroup so their closures
	// capture the errgroup context and stop when any component fails.
	a := &app{mgr: stream.NewManager(nil)}
	a.registry = ingest.NewRegistry(func(s *ingest.Stream, input io.Reader) {
		a.handleNewStream(ctx, s, input)
	})
	a.caller = srtingest.NewCaller(a.registry, nil)

	apiSrv, err := api.NewServer(api.ServerConfig{
		Addr:    h3Addr,
		Cert:    cert,
		Streams: a.mgr,
		SRTPull: func(req srtingest.PullRequest) error {
			return a.caller.Pull(ctx, req)
		},
		SRTStop:      a.caller.Stop,
		SRTList:      a.caller.ActivePulls,
		IngestLookup: a.lookupIngest,
	})
	if err != nil {
		return err
	}

	srtSrv := srtingest.NewServer(srtAddr, a.registry, nil)
	httpsSrv := &http.Server{
		Addr:              apiAddr,
		Handler:           apiSrv.APIHandler(),
		TLSConfig:         cert.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})
	g.Go(func() error {
		slog.Info("HTTPS API listening", "addr", apiAddr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPS API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpsSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	return g.Wait()
}

type app struct {
	mgr      *stream.Manager
	registry *ingest.Registry
	caller   *srtingest.Caller
}

func (a *app) lookupIngest(key string) *ingest.IngestStats {
	s, ok := a.registry.Get(key)
	if !ok {
		return nil
	}
	stats := s.IngestStats()
	return &stats
}

func (a *app) handleNewStream(ctx context.Context, s *ingest.Stream, input io.Reader) {
	log := slog.With("stream", s.Key)

	st, created := a.mgr.Create(s.Key)
	if !created {
		log.Warn("rejecting duplicate stream")
		io.Copy(io.Discard, input)
		return
	}
	defer a.mgr.Remove(s.Key)

	p := pipeline.New(s.Key, input, nil)
	p.SetProtocol("srt")
	st.SetReporter(p)

	if err := p.Run(ctx); err != nil {
		log.Warn("probe stopped", "error", err)
	}

	// A publisher that is still sending after a fatal error keeps its
	// report visible until it disconnects.
	if ctx.Err() == nil {
		io.Copy(io.Discard, input)
	}
	log.Info("stream ended")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
