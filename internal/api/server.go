// Package api serves probe reports as JSON over HTTPS and HTTP/3.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/vorbisprobe/decode"
	"github.com/zsiec/vorbisprobe/diag"
	"github.com/zsiec/vorbisprobe/internal/certs"
	"github.com/zsiec/vorbisprobe/internal/ingest"
	srtingest "github.com/zsiec/vorbisprobe/internal/ingest/srt"
	"github.com/zsiec/vorbisprobe/internal/pipeline"
	"github.com/zsiec/vorbisprobe/internal/stream"
)

// maxProbeBody caps the size of an uploaded stream on POST /api/probe.
const maxProbeBody = 64 << 20

// StreamSummary is one entry of GET /api/streams.
type StreamSummary struct {
	Key        string        `json:"key"`
	Status     decode.Status `json:"status"`
	Running    bool          `json:"running"`
	Protocol   string        `json:"protocol,omitempty"`
	Channels   uint8         `json:"channels,omitempty"`
	SampleRate uint32        `json:"sampleRate,omitempty"`
	Vendor     string        `json:"vendor,omitempty"`
	Pages      int64         `json:"pages"`
	Warnings   int           `json:"warnings"`
	UptimeMs   int64         `json:"uptimeMs"`
}

// StreamDetail is the response of GET /api/streams/{key}.
type StreamDetail struct {
	Report pipeline.Report     `json:"report"`
	Ingest *ingest.IngestStats `json:"ingest,omitempty"`
}

// ProbeResponse is the response of POST /api/probe.
type ProbeResponse struct {
	Status decode.Status         `json:"status"`
	Result *decode.Result        `json:"result"`
	Error  *pipeline.ErrorReport `json:"error,omitempty"`
}

// ServerConfig configures a Server. Streams and Cert are required; the
// ingest and SRT hooks are optional.
type ServerConfig struct {
	// Addr is the UDP address Start serves HTTP/3 on.
	Addr         string
	Cert         *certs.CertInfo
	Streams      *stream.Manager
	IngestLookup func(key string) *ingest.IngestStats
	SRTPull      func(req srtingest.PullRequest) error
	SRTStop      func(streamKey string) error
	SRTList      func() []srtingest.PullRequest
	Log          *slog.Logger
}

// Server serves the report API.
type Server struct {
	config ServerConfig
	log    *slog.Logger
	h3     *http3.Server
}

// NewServer validates config and creates a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if config.Streams == nil {
		return nil, errors.New("api: Streams is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config: config,
		log:    log.With("component", "api"),
	}, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("GET /api/streams/{key}", s.handleStream)
	mux.HandleFunc("POST /api/probe", s.handleProbe)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	mux.HandleFunc("OPTIONS /api/srt-pull", s.handleSRTPullOptions)
}

// APIHandler returns the API routes for serving over HTTPS.
func (s *Server) APIHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

// Start serves the API over HTTP/3 on config.Addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.h3 = &http3.Server{
		Addr:      s.config.Addr,
		Handler:   corsMiddleware(mux),
		TLSConfig: s.config.Cert.TLSConfig(),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
			Allow0RTT:      true,
		},
	}
	s.log.Info("HTTP/3 API listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func summarize(r pipeline.Report) StreamSummary {
	sum := StreamSummary{
		Key:      r.Stream,
		Status:   r.Status,
		Running:  r.Running,
		Protocol: r.Protocol,
		Pages:    r.Pages,
		Warnings: len(r.Warnings) + len(r.OutOfOrder),
		UptimeMs: r.UptimeMs,
	}
	if id := r.Identification; id != nil {
		sum.Channels = id.Channels
		sum.SampleRate = id.SampleRate
	}
	if c := r.Comments; c != nil {
		sum.Vendor = c.Vendor
	}
	return sum
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	streams := s.config.Streams.List()
	out := make([]StreamSummary, 0, len(streams))
	for _, st := range streams {
		out = append(out, summarize(st.Report()))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	st, ok := s.config.Streams.Get(key)
	if !ok {
		s.writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	detail := StreamDetail{Report: st.Report()}
	if s.config.IngestLookup != nil {
		detail.Ingest = s.config.IngestLookup(key)
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxProbeBody)
	res, err := decode.Decode(body,
		decode.DecoderOptLogger(s.log),
		decode.DecoderOptContext(r.Context()))

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	resp := ProbeResponse{Status: decode.StatusOf(res, err), Result: res}
	if err != nil {
		resp.Error = &pipeline.ErrorReport{Kind: diag.KindOf(err), Message: err.Error()}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type certHashResponse struct {
	Hash     string `json:"hash"`
	Addr     string `json:"addr"`
	NotAfter string `json:"notAfter"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, certHashResponse{
		Hash:     s.config.Cert.FingerprintBase64(),
		Addr:     s.config.Addr,
		NotAfter: s.config.Cert.NotAfter.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSRTPullOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// SECURITY: the pull endpoint dials arbitrary addresses. Expose it to
// trusted operators only.
func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	pulls := []srtingest.PullRequest{}
	if s.config.SRTList != nil {
		pulls = append(pulls, s.config.SRTList()...)
	}
	s.writeJSON(w, http.StatusOK, pulls)
}

func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTPull == nil {
		s.writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req srtingest.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.config.SRTPull(req); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTStop == nil {
		s.writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	key := r.URL.Query().Get("streamKey")
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := s.config.SRTStop(key); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": key})
}
