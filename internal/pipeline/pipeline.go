// Package pipeline probes a single live stream: it runs the Ogg Vorbis
// decoder over the stream's bytes and keeps a report that can be read while
// decoding is still in progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/vorbisprobe/decode"
	"github.com/zsiec/vorbisprobe/diag"
	"github.com/zsiec/vorbisprobe/vorbis"
)

// ErrorReport describes the fatal error that stopped decoding.
type ErrorReport struct {
	Kind    diag.Kind `json:"kind"`
	Message string    `json:"message"`
}

// Report is a point-in-time view of a stream's probe results.
type Report struct {
	Stream          string                       `json:"stream"`
	Protocol        string                       `json:"protocol,omitempty"`
	Status          decode.Status                `json:"status"`
	Running         bool                         `json:"running"`
	StartedAt       int64                        `json:"startedAt"`
	UptimeMs        int64                        `json:"uptimeMs"`
	SerialNumber    uint32                       `json:"serialNumber"`
	Identification  *vorbis.IdentificationHeader `json:"identification,omitempty"`
	Comments        *vorbis.CommentsHeader       `json:"comments,omitempty"`
	Pages           int64                        `json:"pages"`
	AudioPackets    int64                        `json:"audioPackets"`
	AudioBytes      int64                        `json:"audioBytes"`
	GranulePosition uint64                       `json:"granulePosition"`
	DurationSeconds float64                      `json:"durationSeconds"`
	Warnings        []diag.Warning               `json:"warnings,omitempty"`
	// OutOfOrder lists header ordering irregularities. The decoder accepts
	// packets in any order, so these never stop a probe.
	OutOfOrder []string     `json:"outOfOrder,omitempty"`
	Error      *ErrorReport `json:"error,omitempty"`
}

// Pipeline runs the decoder for one stream.
type Pipeline struct {
	log       *slog.Logger
	streamKey string
	input     io.Reader
	protocol  string
	startTime time.Time

	running      atomic.Bool
	pages        atomic.Int64
	audioPackets atomic.Int64
	audioBytes   atomic.Int64

	mu         sync.Mutex
	result     decode.Result
	outOfOrder []string
	lastRank   int
	err        error
}

// New creates a Pipeline that decodes input. A nil log uses slog.Default().
func New(streamKey string, input io.Reader, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline", "stream", streamKey),
		streamKey: streamKey,
		input:     input,
		startTime: time.Now(),
	}
}

// SetProtocol records the ingest protocol name, e.g. "srt".
func (p *Pipeline) SetProtocol(proto string) {
	p.protocol = proto
}

// Run decodes until the input ends, a fatal error occurs, or ctx is
// cancelled. It returns the fatal decode error, if any. Cancellation is not
// an error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	done := make(chan error, 1)
	go func() {
		done <- p.decode(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (p *Pipeline) decode(ctx context.Context) error {
	d := decode.NewDecoder(p.input,
		decode.DecoderOptLogger(p.log),
		decode.DecoderOptContext(ctx))

	for {
		ev, err := d.Next()
		if err == io.EOF {
			p.log.Info("stream ended", "pages", p.pages.Load())
			return nil
		}
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			p.log.Warn("decode failed", "kind", diag.KindOf(err), "error", err)
			return err
		}
		p.observe(ev)
	}
}

// headerRank orders packet types the way a well-formed stream sends them.
func headerRank(t vorbis.PacketType) int {
	switch t {
	case vorbis.PacketIdentification:
		return 1
	case vorbis.PacketComments:
		return 2
	case vorbis.PacketSetup:
		return 3
	}
	return 4
}

func (p *Pipeline) observe(ev *decode.Event) {
	p.pages.Add(1)
	if pkt := ev.Packet; pkt != nil && pkt.Type == vorbis.PacketAudio {
		p.audioPackets.Add(1)
		p.audioBytes.Add(int64(pkt.AudioSize))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Add(ev)
	for _, w := range ev.Warnings {
		p.log.Debug("warning", "code", w.Code, "message", w.Message)
	}

	pkt := ev.Packet
	if pkt == nil {
		return
	}
	rank := headerRank(pkt.Type)
	switch {
	case rank < p.lastRank:
		p.outOfOrder = append(p.outOfOrder,
			fmt.Sprintf("page %d: %s packet after %s", ev.Page.SequenceNumber, pkt.Type, rankName(p.lastRank)))
	case rank == p.lastRank && rank < 4:
		p.outOfOrder = append(p.outOfOrder,
			fmt.Sprintf("page %d: repeated %s header", ev.Page.SequenceNumber, pkt.Type))
	case rank > 1 && p.lastRank < 1:
		p.outOfOrder = append(p.outOfOrder,
			fmt.Sprintf("page %d: %s packet before identification header", ev.Page.SequenceNumber, pkt.Type))
	case rank == 4 && p.lastRank < 2:
		p.outOfOrder = append(p.outOfOrder,
			fmt.Sprintf("page %d: audio packet before comments header", ev.Page.SequenceNumber))
	}
	if rank > p.lastRank {
		p.lastRank = rank
	}
}

func rankName(rank int) string {
	switch rank {
	case 1:
		return vorbis.PacketIdentification.String()
	case 2:
		return vorbis.PacketComments.String()
	case 3:
		return vorbis.PacketSetup.String()
	}
	return vorbis.PacketAudio.String()
}

// Report returns a snapshot of the probe results so far.
func (p *Pipeline) Report() Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := Report{
		Stream:          p.streamKey,
		Protocol:        p.protocol,
		Running:         p.running.Load(),
		StartedAt:       p.startTime.UnixMilli(),
		UptimeMs:        time.Since(p.startTime).Milliseconds(),
		SerialNumber:    p.result.SerialNumber,
		Identification:  p.result.Identification,
		Comments:        p.result.Comments,
		Pages:           p.pages.Load(),
		AudioPackets:    p.audioPackets.Load(),
		AudioBytes:      p.audioBytes.Load(),
		GranulePosition: p.result.GranulePosition,
		DurationSeconds: p.result.DurationSeconds(),
		Warnings:        append([]diag.Warning(nil), p.result.Warnings...),
		OutOfOrder:      append([]string(nil), p.outOfOrder...),
		Status:          decode.StatusOf(&p.result, p.err),
	}
	if p.err != nil {
		r.Error = &ErrorReport{Kind: diag.KindOf(p.err), Message: p.err.Error()}
	}
	if r.Status == decode.StatusOK && len(r.OutOfOrder) > 0 {
		r.Status = decode.StatusWarning
	}
	return r
}
