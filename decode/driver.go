// Package decode drives page demultiplexing and header dispatch over a
// complete Ogg Vorbis byte stream.
//
// A Decoder yields one Event per page. Decode runs a Decoder to the end of
// its input and collects everything that validated into a Result.
package decode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/vorbisprobe/bitio"
	"github.com/zsiec/vorbisprobe/diag"
	"github.com/zsiec/vorbisprobe/ogg"
	"github.com/zsiec/vorbisprobe/vorbis"
)

// readBufferSize covers a maximum-size page (27 + 255 + 255*255 bytes).
const readBufferSize = 64 << 10

// Event is the outcome of one page. Packet is nil for pages that carry no
// packet data.
type Event struct {
	Page     ogg.PageHeader
	Packet   *vorbis.Packet
	Warnings []diag.Warning
}

// Decoder reads pages from a byte source and dispatches the packet each one
// carries. It holds no cross-packet ordering state; header order is left to
// the caller.
type Decoder struct {
	ctx  context.Context
	log  *slog.Logger
	r    *bitio.Reader
	page ogg.Page

	pages   int
	read    bool
	lastSeq uint32
	err     error
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...func(*Decoder)) *Decoder {
	d := &Decoder{
		ctx: context.Background(),
		r:   bitio.NewReader(bufio.NewReaderSize(r, readBufferSize)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "decoder")
	return d
}

// DecoderOptLogger sets the logger used for per-page debug output.
func DecoderOptLogger(log *slog.Logger) func(*Decoder) {
	return func(d *Decoder) {
		d.log = log
	}
}

// DecoderOptContext makes Next fail with the context's error once ctx is
// done. The check happens between pages; a blocked read is not interrupted.
func DecoderOptContext(ctx context.Context) func(*Decoder) {
	return func(d *Decoder) {
		d.ctx = ctx
	}
}

// Next reads one page and dispatches its packet. It returns io.EOF when the
// input ends cleanly on a page boundary. After any error, every later call
// returns the same error.
func (d *Decoder) Next() (*Event, error) {
	if d.err != nil {
		return nil, d.err
	}
	if err := d.ctx.Err(); err != nil {
		return nil, d.fail(err)
	}

	if err := d.page.ReadFrom(d.r); err != nil {
		if err == io.EOF {
			d.err = io.EOF
			return nil, io.EOF
		}
		return nil, d.fail(err)
	}

	h := d.page.Header
	ev := &Event{Page: h}
	if d.read && h.SequenceNumber != d.lastSeq+1 {
		ev.Warnings = append(ev.Warnings, diag.Warning{
			Code:    diag.WarnPageSequenceGap,
			Message: fmt.Sprintf("page sequence %d follows %d", h.SequenceNumber, d.lastSeq),
		})
	}
	d.read = true
	d.lastSeq = h.SequenceNumber

	d.log.Debug("page",
		"seq", h.SequenceNumber,
		"serial", h.SerialNumber,
		"granule", h.GranulePosition,
		"flags", byte(h.Flags),
		"segments", h.SegmentCount,
		"bytes", len(d.page.Payload))

	if d.page.IsEmpty() && !h.Flags.Continued() {
		d.pages++
		return ev, nil
	}

	data, err := d.page.Packet()
	if err != nil {
		return nil, d.fail(err)
	}
	pkt, err := vorbis.ReadPacket(data)
	if err != nil {
		return nil, d.fail(err)
	}
	ev.Packet = pkt
	ev.Warnings = append(ev.Warnings, pkt.Warnings...)

	d.log.Debug("packet", "seq", h.SequenceNumber, "type", pkt.Type, "warnings", len(pkt.Warnings))
	d.pages++
	return ev, nil
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.log.Debug("decode failed", "pages", d.pages, "kind", diag.KindOf(err), "error", err)
	return err
}

// Pages returns the number of pages Next has returned an Event for. A page
// that fails validation is not counted, matching Result.Pages.
func (d *Decoder) Pages() int {
	return d.pages
}

// Status summarizes a decode outcome.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusFatal:
		return "fatal"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText lets Status appear by name in JSON reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for st := StatusOK; st <= StatusFatal; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("decode: unknown status %q", b)
}

// Result collects everything validated during a decode. When decoding stops
// on a fatal error the Result still holds what came before it.
type Result struct {
	Identification *vorbis.IdentificationHeader `json:"identification,omitempty"`
	Comments       *vorbis.CommentsHeader       `json:"comments,omitempty"`
	SerialNumber   uint32                       `json:"serialNumber"`
	Pages          int                          `json:"pages"`
	AudioPackets   int                          `json:"audioPackets"`
	AudioBytes     int64                        `json:"audioBytes"`
	// GranulePosition is the last granule position that marked a finished
	// packet, in samples.
	GranulePosition uint64              `json:"granulePosition"`
	Sequence        []vorbis.PacketType `json:"sequence,omitempty"`
	Warnings        []diag.Warning      `json:"warnings,omitempty"`
}

// granuleUnset marks a page on which no packet finishes.
const granuleUnset = ^uint64(0)

// Add folds one event into the result.
func (r *Result) Add(ev *Event) {
	if r.Pages == 0 {
		r.SerialNumber = ev.Page.SerialNumber
	}
	r.Pages++
	if g := ev.Page.GranulePosition; g != granuleUnset && g > r.GranulePosition {
		r.GranulePosition = g
	}
	r.Warnings = append(r.Warnings, ev.Warnings...)

	pkt := ev.Packet
	if pkt == nil {
		return
	}
	r.Sequence = append(r.Sequence, pkt.Type)
	switch pkt.Type {
	case vorbis.PacketIdentification:
		if r.Identification == nil {
			r.Identification = pkt.Identification
		}
	case vorbis.PacketComments:
		if r.Comments == nil {
			r.Comments = pkt.Comments
		}
	case vorbis.PacketAudio:
		r.AudioPackets++
		r.AudioBytes += int64(pkt.AudioSize)
	}
}

// Status reports StatusWarning if any warning was collected.
func (r *Result) Status() Status {
	if len(r.Warnings) > 0 {
		return StatusWarning
	}
	return StatusOK
}

// DurationSeconds estimates the stream length from the last granule
// position and the identified sample rate. It returns 0 when either is
// unknown.
func (r *Result) DurationSeconds() float64 {
	if r.Identification == nil || r.Identification.SampleRate == 0 {
		return 0
	}
	return float64(r.GranulePosition) / float64(r.Identification.SampleRate)
}

// StatusOf combines a Result with the error Decode returned for it.
func StatusOf(r *Result, err error) Status {
	if err != nil && !errors.Is(err, io.EOF) {
		return StatusFatal
	}
	return r.Status()
}

// Decode reads r to its end. The returned Result is never nil; the error is
// the fatal condition that stopped decoding, if any.
func Decode(r io.Reader, opts ...func(*Decoder)) (*Result, error) {
	d := NewDecoder(r, opts...)
	res := &Result{}
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Add(ev)
	}
}
