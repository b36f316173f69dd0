package ogg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/vorbisprobe/bitio"
	"github.com/zsiec/vorbisprobe/diag"
)

const (
	// HeaderSize is the fixed part of a page header, before the segment table.
	HeaderSize = 27

	// MaxSegments is the largest segment table a page can carry.
	MaxSegments = 255

	checksumOffset = 22
)

// CapturePattern is the magic that starts every page.
var CapturePattern = [4]byte{'O', 'g', 'g', 'S'}

// HeaderFlags is the page header type byte.
type HeaderFlags byte

const (
	// FlagContinued marks a page whose first packet began on an earlier page.
	FlagContinued HeaderFlags = 0x01
	// FlagFirstPage marks the first page of a logical bitstream.
	FlagFirstPage HeaderFlags = 0x02
	// FlagLastPage marks the last page of a logical bitstream.
	FlagLastPage HeaderFlags = 0x04
)

// Continued reports whether FlagContinued is set.
func (f HeaderFlags) Continued() bool { return f&FlagContinued != 0 }

// FirstPage reports whether FlagFirstPage is set.
func (f HeaderFlags) FirstPage() bool { return f&FlagFirstPage != 0 }

// LastPage reports whether FlagLastPage is set.
func (f HeaderFlags) LastPage() bool { return f&FlagLastPage != 0 }

// PageHeader is the fixed 27-byte page header.
type PageHeader struct {
	Magic           [4]byte
	Version         uint8
	Flags           HeaderFlags
	GranulePosition uint64
	SerialNumber    uint32
	SequenceNumber  uint32
	Checksum        uint32
	SegmentCount    uint8
}

// WireSize implements bitio.WireDecoder.
func (h *PageHeader) WireSize() int { return HeaderSize }

// DecodeWire implements bitio.WireDecoder.
func (h *PageHeader) DecodeWire(b []byte) {
	copy(h.Magic[:], b[0:4])
	h.Version = b[4]
	h.Flags = HeaderFlags(b[5])
	h.GranulePosition = binary.LittleEndian.Uint64(b[6:14])
	h.SerialNumber = binary.LittleEndian.Uint32(b[14:18])
	h.SequenceNumber = binary.LittleEndian.Uint32(b[18:22])
	h.Checksum = binary.LittleEndian.Uint32(b[22:26])
	h.SegmentCount = b[26]
}

// AppendWire appends the 27-byte wire form of h to b.
func (h *PageHeader) AppendWire(b []byte) []byte {
	b = append(b, h.Magic[:]...)
	b = append(b, h.Version, byte(h.Flags))
	b = binary.LittleEndian.AppendUint64(b, h.GranulePosition)
	b = binary.LittleEndian.AppendUint32(b, h.SerialNumber)
	b = binary.LittleEndian.AppendUint32(b, h.SequenceNumber)
	b = binary.LittleEndian.AppendUint32(b, h.Checksum)
	return append(b, h.SegmentCount)
}

// Page is one physical Ogg page.
type Page struct {
	Header   PageHeader
	Segments []byte
	Payload  []byte
}

// ReadPage reads and validates the next page from r.
//
// A clean end of input before the first header byte is returned as io.EOF.
// Any other short read is an I/O error.
func ReadPage(r *bitio.Reader) (*Page, error) {
	p := &Page{}
	if err := p.ReadFrom(r); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadFrom reads the next page from r into p, reusing p's segment and
// payload storage when it is large enough.
func (p *Page) ReadFrom(r *bitio.Reader) error {
	const op = "ogg: read page"

	if err := r.ReadTyped(&p.Header); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%s: header: %w", op, err)
	}
	h := &p.Header
	if h.Magic != CapturePattern {
		return diag.Errorf(diag.InvalidSignature, op, "capture pattern %q", h.Magic[:])
	}
	if h.Version != 0 {
		return diag.Errorf(diag.UnsupportedVersion, op, "stream structure version %d", h.Version)
	}

	p.Segments = resize(p.Segments, int(h.SegmentCount))
	if err := r.ReadFull(p.Segments); err != nil {
		return fmt.Errorf("%s: segment table: %w", op, eofIsUnexpected(err))
	}

	size := 0
	for _, lv := range p.Segments {
		size += int(lv)
	}
	p.Payload = resize(p.Payload, size)
	if err := r.ReadFull(p.Payload); err != nil {
		return fmt.Errorf("%s: payload: %w", op, eofIsUnexpected(err))
	}

	if crc := p.ComputeChecksum(); crc != h.Checksum {
		return diag.Errorf(diag.CRCMismatch, op, "page %d: stored 0x%08X, computed 0x%08X",
			h.SequenceNumber, h.Checksum, crc)
	}
	return nil
}

// ComputeChecksum returns the CRC of the page as it would be written, with
// the header's checksum field zeroed.
func (p *Page) ComputeChecksum() uint32 {
	h := p.Header
	h.Checksum = 0
	var buf [HeaderSize]byte
	crc := Checksum(h.AppendWire(buf[:0]))
	crc = ChecksumUpdate(crc, p.Segments)
	return ChecksumUpdate(crc, p.Payload)
}

// PacketCount returns the number of packets that end on this page.
func (p *Page) PacketCount() int {
	n := 0
	for _, lv := range p.Segments {
		if lv < 255 {
			n++
		}
	}
	return n
}

// Packet returns the payload as a single packet. It fails unless the page
// holds exactly one packet that both starts and ends on it.
func (p *Page) Packet() ([]byte, error) {
	const op = "ogg: page packet"
	if p.Header.Flags.Continued() {
		return nil, diag.Errorf(diag.UnsupportedContinuedOrMultiPacketPage, op,
			"page %d continues a packet from an earlier page", p.Header.SequenceNumber)
	}
	if n := len(p.Segments); n > 0 && p.Segments[n-1] == 255 {
		return nil, diag.Errorf(diag.UnsupportedContinuedOrMultiPacketPage, op,
			"page %d ends with a packet that continues on the next page", p.Header.SequenceNumber)
	}
	if n := p.PacketCount(); n != 1 {
		return nil, diag.Errorf(diag.UnsupportedContinuedOrMultiPacketPage, op,
			"page %d holds %d packets", p.Header.SequenceNumber, n)
	}
	return p.Payload, nil
}

// IsEmpty reports whether the page carries no packet data at all.
func (p *Page) IsEmpty() bool {
	return len(p.Segments) == 0
}

// Encode serializes the page, filling in Magic, SegmentCount and a freshly
// computed checksum.
func (p *Page) Encode() []byte {
	p.Header.Magic = CapturePattern
	p.Header.SegmentCount = uint8(len(p.Segments))
	p.Header.Checksum = p.ComputeChecksum()

	out := make([]byte, 0, HeaderSize+len(p.Segments)+len(p.Payload))
	out = p.Header.AppendWire(out)
	out = append(out, p.Segments...)
	return append(out, p.Payload...)
}

// NewPage builds a page carrying a single complete packet. Packets longer
// than 255*255-1 bytes do not fit one page and are rejected.
func NewPage(flags HeaderFlags, granule uint64, serial, sequence uint32, packet []byte) (*Page, error) {
	segments := BuildSegmentTable(len(packet))
	if len(segments) > MaxSegments {
		return nil, fmt.Errorf("ogg: packet of %d bytes needs %d segments", len(packet), len(segments))
	}
	return &Page{
		Header: PageHeader{
			Magic:           CapturePattern,
			Flags:           flags,
			GranulePosition: granule,
			SerialNumber:    serial,
			SequenceNumber:  sequence,
			SegmentCount:    uint8(len(segments)),
		},
		Segments: segments,
		Payload:  packet,
	}, nil
}

// BuildSegmentTable returns the lacing values for one packet of n bytes.
// A packet whose length is a multiple of 255 gets a trailing 0 entry.
func BuildSegmentTable(n int) []byte {
	segments := make([]byte, n/255+1)
	for i := 0; i < n/255; i++ {
		segments[i] = 255
	}
	segments[len(segments)-1] = byte(n % 255)
	return segments
}

func resize(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
