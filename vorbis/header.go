// Package vorbis identifies Vorbis packets and parses the identification
// and comments headers.
//
// Setup headers are recognized but not decoded, and audio packets are only
// measured; sample reconstruction lives outside this package.
package vorbis

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zsiec/vorbisprobe/diag"
)

// PacketType is the first byte of a Vorbis packet.
type PacketType uint8

const (
	PacketAudio          PacketType = 0
	PacketIdentification PacketType = 1
	PacketComments       PacketType = 3
	PacketSetup          PacketType = 5
)

func (t PacketType) String() string {
	switch t {
	case PacketAudio:
		return "audio"
	case PacketIdentification:
		return "identification"
	case PacketComments:
		return "comments"
	case PacketSetup:
		return "setup"
	}
	return fmt.Sprintf("packet_type(%d)", uint8(t))
}

// MarshalText lets PacketType appear by name in JSON reports.
func (t PacketType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names written by MarshalText for the four
// known packet types.
func (t *PacketType) UnmarshalText(b []byte) error {
	for _, pt := range []PacketType{PacketAudio, PacketIdentification, PacketComments, PacketSetup} {
		if pt.String() == string(b) {
			*t = pt
			return nil
		}
	}
	return fmt.Errorf("vorbis: unknown packet type %q", b)
}

// Magic follows the type byte of every header packet.
const Magic = "vorbis"

// identificationSize is the fixed part of the identification header after
// the type byte and magic.
const identificationSize = 23

// IdentificationHeader describes the stream's audio format.
type IdentificationHeader struct {
	Version    uint32 `json:"version"`
	Channels   uint8  `json:"channels"`
	SampleRate uint32 `json:"sampleRate"`
	// Bitrate hints in bits per second; 0 means unset.
	BitrateMaximum int32 `json:"bitrateMaximum"`
	BitrateNominal int32 `json:"bitrateNominal"`
	BitrateMinimum int32 `json:"bitrateMinimum"`
	// BlocksizeExponents holds the short and long transform block size
	// exponents, in that order.
	BlocksizeExponents [2]uint8 `json:"blocksizeExponents"`
	Framing            bool     `json:"framing"`
}

// WireSize implements bitio.WireDecoder.
func (h *IdentificationHeader) WireSize() int { return identificationSize }

// DecodeWire implements bitio.WireDecoder. The blocksize byte packs the
// short exponent in its low nibble and the long exponent in its high nibble.
func (h *IdentificationHeader) DecodeWire(b []byte) {
	h.Version = binary.LittleEndian.Uint32(b[0:4])
	h.Channels = b[4]
	h.SampleRate = binary.LittleEndian.Uint32(b[5:9])
	h.BitrateMaximum = int32(binary.LittleEndian.Uint32(b[9:13]))
	h.BitrateNominal = int32(binary.LittleEndian.Uint32(b[13:17]))
	h.BitrateMinimum = int32(binary.LittleEndian.Uint32(b[17:21]))
	h.BlocksizeExponents[0] = b[21] & 0x0F
	h.BlocksizeExponents[1] = b[21] >> 4
	h.Framing = b[22]&0x01 != 0
}

// AppendWire appends the 23-byte wire form of h to b.
func (h *IdentificationHeader) AppendWire(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Version)
	b = append(b, h.Channels)
	b = binary.LittleEndian.AppendUint32(b, h.SampleRate)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.BitrateMaximum))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.BitrateNominal))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.BitrateMinimum))
	b = append(b, h.BlocksizeExponents[0]&0x0F|h.BlocksizeExponents[1]<<4)
	var framing byte
	if h.Framing {
		framing = 1
	}
	return append(b, framing)
}

// Blocksizes returns the short and long block sizes in samples.
func (h *IdentificationHeader) Blocksizes() (short, long int) {
	return 1 << h.BlocksizeExponents[0], 1 << h.BlocksizeExponents[1]
}

// Validate checks the header fields in a fixed order and reports the first
// violation.
func (h *IdentificationHeader) Validate() error {
	const op = "vorbis: identification header"
	switch {
	case h.Version != 0:
		return diag.Errorf(diag.UnsupportedVersion, op, "version %d", h.Version)
	case h.Channels == 0:
		return &diag.Error{Kind: diag.InvalidChannels, Op: op}
	case h.SampleRate == 0:
		return &diag.Error{Kind: diag.InvalidSampleRate, Op: op}
	case h.BlocksizeExponents[0] > h.BlocksizeExponents[1]:
		return diag.Errorf(diag.InvalidBlocksize, op, "short exponent %d exceeds long exponent %d",
			h.BlocksizeExponents[0], h.BlocksizeExponents[1])
	case !h.Framing:
		return &diag.Error{Kind: diag.ZeroFramingBit, Op: op}
	}
	return nil
}

// CommentsHeader carries the vendor string and user comments.
type CommentsHeader struct {
	Vendor   string   `json:"vendor"`
	Comments []string `json:"comments"`
	Framing  bool     `json:"framing"`
}

// Get returns the values of every FIELD=value comment whose field name
// matches name, ignoring case.
func (c *CommentsHeader) Get(name string) []string {
	var out []string
	for _, comment := range c.Comments {
		field, value, ok := strings.Cut(comment, "=")
		if ok && strings.EqualFold(field, name) {
			out = append(out, value)
		}
	}
	return out
}
