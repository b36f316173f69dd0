package vorbis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/vorbisprobe/bitio"
	"github.com/zsiec/vorbisprobe/diag"
)

// Packet is the result of dispatching one packet. Exactly one of
// Identification and Comments is set for header packets; audio packets
// only carry their size.
type Packet struct {
	Type           PacketType            `json:"type"`
	Identification *IdentificationHeader `json:"identification,omitempty"`
	Comments       *CommentsHeader       `json:"comments,omitempty"`
	AudioSize      int                   `json:"audioSize,omitempty"`
	Warnings       []diag.Warning        `json:"warnings,omitempty"`
}

// ReadPacket identifies data by its type byte and parses it. Identification
// header violations and setup headers are fatal; comments header
// irregularities are returned as warnings on the Packet.
func ReadPacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return &Packet{Type: PacketAudio}, nil
	}
	src := bytes.NewReader(data)
	r := bitio.NewReader(src)

	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	typ := PacketType(b)

	switch {
	case typ == PacketIdentification:
		h, err := readIdentification(r)
		if err != nil {
			return nil, err
		}
		return &Packet{Type: typ, Identification: h}, nil

	case typ == PacketComments:
		c, warnings, err := readComments(r, src)
		if err != nil {
			return nil, err
		}
		return &Packet{Type: typ, Comments: c, Warnings: warnings}, nil

	case typ == PacketSetup:
		return nil, &diag.Error{Kind: diag.UnsupportedSetupHeader, Op: "vorbis: setup header"}

	case b&0x01 == 0:
		// Audio packets are marked by a clear low bit; the remaining bits
		// belong to the audio payload.
		return &Packet{Type: PacketAudio, AudioSize: len(data)}, nil
	}
	return nil, diag.Errorf(diag.InvalidPacketType, "vorbis: read packet", "type byte 0x%02X", b)
}

func readMagic(r *bitio.Reader, op string) error {
	magic, err := r.ReadExact(len(Magic))
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return diag.Errorf(diag.InvalidSignature, op, "packet too short for %q", Magic)
		}
		return err
	}
	if string(magic) != Magic {
		return diag.Errorf(diag.InvalidSignature, op, "magic %q", magic)
	}
	return nil
}

func readIdentification(r *bitio.Reader) (*IdentificationHeader, error) {
	const op = "vorbis: identification header"
	if err := readMagic(r, op); err != nil {
		return nil, err
	}
	h := &IdentificationHeader{}
	if err := r.ReadTyped(h); err != nil {
		return nil, &diag.Error{Kind: diag.IO, Op: op, Err: eofIsUnexpected(err)}
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// readComments parses the comments header. src is the reader's underlying
// source and bounds every length field, so a corrupt length ends parsing
// with a truncation warning instead of a huge allocation.
func readComments(r *bitio.Reader, src *bytes.Reader) (*CommentsHeader, []diag.Warning, error) {
	if err := readMagic(r, "vorbis: comments header"); err != nil {
		return nil, nil, err
	}

	c := &CommentsHeader{}
	truncated := func(what string) (*CommentsHeader, []diag.Warning, error) {
		return c, []diag.Warning{{
			Code:    diag.WarnTruncatedComments,
			Message: fmt.Sprintf("packet ends inside %s", what),
		}}, nil
	}

	vendor, ok := readString(r, src)
	if !ok {
		return truncated("vendor string")
	}
	c.Vendor = vendor

	var countBuf [4]byte
	if r.ReadFull(countBuf[:]) != nil {
		return truncated("comment count")
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	// Every comment needs at least its 4-byte length.
	if int64(count)*4 <= int64(src.Len()) {
		c.Comments = make([]string, 0, count)
	}
	for i := uint32(0); i < count; i++ {
		comment, ok := readString(r, src)
		if !ok {
			return truncated(fmt.Sprintf("comment %d of %d", i+1, count))
		}
		c.Comments = append(c.Comments, comment)
	}

	framing, err := r.ReadByte()
	if err != nil {
		return truncated("framing bit")
	}
	c.Framing = framing&0x01 != 0
	if !c.Framing {
		return c, []diag.Warning{{
			Code:    diag.WarnZeroFramingBit,
			Message: "comments header framing bit is unset",
		}}, nil
	}
	return c, nil, nil
}

func readString(r *bitio.Reader, src *bytes.Reader) (string, bool) {
	var lenBuf [4]byte
	if r.ReadFull(lenBuf[:]) != nil {
		return "", false
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int64(n) > int64(src.Len()) {
		return "", false
	}
	b, err := r.ReadExact(int(n))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// EncodeIdentification builds a complete identification header packet.
func EncodeIdentification(h *IdentificationHeader) []byte {
	b := make([]byte, 0, 1+len(Magic)+identificationSize)
	b = append(b, byte(PacketIdentification))
	b = append(b, Magic...)
	return h.AppendWire(b)
}

// EncodeComments builds a complete comments header packet.
func EncodeComments(c *CommentsHeader) []byte {
	size := 1 + len(Magic) + 4 + len(c.Vendor) + 4 + 1
	for _, comment := range c.Comments {
		size += 4 + len(comment)
	}
	b := make([]byte, 0, size)
	b = append(b, byte(PacketComments))
	b = append(b, Magic...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(c.Vendor)))
	b = append(b, c.Vendor...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(c.Comments)))
	for _, comment := range c.Comments {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(comment)))
		b = append(b, comment...)
	}
	var framing byte
	if c.Framing {
		framing = 1
	}
	return append(b, framing)
}
