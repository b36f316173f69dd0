// Package bitio reads whole bytes, fixed-layout records, and sub-byte bit
// groups from a byte-oriented source.
package bitio

import (
	"fmt"
	"io"
)

// WireDecoder is a fixed-size record with a declared little-endian wire
// layout. DecodeWire receives exactly WireSize bytes and must decode them
// field by field.
type WireDecoder interface {
	WireSize() int
	DecodeWire(b []byte)
}

// Reader reads from an io.Reader at byte and bit granularity. Bit reads
// leave at most 7 unused bits of the last byte they touched in an internal
// buffer; byte-level reads go straight to the source and leave that buffer
// untouched until AlignToByte or the next ReadBits.
//
// Bits are taken most-significant first.
type Reader struct {
	r     io.Reader
	bits  byte // leftover bits, right-aligned
	nbits uint
	one   [1]byte
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFull fills p from the source. It returns io.EOF if nothing was read
// and io.ErrUnexpectedEOF on a partial read.
func (r *Reader) ReadFull(p []byte) error {
	_, err := io.ReadFull(r.r, p)
	return err
}

// ReadExact reads exactly n bytes into a new slice. On a short read no
// data is returned.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("bitio: negative read length %d", n)
	}
	b := make([]byte, n)
	if err := r.ReadFull(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadTyped reads v.WireSize() bytes and hands them to v.DecodeWire.
func (r *Reader) ReadTyped(v WireDecoder) error {
	b, err := r.ReadExact(v.WireSize())
	if err != nil {
		return err
	}
	v.DecodeWire(b)
	return nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.ReadFull(r.one[:]); err != nil {
		return 0, err
	}
	return r.one[0], nil
}

// ReadBits reads n bits, n <= 64, MSB-first. Buffered leftover bits are
// consumed before any new byte is pulled from the source; the unused low
// bits of the final byte pulled become the new leftover.
func (r *Reader) ReadBits(n uint) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 64 {
		return 0, fmt.Errorf("bitio: cannot read %d bits at once", n)
	}

	if r.nbits >= n {
		r.nbits -= n
		v := uint64(r.bits >> r.nbits)
		r.bits &= lowMask(r.nbits)
		return v, nil
	}

	v := uint64(r.bits)
	need := n - r.nbits
	r.bits, r.nbits = 0, 0

	for need >= 8 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint64(b)
		need -= 8
	}
	if need > 0 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		rest := 8 - need
		v = v<<need | uint64(b>>rest)
		r.bits = b & lowMask(rest)
		r.nbits = rest
	}
	return v, nil
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (bool, error) {
	v, err := r.ReadBits(1)
	return v == 1, err
}

// AlignToByte drops any buffered leftover bits.
func (r *Reader) AlignToByte() {
	r.bits, r.nbits = 0, 0
}

// Buffered returns the number of leftover bits held from the last bit read.
func (r *Reader) Buffered() uint {
	return r.nbits
}

func lowMask(n uint) byte {
	return byte(1<<n - 1)
}
