package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vorbisprobe/ogg"
	"github.com/zsiec/vorbisprobe/vorbis"
)

func buildStream(t *testing.T, granules ...uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	for i, g := range granules {
		pkt := []byte{0x00, byte(i)}
		if i == 0 {
			pkt = vorbis.EncodeIdentification(&vorbis.IdentificationHeader{
				Channels:           2,
				SampleRate:         1000,
				BlocksizeExponents: [2]uint8{8, 11},
				Framing:            true,
			})
		}
		p, err := ogg.NewPage(0, g, 1, uint32(i), pkt)
		require.NoError(t, err)
		buf.Write(p.Encode())
	}
	return buf.Bytes()
}

func TestSplitPages(t *testing.T) {
	data := buildStream(t, 0, ^uint64(0), 500, 2000)
	pages, err := splitPages(data)
	require.NoError(t, err)
	want := []time.Duration{0, 0, 500 * time.Millisecond, 2 * time.Second}
	require.Len(t, pages, len(want))
	var total int
	for i, p := range pages {
		assert.Equal(t, want[i], p.at, "page %d", i)
		total += len(p.data)
	}
	assert.Equal(t, len(data), total, "bytes covered by pages")
}

func TestSplitPagesIgnoresChecksum(t *testing.T) {
	data := buildStream(t, 0, 1000)
	data[len(data)-1] ^= 0xFF
	pages, err := splitPages(data)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestSplitPagesTruncated(t *testing.T) {
	data := buildStream(t, 0, 1000)
	pages, err := splitPages(data[:len(data)-1])
	require.Error(t, err, "truncated page")
	assert.Len(t, pages, 1)

	_, err = splitPages([]byte("not an ogg stream at all, just text"))
	assert.Error(t, err, "data without a capture pattern")
}

func TestPageDelay(t *testing.T) {
	tests := []struct {
		name         string
		due, elapsed time.Duration
		want         time.Duration
	}{
		{"ahead of schedule", 2 * time.Second, 500 * time.Millisecond, 1500 * time.Millisecond},
		{"on time", time.Second, time.Second, 0},
		{"behind schedule", time.Second, 3 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pageDelay(tt.due, tt.elapsed))
		})
	}
}
