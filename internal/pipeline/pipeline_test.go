package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vorbisprobe/decode"
	"github.com/zsiec/vorbisprobe/diag"
	"github.com/zsiec/vorbisprobe/ogg"
	"github.com/zsiec/vorbisprobe/vorbis"
)

func identPacket() []byte {
	return vorbis.EncodeIdentification(&vorbis.IdentificationHeader{
		Channels:           1,
		SampleRate:         8000,
		BlocksizeExponents: [2]uint8{8, 11},
		Framing:            true,
	})
}

func commentsPacket() []byte {
	return vorbis.EncodeComments(&vorbis.CommentsHeader{Vendor: "test", Framing: true})
}

func oggStream(t *testing.T, packets ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	for i, pkt := range packets {
		var flags ogg.HeaderFlags
		if i == 0 {
			flags = ogg.FlagFirstPage
		}
		p, err := ogg.NewPage(flags, uint64(i)*800, 42, uint32(i), pkt)
		require.NoError(t, err)
		buf.Write(p.Encode())
	}
	return buf.Bytes()
}

func TestRunWithEOFReader(t *testing.T) {
	t.Parallel()

	p := New("radio", strings.NewReader(""), nil)
	p.SetProtocol("test")

	assert.NoError(t, p.Run(context.Background()))
	r := p.Report()
	assert.False(t, r.Running, "Running after Run returns")
	assert.Equal(t, decode.StatusOK, r.Status)
	assert.Zero(t, r.Pages)
	assert.Equal(t, "test", r.Protocol)
}

func TestRunValidStream(t *testing.T) {
	t.Parallel()

	data := oggStream(t, identPacket(), commentsPacket(), []byte{0x00, 1, 2}, []byte{0x00, 3})
	p := New("radio", bytes.NewReader(data), nil)
	require.NoError(t, p.Run(context.Background()))

	r := p.Report()
	assert.Equal(t, decode.StatusOK, r.Status)
	require.NotNil(t, r.Identification)
	assert.Equal(t, uint32(8000), r.Identification.SampleRate)
	require.NotNil(t, r.Comments)
	assert.Equal(t, "test", r.Comments.Vendor)
	assert.Equal(t, int64(4), r.Pages)
	assert.Equal(t, int64(2), r.AudioPackets)
	assert.Equal(t, int64(5), r.AudioBytes)
	assert.Equal(t, uint32(42), r.SerialNumber)
	assert.InDelta(t, 0.3, r.DurationSeconds, 1e-9)
	assert.Empty(t, r.OutOfOrder)
	assert.Nil(t, r.Error)
}

func TestRunFatalError(t *testing.T) {
	t.Parallel()

	data := oggStream(t, identPacket(), []byte{5, 'v', 'o', 'r', 'b', 'i', 's'})
	p := New("radio", bytes.NewReader(data), nil)

	err := p.Run(context.Background())
	require.Equal(t, diag.UnsupportedSetupHeader, diag.KindOf(err), "Run error = %v", err)

	r := p.Report()
	assert.Equal(t, decode.StatusFatal, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, diag.UnsupportedSetupHeader, r.Error.Kind)
	assert.NotNil(t, r.Identification, "identification parsed before the failure")

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"unsupported_setup_header"`)
	assert.Contains(t, string(b), `"status":"fatal"`)

	var back Report
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, decode.StatusFatal, back.Status)
	require.NotNil(t, back.Error)
	assert.Equal(t, diag.UnsupportedSetupHeader, back.Error.Kind)
}

func TestReportOutOfOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		packets [][]byte
		want    []string
	}{
		{
			name:    "audio first",
			packets: [][]byte{{0x00}, identPacket()},
			want: []string{
				"page 0: audio packet before identification header",
				"page 1: identification packet after audio",
			},
		},
		{
			name:    "comments first",
			packets: [][]byte{commentsPacket(), identPacket()},
			want: []string{
				"page 0: comments packet before identification header",
				"page 1: identification packet after comments",
			},
		},
		{
			name:    "repeated identification",
			packets: [][]byte{identPacket(), identPacket(), commentsPacket()},
			want:    []string{"page 1: repeated identification header"},
		},
		{
			name:    "audio without comments",
			packets: [][]byte{identPacket(), {0x00}},
			want:    []string{"page 1: audio packet before comments header"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := New("radio", bytes.NewReader(oggStream(t, tc.packets...)), nil)
			require.NoError(t, p.Run(context.Background()))
			r := p.Report()
			assert.Equal(t, tc.want, r.OutOfOrder)
			assert.Equal(t, decode.StatusWarning, r.Status)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	p := New("radio", pr, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	_, err := pw.Write(oggStream(t, identPacket()))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "Run after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
