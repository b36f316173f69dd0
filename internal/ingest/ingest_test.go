package ingest

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, w, err := r.Register("radio", FormatOggVorbis)
	require.NoError(t, err)
	assert.Equal(t, "radio", stream.Key)
	assert.Equal(t, FormatOggVorbis, stream.Format)
	assert.NotNil(t, w)

	got, ok := r.Get("radio")
	require.True(t, ok)
	assert.Same(t, stream, got)
}

func TestRegistryDuplicateKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	_, _, err := r.Register("radio", FormatOggVorbis)
	require.NoError(t, err)
	_, _, err = r.Register("radio", FormatOggVorbis)
	assert.ErrorIs(t, err, ErrStreamActive)
}

func TestRegistryUnregisterClosesPipe(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _, _ := r.Register("radio", FormatOggVorbis)
	r.Unregister(stream)

	_, ok := r.Get("radio")
	require.False(t, ok, "stream still found after Unregister")
	select {
	case <-stream.Done():
	default:
		t.Fatal("Done not closed after Unregister")
	}
	_, err := stream.pr.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	// A second Unregister must not panic on the closed channel.
	assert.NotPanics(t, func() { r.Unregister(stream) })
}

func TestRegistryUnregisterStaleStream(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	old, _, _ := r.Register("radio", FormatOggVorbis)
	r.Unregister(old)
	fresh, _, err := r.Register("radio", FormatOggVorbis)
	require.NoError(t, err)

	r.Unregister(old)
	got, ok := r.Get("radio")
	require.True(t, ok, "unregistering a stale stream removed its replacement")
	assert.Same(t, fresh, got)
}

func TestRegistryHandlerReceivesBytes(t *testing.T) {
	t.Parallel()

	got := make(chan []byte, 1)
	r := NewRegistry(func(s *Stream, input io.Reader) {
		b, _ := io.ReadAll(input)
		got <- b
	})

	stream, w, err := r.Register("radio", FormatOggVorbis)
	require.NoError(t, err)
	_, err = w.Write([]byte("OggS"))
	require.NoError(t, err)
	_, err = w.Write([]byte("more"))
	require.NoError(t, err)
	r.Unregister(stream)

	select {
	case b := <-got:
		assert.Equal(t, "OggSmore", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish within timeout")
	}

	stats := stream.IngestStats()
	assert.Equal(t, int64(8), stats.BytesReceived)
	assert.Equal(t, int64(2), stats.ReadCount)
}

func TestStreamSetRemoteAddr(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	stream, _, _ := r.Register("radio", FormatOggVorbis)
	assert.Empty(t, stream.IngestStats().RemoteAddr)

	stream.SetRemoteAddr("192.168.1.1:5000")
	assert.Equal(t, "192.168.1.1:5000", stream.IngestStats().RemoteAddr)
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	for _, key := range []string{"c", "a", "b"} {
		_, _, err := r.Register(key, FormatOggVorbis)
		require.NoError(t, err, key)
	}
	list := r.List()
	require.Len(t, list, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, list[i].Key)
	}
}

func TestInputFormatString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ogg/vorbis", FormatOggVorbis.String())
	assert.Equal(t, "format(7)", InputFormat(7).String())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "stream-" + string(rune('A'+n%26))
			s, _, err := r.Register(key, FormatOggVorbis)
			r.Get(key)
			r.List()
			if err == nil {
				r.Unregister(s)
			}
		}(i)
	}
	wg.Wait()
}
