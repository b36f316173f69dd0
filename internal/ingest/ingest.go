// Package ingest tracks live byte streams arriving over the network and
// hands each one, as an io.Reader, to whatever probes it.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// InputFormat identifies the container format of an ingested stream.
type InputFormat int

const (
	FormatOggVorbis InputFormat = iota
)

func (f InputFormat) String() string {
	switch f {
	case FormatOggVorbis:
		return "ogg/vorbis"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// MarshalText lets InputFormat appear by name in JSON.
func (f InputFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ErrStreamActive is returned by Register when the key is already in use.
var ErrStreamActive = errors.New("ingest: stream key already active")

// IngestStats is a snapshot of a stream's connection counters.
type IngestStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream is one live ingest connection. Writes go through an in-memory
// pipe to the reader handed to the registry's handler, so a slow consumer
// applies back-pressure to the network reader.
type Stream struct {
	Key       string
	StartedAt time.Time
	Format    InputFormat

	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Pointer[string]
}

// Write forwards p to the stream's reader and counts it as one network read.
func (s *Stream) Write(p []byte) (int, error) {
	s.RecordRead(len(p))
	return s.pw.Write(p)
}

// RecordRead counts one network read of n bytes.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr records the peer address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(&addr)
}

// Done is closed once the stream has been unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IngestStats returns the current connection counters.
func (s *Stream) IngestStats() IngestStats {
	var addr string
	if p := s.remoteAddr.Load(); p != nil {
		addr = *p
	}
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

func (s *Stream) close() {
	s.once.Do(func() {
		s.pw.Close()
		close(s.done)
	})
}

// Handler receives each newly registered stream together with the reader
// carrying its bytes.
type Handler func(s *Stream, input io.Reader)

// Registry tracks active streams by key. It is where the network ingest
// layer meets the probe pipeline.
type Registry struct {
	mu       sync.RWMutex
	streams  map[string]*Stream
	onStream Handler
}

// NewRegistry creates a Registry. onStream, if non-nil, is run in its own
// goroutine for every registered stream.
func NewRegistry(onStream Handler) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register adds a stream under key and returns it together with the writer
// the network reader should copy into.
func (r *Registry) Register(key string, format InputFormat) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()
	s := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		pr:        pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.streams[key]; exists {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrStreamActive, key)
	}
	r.streams[key] = s
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(s, pr)
	}
	return s, s, nil
}

// Unregister removes s, closing its pipe so the reader sees io.EOF. It is a
// no-op if s is no longer the registered stream for its key.
func (r *Registry) Unregister(s *Stream) {
	r.mu.Lock()
	if cur, ok := r.streams[s.Key]; ok && cur == s {
		delete(r.streams, s.Key)
	}
	r.mu.Unlock()
	s.close()
}

// Get returns the stream registered under key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns the active streams ordered by key.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
