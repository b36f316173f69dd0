// Package stream tracks the live streams being probed and gives the API a
// way to reach each one's report.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/vorbisprobe/internal/pipeline"
)

// Reporter produces a stream's current probe report.
type Reporter interface {
	Report() pipeline.Report
}

// Stream is one live stream under probe.
type Stream struct {
	Key       string
	StartedAt time.Time
	done      chan struct{}

	mu       sync.RWMutex
	reporter Reporter
}

// SetReporter attaches the source of the stream's report.
func (s *Stream) SetReporter(r Reporter) {
	s.mu.Lock()
	s.reporter = r
	s.mu.Unlock()
}

// Reporter returns the attached Reporter, or nil before one is set.
func (s *Stream) Reporter() Reporter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reporter
}

// Report returns the stream's report. Before a Reporter is attached it
// only names the stream.
func (s *Stream) Report() pipeline.Report {
	if r := s.Reporter(); r != nil {
		return r.Report()
	}
	return pipeline.Report{
		Stream:    s.Key,
		StartedAt: s.StartedAt.UnixMilli(),
		UptimeMs:  time.Since(s.StartedAt).Milliseconds(),
	}
}

// Done is closed when the stream is removed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Manager tracks active streams by key.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a Manager. A nil log uses slog.Default().
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create adds a stream under key. It returns false, and no stream, if the
// key is taken.
func (m *Manager) Create(key string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("duplicate stream rejected", "stream", key)
		return nil, false
	}
	s := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.streams[key] = s
	m.log.Info("stream created", "stream", key)
	return s, true
}

// Remove drops the stream under key and closes its Done channel.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	delete(m.streams, key)
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "stream", key)
	}
}

// Get returns the stream under key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// List returns the active streams ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}
