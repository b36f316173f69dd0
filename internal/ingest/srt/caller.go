package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vorbisprobe/internal/ingest"
)

// Errors returned by Caller.
var (
	ErrPullActive = errors.New("srt: pull already active")
	ErrNoPull     = errors.New("srt: no active pull")
)

// dialTimeout bounds how long Pull waits for the remote handshake.
const dialTimeout = 10 * time.Second

// PullRequest names a remote SRT listener to pull an Ogg stream from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
}

// Validate reports a missing required field.
func (r PullRequest) Validate() error {
	switch {
	case r.Address == "":
		return errors.New("srt: address is required")
	case r.StreamKey == "":
		return errors.New("srt: streamKey is required")
	}
	return nil
}

// Caller dials remote SRT listeners and feeds what they send into the
// ingest registry.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*pull
}

type pull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// NewCaller creates a Caller. A nil log uses slog.Default().
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*pull),
	}
}

// Pull dials req.Address and returns once the connection is up or has
// failed. Data is copied in the background until Stop, ctx cancellation,
// or the remote closing the connection.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if c.active(req.StreamKey) {
		return fmt.Errorf("%w for %q", ErrPullActive, req.StreamKey)
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = req.StreamID
	if cfg.StreamID == "" {
		cfg.StreamID = "live/" + req.StreamKey
	}

	log := c.log.With("stream", req.StreamKey, "address", req.Address)
	log.Info("dialing")

	type dialed struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialed, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialed{conn, err}
	}()
	// A dial abandoned on timeout or cancellation may still succeed later.
	abandon := func() {
		go func() {
			if d := <-ch; d.conn != nil {
				d.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		if d.err != nil {
			return fmt.Errorf("srt: dial %s: %w", req.Address, d.err)
		}
		return c.start(ctx, req, d.conn, log)
	case <-timer.C:
		abandon()
		return fmt.Errorf("srt: dial %s timed out after %s", req.Address, dialTimeout)
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}
}

func (c *Caller) start(ctx context.Context, req PullRequest, conn *srtgo.Conn, log *slog.Logger) error {
	pullCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("%w for %q", ErrPullActive, req.StreamKey)
	}
	c.pulls[req.StreamKey] = &pull{req: req, cancel: cancel}
	c.mu.Unlock()

	stream, w, err := c.registry.Register(req.StreamKey, ingest.FormatOggVorbis)
	if err != nil {
		c.forget(req.StreamKey)
		cancel()
		conn.Close()
		return err
	}
	stream.SetRemoteAddr(req.Address)
	log.Info("connected")

	go func() {
		// Closing the connection unblocks a pending Read once the pull is
		// stopped.
		go func() {
			<-pullCtx.Done()
			conn.Close()
		}()
		copyStream(pullCtx, conn, w, log)
		cancel()
		c.registry.Unregister(stream)
		c.forget(req.StreamKey)
		logClosed(log, stream)
	}()
	return nil
}

func (c *Caller) active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pulls[key]
	return ok
}

func (c *Caller) forget(key string) {
	c.mu.Lock()
	delete(c.pulls, key)
	c.mu.Unlock()
}

// Stop ends the pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	p, ok := c.pulls[streamKey]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w for %q", ErrNoPull, streamKey)
	}
	p.cancel()
	return nil
}

// ActivePulls lists the running pulls ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.pulls))
	for _, p := range c.pulls {
		out = append(out, p.req)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}
