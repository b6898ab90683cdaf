// Package session ties the engine together: a registry of decode sessions,
// one worker goroutine per session driving the native pipeline, a per-session
// command queue for seek/resize, and a shared keepalive sweep that reclaims
// sessions whose consumer stopped pinging.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nrbnlulu/flutter-realtime-player/media"
	"github.com/nrbnlulu/flutter-realtime-player/state"
)

var (
	// ErrInvalidConfig rejects creation parameters before any session exists.
	ErrInvalidConfig = errors.New("session: invalid config")
	// ErrNotFound is returned for operations on unknown or destroyed sessions.
	ErrNotFound = errors.New("session: not found")
	// ErrTimeout is returned when the worker does not acknowledge a command
	// within the configured window.
	ErrTimeout = errors.New("session: command timed out")
	// ErrIDInUse rejects a caller-assigned id that is already registered.
	ErrIDInUse = errors.New("session: id already in use")
)

// SeekTarget is one seek request: either a virtual-timeline position in
// microseconds, or an absolute wall-clock instant for segmented sources that
// expose program date-time metadata.
type SeekTarget struct {
	PositionUs   int64
	AbsoluteTime time.Time // non-zero selects absolute-time seeking
}

type cmdKind int

const (
	cmdSeek cmdKind = iota
	cmdResize
)

// command crosses from a caller goroutine into the worker. Seek and resize
// are synchronous: the caller blocks on reply until the worker acknowledges.
type command struct {
	kind  cmdKind
	seek  SeekTarget
	dims  media.Dimensions
	reply chan error
}

// Session is one decode session. All decode state is owned by the worker
// goroutine; the fields here are the thin cross-thread surface the registry
// and sweep touch.
type Session struct {
	id          int64
	uri         string
	options     map[string]string
	autoRestart bool

	log    *slog.Logger
	states *state.Broadcaster
	cmds   chan command

	cancel context.CancelFunc
	done   chan struct{}

	lastPingNs atomic.Int64
	destroying atomic.Bool

	positionUs atomic.Int64 // current virtual position

	mu              sync.Mutex
	dims            media.Dimensions
	streamStartUnix int64
	hasStreamStart  bool
}

// ID returns the session identifier.
func (s *Session) ID() int64 { return s.id }

// Done is closed once the worker has released all native resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// markAlive records a consumer ping.
func (s *Session) markAlive() {
	s.lastPingNs.Store(time.Now().UnixNano())
}

// pingAge is how long ago the consumer last pinged.
func (s *Session) pingAge() time.Duration {
	return time.Duration(time.Now().UnixNano() - s.lastPingNs.Load())
}

// requestedDims is the current output size, as last acknowledged by resize.
func (s *Session) requestedDims() media.Dimensions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims
}

func (s *Session) setDims(d media.Dimensions) {
	s.mu.Lock()
	s.dims = d
	s.mu.Unlock()
}

func (s *Session) setStreamStart(unix int64, ok bool) {
	s.mu.Lock()
	s.streamStartUnix, s.hasStreamStart = unix, ok
	s.mu.Unlock()
}

// streamStart returns the wall-clock stream start, if the source exposed one.
func (s *Session) streamStart() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamStartUnix, s.hasStreamStart
}
