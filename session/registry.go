package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nrbnlulu/flutter-realtime-player/config"
	"github.com/nrbnlulu/flutter-realtime-player/media"
	"github.com/nrbnlulu/flutter-realtime-player/sink"
	"github.com/nrbnlulu/flutter-realtime-player/state"
)

// CreateRequest carries session creation parameters. ID is optional: zero
// lets the registry allocate one; a caller-assigned id must be unused.
type CreateRequest struct {
	ID          int64
	URI         string
	Dimensions  media.Dimensions
	Options     map[string]string // forwarded verbatim to the decode pipeline
	AutoRestart bool
}

// Registry maps session ids to live sessions and routes commands into each
// session's private queue. Only the id map is locked; decode progress of
// unrelated sessions never serializes.
type Registry struct {
	log      *slog.Logger
	cfg      config.Config
	frames   sink.FrameSink
	textures TextureAllocator
	baseCtx  context.Context

	mu       sync.RWMutex
	sessions map[int64]*Session
	nextID   atomic.Int64
}

func newRegistry(ctx context.Context, cfg config.Config, frames sink.FrameSink, textures TextureAllocator, log *slog.Logger) *Registry {
	return &Registry{
		log:      log.With("component", "registry"),
		cfg:      cfg,
		frames:   frames,
		textures: textures,
		baseCtx:  ctx,
		sessions: make(map[int64]*Session),
	}
}

// Create validates the request, registers a session and spawns its worker.
// It returns the session id and the state event stream; the first state every
// subscriber observes is Loading.
func (r *Registry) Create(req CreateRequest) (int64, <-chan media.StreamState, func(), error) {
	if req.URI == "" {
		return 0, nil, nil, fmt.Errorf("%w: empty source uri", ErrInvalidConfig)
	}
	if !req.Dimensions.Valid() {
		return 0, nil, nil, fmt.Errorf("%w: dimensions %s", ErrInvalidConfig, req.Dimensions)
	}

	id := req.ID
	if id == 0 {
		id = r.nextID.Add(1)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	s := &Session{
		id:          id,
		uri:         req.URI,
		options:     req.Options,
		autoRestart: req.AutoRestart,
		log:         r.log.With("session", id),
		states:      state.NewBroadcaster(),
		cmds:        make(chan command, 4),
		cancel:      cancel,
		done:        make(chan struct{}),
		dims:        req.Dimensions,
	}
	s.markAlive()

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		cancel()
		return 0, nil, nil, fmt.Errorf("%w: %d", ErrIDInUse, id)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	// Publish before the worker starts so the creator's subscription replays
	// Loading ahead of any transition the worker makes.
	s.states.Publish(media.Loading())
	events, unsub := s.states.Subscribe()

	w := &worker{
		session:  s,
		cfg:      r.cfg,
		frames:   r.frames,
		textures: r.textures,
	}
	go func() {
		defer r.remove(s)
		w.run(ctx)
	}()

	s.log.Info("session created", "uri", req.URI, "dims", req.Dimensions.String(),
		"auto_restart", req.AutoRestart)
	return id, events, unsub, nil
}

// Destroy marks the session for teardown and returns immediately; the worker
// releases native resources at its next checkpoint. A second Destroy, or one
// for an unknown id, returns ErrNotFound.
func (r *Registry) Destroy(id int64) error {
	s := r.lookup(id)
	if s == nil || !s.destroying.CompareAndSwap(false, true) {
		return ErrNotFound
	}
	r.destroyMarked(s, "destroy requested")
	return nil
}

// destroy is the sweep/bulk entry point: coalesces with concurrent destroys.
func (r *Registry) destroy(s *Session, reason string) {
	if s.destroying.CompareAndSwap(false, true) {
		r.destroyMarked(s, reason)
	}
}

func (r *Registry) destroyMarked(s *Session, reason string) {
	s.log.Info("session teardown", "reason", reason)
	s.cancel()
}

// MarkAlive records a consumer ping. Unknown ids are a no-op: the consumer
// may legitimately race a sweep-triggered teardown.
func (r *Registry) MarkAlive(id int64) {
	if s := r.lookup(id); s != nil {
		s.markAlive()
	}
}

// Seek requests a virtual-timeline (or absolute wall-clock) seek and blocks
// until the worker acknowledges or the command times out.
func (r *Registry) Seek(id int64, target SeekTarget) error {
	return r.dispatch(id, command{kind: cmdSeek, seek: target, reply: make(chan error, 1)})
}

// Resize changes the output scaling target. Frames already emitted keep
// their original dimensions; every frame after acknowledgment carries the
// new ones.
func (r *Registry) Resize(id int64, width, height int) error {
	d := media.Dimensions{Width: width, Height: height}
	if !d.Valid() {
		return fmt.Errorf("%w: dimensions %s", ErrInvalidConfig, d)
	}
	return r.dispatch(id, command{kind: cmdResize, dims: d, reply: make(chan error, 1)})
}

// CurrentPosition returns the session's playback position in seconds on the
// virtual timeline.
func (r *Registry) CurrentPosition(id int64) (float64, error) {
	s := r.lookup(id)
	if s == nil {
		return 0, ErrNotFound
	}
	return float64(s.positionUs.Load()) / 1e6, nil
}

// StreamStartTime returns the wall-clock start (Unix seconds) of a segmented
// session's DVR window, or ok=false when the source has no such metadata.
func (r *Registry) StreamStartTime(id int64) (int64, bool, error) {
	s := r.lookup(id)
	if s == nil {
		return 0, false, ErrNotFound
	}
	unix, ok := s.streamStart()
	return unix, ok, nil
}

// Subscribe attaches an additional state subscriber to a live session.
func (r *Registry) Subscribe(id int64) (<-chan media.StreamState, func(), error) {
	s := r.lookup(id)
	if s == nil {
		return nil, nil, ErrNotFound
	}
	events, cancel := s.states.Subscribe()
	return events, cancel, nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) lookup(id int64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()
	s.log.Debug("session removed")
}

// dispatch routes a synchronous command into the session's queue and waits
// for the worker's acknowledgment.
func (r *Registry) dispatch(id int64, cmd command) error {
	s := r.lookup(id)
	if s == nil || s.destroying.Load() {
		return ErrNotFound
	}

	timeout := time.NewTimer(r.cfg.Decode.CommandTimeout)
	defer timeout.Stop()

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrNotFound
	case <-timeout.C:
		return ErrTimeout
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrNotFound
	case <-timeout.C:
		return ErrTimeout
	}
}

// sweep destroys sessions whose consumer stopped pinging. One shared ticker
// serves every session, keeping background work constant as sessions scale.
func (r *Registry) sweep(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Keepalive.SweepInterval)
	defer ticker.Stop()

	timeout := r.cfg.Keepalive.Timeout()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range r.snapshot() {
				if age := s.pingAge(); age > timeout {
					r.destroy(s, fmt.Sprintf("keepalive expired after %s", age.Round(time.Millisecond)))
				}
			}
		}
	}
}
