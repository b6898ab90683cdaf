package session

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nrbnlulu/flutter-realtime-player/config"
	"github.com/nrbnlulu/flutter-realtime-player/media"
	"github.com/nrbnlulu/flutter-realtime-player/sink"
)

// TextureAllocator assigns a render texture id for a session's output. It is
// provided by the platform layer; a nil allocator reuses the session id,
// which suits headless and test setups.
type TextureAllocator func(sessionID int64, dims media.Dimensions) (int64, error)

// Engine is the process-wide decoding context: the platform render-loop
// handle, the frame sink, the texture allocator, and the session registry.
// One Engine is created at process init, before any session, and closed at
// shutdown.
type Engine struct {
	log        *slog.Logger
	cfg        config.Config
	renderLoop int64

	ctx      context.Context
	cancel   context.CancelFunc
	registry *Registry
}

// NewEngine creates an Engine around the platform render-loop handle. The
// frame sink receives every decoded frame; textures may be nil. If log is
// nil, slog.Default() is used.
func NewEngine(renderLoop int64, frames sink.FrameSink, textures TextureAllocator, cfg config.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if frames == nil {
		frames = &sink.Discard{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:        log,
		cfg:        cfg,
		renderLoop: renderLoop,
		ctx:        ctx,
		cancel:     cancel,
	}
	e.registry = newRegistry(ctx, cfg, frames, textures, log)

	go e.registry.sweep(ctx)

	log.Info("engine initialized", "render_loop", renderLoop)
	return e, nil
}

// RenderLoop returns the platform render-loop handle the engine was
// initialized with.
func (e *Engine) RenderLoop() int64 { return e.renderLoop }

// Sessions returns the session registry.
func (e *Engine) Sessions() *Registry { return e.registry }

// DestroyAll tears down every session owned by this engine and waits a
// bounded time for each worker to release its native resources.
func (e *Engine) DestroyAll() error {
	sessions := e.registry.snapshot()
	for _, s := range sessions {
		e.registry.destroy(s, "bulk teardown")
	}

	g := new(errgroup.Group)
	deadline := time.Now().Add(e.cfg.Decode.CommandTimeout)
	for _, s := range sessions {
		g.Go(func() error {
			select {
			case <-s.done:
				return nil
			case <-time.After(time.Until(deadline)):
				return ErrTimeout
			}
		})
	}
	return g.Wait()
}

// Close destroys all sessions and stops the keepalive sweep. Idempotent.
func (e *Engine) Close() error {
	err := e.DestroyAll()
	e.cancel()
	return err
}
