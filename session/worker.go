package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/nrbnlulu/flutter-realtime-player/config"
	"github.com/nrbnlulu/flutter-realtime-player/decode"
	"github.com/nrbnlulu/flutter-realtime-player/hls"
	"github.com/nrbnlulu/flutter-realtime-player/media"
	"github.com/nrbnlulu/flutter-realtime-player/probe"
	"github.com/nrbnlulu/flutter-realtime-player/sink"
	"github.com/nrbnlulu/flutter-realtime-player/source"
	"github.com/nrbnlulu/flutter-realtime-player/timeline"
)

// worker owns one session's decode state. Nothing outside run and its
// callees touches the pipeline or the timeline.
type worker struct {
	session  *Session
	cfg      config.Config
	frames   sink.FrameSink
	textures TextureAllocator
}

// run drives decode epochs until the session stops. A terminating epoch
// publishes Stopped (clean end or teardown) or Error (fatal fault); under
// autoRestart a failed epoch re-enters Loading after a capped backoff.
func (w *worker) run(ctx context.Context) {
	s := w.session
	defer close(s.done)
	defer s.states.Close()

	backoff := w.cfg.Decode.RestartBackoff
	for epoch := 0; ; epoch++ {
		if epoch > 0 {
			s.states.Publish(media.Loading())
		}

		err := w.runEpoch(ctx)
		if ctx.Err() != nil || s.destroying.Load() {
			s.states.Publish(media.Stopped())
			return
		}
		if err == nil {
			s.log.Info("stream ended")
			s.states.Publish(media.Stopped())
			return
		}
		if !s.autoRestart {
			s.log.Error("decode failed", "error", err)
			s.states.Publish(media.Errored(err.Error()))
			return
		}

		s.log.Warn("decode failed, restarting", "error", err, "backoff", backoff, "epoch", epoch)
		select {
		case <-ctx.Done():
			s.states.Publish(media.Stopped())
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > w.cfg.Decode.MaxBackoff {
			backoff = w.cfg.Decode.MaxBackoff
		}
	}
}

// epochState carries the per-epoch decode resources shared between the loop
// and the command handlers.
type epochState struct {
	tl    timeline.Timeline
	live  bool
	piped bool // input arrives on stdin from a single-consumer reader

	mu sync.Mutex
	pl *decode.Pipeline

	open func(dims media.Dimensions, startUs int64, bias config.SeekBias) (*decode.Pipeline, error)
}

func (e *epochState) current() *decode.Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pl
}

// swap installs a replacement pipeline and returns the previous one.
func (e *epochState) swap(p *decode.Pipeline) *decode.Pipeline {
	e.mu.Lock()
	old := e.pl
	e.pl = p
	e.mu.Unlock()
	return old
}

func (e *epochState) closeCurrent() {
	if p := e.current(); p != nil {
		p.Close()
	}
}

func (w *worker) runEpoch(ctx context.Context) error {
	s := w.session
	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	in, err := source.Open(epochCtx, s.uri, s.log)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, reader, err := w.probeSource(epochCtx, in)
	if err != nil {
		return err
	}

	es := &epochState{}
	opts := s.options
	switch {
	case source.IsHLS(s.uri) || info.Format == "hls":
		poller, err := hls.NewPoller(epochCtx, s.uri, w.cfg.HLS.PollInterval, s.log)
		if err != nil {
			return fmt.Errorf("open playlist: %w", err)
		}
		go poller.Run(epochCtx)

		startSeq := timeline.ResolveStartSeq(poller.CurrentWindow(), w.cfg.HLS.LiveStartIndex)
		es.tl = timeline.NewSegmented(poller, startSeq)
		es.live = poller.Live()
		if es.live {
			opts = withOption(opts, "live_start_index", strconv.Itoa(w.cfg.HLS.LiveStartIndex))
		}
	case in.Reader != nil:
		// Piped sources cannot rewind, so they are never seekable.
		es.tl = timeline.NewStandard(false)
		es.live = true
		es.piped = true
	default:
		es.tl = timeline.NewStandard(info.Seekable)
		es.live = info.DurationUs == 0
	}

	if unix, ok := es.tl.StreamStartUnixTime(); ok {
		s.setStreamStart(unix, true)
	}

	es.open = func(dims media.Dimensions, startUs int64, bias config.SeekBias) (*decode.Pipeline, error) {
		return decode.Open(decode.Options{
			FFmpegPath: w.cfg.Decode.FFmpegPath,
			URI:        in.URI,
			Format:     in.Format,
			Reader:     reader,
			Width:      dims.Width,
			Height:     dims.Height,
			FPS:        info.FPS,
			StartUs:    startUs,
			Bias:       bias,
			Extra:      opts,
		}, s.log)
	}

	// The decode process must die when the epoch is cancelled, or ReadFrame
	// would block teardown indefinitely.
	stop := context.AfterFunc(epochCtx, es.closeCurrent)
	defer stop()
	defer es.closeCurrent()

	dims := s.requestedDims()
	pl, err := es.open(dims, 0, "")
	if err != nil {
		return fmt.Errorf("open decoder: %w", err)
	}
	es.swap(pl)
	if epochCtx.Err() != nil {
		return nil
	}

	textureID := s.id
	if w.textures != nil {
		if textureID, err = w.textures(s.id, dims); err != nil {
			return fmt.Errorf("allocate texture: %w", err)
		}
	}
	s.states.Publish(media.Playing(textureID, es.tl.Seekable()))
	s.log.Info("playing", "texture", textureID, "seekable", es.tl.Seekable(),
		"format", info.Format, "source_dims", fmt.Sprintf("%dx%d", info.Width, info.Height))

	pacer := decode.NewSynchronizer()
	return w.decodeLoop(epochCtx, es, pacer)
}

// probeSource determines stream metadata. Direct URIs go through ffprobe;
// piped transport streams are parsed in-process, with the consumed head
// stitched back in front of the decoder's input.
func (w *worker) probeSource(ctx context.Context, in *source.Input) (decode.Info, io.Reader, error) {
	if in.Reader == nil {
		info, err := decode.ProbeURI(ctx, w.cfg.Decode.FFprobePath, in.URI, w.session.options)
		if err != nil {
			return decode.Info{}, nil, fmt.Errorf("probe: %w", err)
		}
		return info, nil, nil
	}

	var head bytes.Buffer
	res, err := probe.DetectTS(io.TeeReader(in.Reader, &head), 0)
	if err != nil {
		return decode.Info{}, nil, fmt.Errorf("probe piped source: %w", err)
	}
	info := decode.Info{
		Width:  res.Width,
		Height: res.Height,
		Format: in.Format,
	}
	return info, io.MultiReader(bytes.NewReader(head.Bytes()), in.Reader), nil
}

func (w *worker) decodeLoop(ctx context.Context, es *epochState, pacer *decode.Synchronizer) error {
	s := w.session

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.cmds:
			cmd.reply <- w.handleCommand(es, pacer, cmd)
			continue
		default:
		}

		pl := es.current()
		if pl == nil {
			// A piped resize surrendered the old process and failed to start
			// its replacement; end the epoch so autoRestart can recover.
			return errors.New("session: decode pipeline lost")
		}
		data, rawPts, err := pl.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || s.destroying.Load() {
				return nil
			}
			if !es.live && isEOF(err) {
				return nil
			}
			return err
		}

		es.tl.Update(rawPts)
		virtual := rawPts - es.tl.TimeOffsetUs()
		s.positionUs.Store(virtual)

		pacer.Wait(virtual)

		d := pl.Dimensions()
		w.frames.Deliver(media.Frame{
			SessionID: s.id,
			Data:      data,
			Width:     d.Width,
			Height:    d.Height,
			PTS:       virtual,
		})
	}
}

func (w *worker) handleCommand(es *epochState, pacer *decode.Synchronizer, cmd command) error {
	switch cmd.kind {
	case cmdSeek:
		return w.handleSeek(es, pacer, cmd.seek)
	case cmdResize:
		return w.handleResize(es, pacer, cmd.dims)
	default:
		return fmt.Errorf("session: unknown command %d", cmd.kind)
	}
}

// handleSeek restarts the decode process at the adjusted raw timestamp,
// trying each configured bias in order. The replacement opens before the old
// process closes, so a failed seek leaves playback untouched.
func (w *worker) handleSeek(es *epochState, pacer *decode.Synchronizer, target SeekTarget) error {
	s := w.session
	if !es.tl.Seekable() {
		return timeline.ErrUnsupportedSeek
	}

	virtual := target.PositionUs
	if !target.AbsoluteTime.IsZero() {
		seg, ok := es.tl.(*timeline.Segmented)
		if !ok {
			return timeline.ErrUnsupportedSeek
		}
		v, err := seg.VirtualForAbsolute(target.AbsoluteTime)
		if err != nil {
			return err
		}
		virtual = v
	}
	if virtual < 0 {
		virtual = 0
	}

	raw := es.tl.AdjustSeekTimestamp(virtual)
	if raw < 0 {
		raw = 0
	}

	dims := s.requestedDims()
	var lastErr error
	for _, bias := range w.cfg.Seek.FallbackOrder {
		pl, err := es.open(dims, raw, bias)
		if err != nil {
			s.log.Warn("seek attempt failed", "bias", bias, "raw_us", raw, "error", err)
			lastErr = err
			continue
		}
		if old := es.swap(pl); old != nil {
			old.Close()
		}
		if ra, ok := es.tl.(interface{ Reanchor(int64) }); ok {
			ra.Reanchor(raw)
		}
		s.positionUs.Store(virtual)
		pacer.Reset()
		s.log.Info("seek applied", "virtual_us", virtual, "raw_us", raw, "bias", bias)
		return nil
	}
	return fmt.Errorf("%w: %v", timeline.ErrUnsupportedSeek, lastErr)
}

// handleResize reopens the decode process with a new scale target at the
// current position. Frames produced by the old process keep their original
// dimensions.
func (w *worker) handleResize(es *epochState, pacer *decode.Synchronizer, dims media.Dimensions) error {
	s := w.session

	startUs := int64(0)
	if es.tl.Seekable() {
		startUs = es.tl.AdjustSeekTimestamp(s.positionUs.Load())
		if startUs < 0 {
			startUs = 0
		}
	} else if !es.live {
		startUs = es.tl.AdjustSeekTimestamp(s.positionUs.Load())
	}

	if es.piped {
		// The stdin reader has exactly one consumer. The old process keeps
		// copying from it until it dies, so it must be gone before the
		// replacement starts or the two would split the stream between them.
		if old := es.swap(nil); old != nil {
			old.Close()
		}
		pl, err := es.open(dims, startUs, config.SeekForward)
		if err != nil {
			return fmt.Errorf("session: resize: %w", err)
		}
		es.swap(pl)
	} else {
		pl, err := es.open(dims, startUs, config.SeekForward)
		if err != nil {
			return fmt.Errorf("session: resize: %w", err)
		}
		if old := es.swap(pl); old != nil {
			old.Close()
		}
	}
	s.setDims(dims)
	pacer.Reset()
	s.log.Info("resized", "dims", dims.String())
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// withOption returns a copy of opts with key set, unless the caller already
// provided it.
func withOption(opts map[string]string, key, value string) map[string]string {
	if _, ok := opts[key]; ok {
		return opts
	}
	out := make(map[string]string, len(opts)+1)
	for k, v := range opts {
		out[k] = v
	}
	out[key] = value
	return out
}
