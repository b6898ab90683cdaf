// Command playerd is the demo host for the decoding engine: it opens one
// session per source URI given on the command line, keeps them alive with
// periodic pings, prints state transitions, and ships decoded frames to a
// QUIC frame receiver (or discards them). With -serve it instead runs a
// standalone frame receiver with a self-signed certificate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nrbnlulu/flutter-realtime-player/certs"
	"github.com/nrbnlulu/flutter-realtime-player/config"
	"github.com/nrbnlulu/flutter-realtime-player/media"
	"github.com/nrbnlulu/flutter-realtime-player/session"
	"github.com/nrbnlulu/flutter-realtime-player/sink"
	quicsink "github.com/nrbnlulu/flutter-realtime-player/sink/quic"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config (empty: defaults)")
	size := flag.String("size", "1280x720", "output frame size WxH")
	serveAddr := flag.String("serve", "", "run a frame receiver on this address instead of decoding")
	noRestart := flag.Bool("no-auto-restart", false, "disable automatic restart on decode faults")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if *serveAddr != "" {
		if err := runReceiver(ctx, *serveAddr); err != nil {
			slog.Error("receiver failed", "error", err)
			os.Exit(1)
		}
		return
	}

	uris := flag.Args()
	if len(uris) == 0 {
		fmt.Fprintln(os.Stderr, "usage: playerd [flags] <uri> [uri...]")
		os.Exit(2)
	}

	dims, err := parseSize(*size)
	if err != nil {
		slog.Error("bad -size", "error", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if addr := os.Getenv("SINK_ADDR"); addr != "" {
		cfg.Sink.Addr = addr
	}

	slog.Info("playerd starting", "version", version, "sources", len(uris),
		"size", dims.String(), "sink", cfg.Sink.Addr)

	var out sink.FrameSink = &sink.Discard{}
	if cfg.Sink.Addr != "" {
		qs, err := quicsink.Dial(ctx, cfg.Sink.Addr, cfg.Sink.InsecureSkipVerify, nil)
		if err != nil {
			slog.Error("failed to dial frame sink", "addr", cfg.Sink.Addr, "error", err)
			os.Exit(1)
		}
		defer qs.Close()
		out = qs
	}

	// Decode loops deliver into a bounded per-host queue so a slow terminal
	// sink costs dropped frames, never a stalled worker.
	frames := sink.NewChanSink(cfg.Decode.FrameBuffer)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-frames.C:
				out.Deliver(f)
			}
		}
	}()

	engine, err := session.NewEngine(1, frames, nil, cfg, slog.Default())
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	g, ctx := errgroup.WithContext(ctx)

	for _, uri := range uris {
		id, events, unsub, err := engine.Sessions().Create(session.CreateRequest{
			URI:         uri,
			Dimensions:  dims,
			AutoRestart: !*noRestart,
		})
		if err != nil {
			slog.Error("failed to create session", "uri", uri, "error", err)
			os.Exit(1)
		}

		g.Go(func() error {
			defer unsub()
			return watchSession(ctx, engine, id, uri, events, cfg.Keepalive.Interval)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("session error", "error", err)
		os.Exit(1)
	}
}

// watchSession pings the session every keepalive interval and prints state
// transitions until the session reaches a terminal state.
func watchSession(ctx context.Context, engine *session.Engine, id int64, uri string, events <-chan media.StreamState, ping time.Duration) error {
	log := slog.Default().With("session", id, "uri", uri)

	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			engine.Sessions().MarkAlive(id)
		case st, ok := <-events:
			if !ok {
				return nil
			}
			pos, _ := engine.Sessions().CurrentPosition(id)
			log.Info("state", "state", st.String(), "position_s", fmt.Sprintf("%.2f", pos))
			if st.Kind == media.KindError {
				return fmt.Errorf("session %d: %s", id, st.Message)
			}
			if st.Terminal() {
				return nil
			}
		}
	}
}

// runReceiver hosts a standalone QUIC frame receiver, logging a line per
// connected session once a second.
func runReceiver(ctx context.Context, addr string) error {
	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(0)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339))

	type counter struct {
		frames  int64
		lastPTS int64
	}
	stats := make(map[int64]*counter)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	frameCh := make(chan media.Frame, 64)
	recv, err := quicsink.NewReceiver(addr, cert.TLSCert, func(f media.Frame) {
		select {
		case frameCh <- f:
		default:
		}
	}, nil)
	if err != nil {
		return err
	}
	slog.Info("frame receiver listening", "addr", recv.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recv.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case f := <-frameCh:
				c, ok := stats[f.SessionID]
				if !ok {
					c = &counter{}
					stats[f.SessionID] = c
				}
				c.frames++
				c.lastPTS = f.PTS
			case <-tick.C:
				for id, c := range stats {
					slog.Info("receiving", "session", id, "frames", c.frames,
						"pts_s", fmt.Sprintf("%.2f", float64(c.lastPTS)/1e6))
				}
			}
		}
	})
	return g.Wait()
}

func parseSize(s string) (media.Dimensions, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return media.Dimensions{}, fmt.Errorf("want WxH, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return media.Dimensions{}, err
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return media.Dimensions{}, err
	}
	d := media.Dimensions{Width: width, Height: height}
	if !d.Valid() {
		return media.Dimensions{}, fmt.Errorf("non-positive size %s", d)
	}
	return d, nil
}
