package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quic-go/quic-go"

	"github.com/nrbnlulu/flutter-realtime-player/media"
)

// FrameHandler consumes frames arriving at a Receiver.
type FrameHandler func(media.Frame)

// Receiver accepts QUIC frame sink connections and decodes their records.
// It exists for the demo command and for end-to-end tests; a production
// rendering consumer implements the same wire format.
type Receiver struct {
	log      *slog.Logger
	listener *quic.Listener
	handler  FrameHandler
}

// NewReceiver listens on addr with the given TLS certificate. If log is nil,
// slog.Default() is used.
func NewReceiver(addr string, cert tls.Certificate, handler FrameHandler, log *slog.Logger) (*Receiver, error) {
	if log == nil {
		log = slog.Default()
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("quic receiver: listen %s: %w", addr, err)
	}
	return &Receiver{
		log:      log.With("component", "quic-receiver"),
		listener: ln,
		handler:  handler,
	}, nil
}

// Addr returns the bound listen address.
func (r *Receiver) Addr() string { return r.listener.Addr().String() }

// Run accepts connections until the context is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.listener.Close() })
	defer stop()

	for {
		conn, err := r.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quic receiver: accept: %w", err)
		}
		go r.handleConn(ctx, conn)
	}
}

func (r *Receiver) handleConn(ctx context.Context, conn quic.Connection) {
	defer conn.CloseWithError(0, "done")
	r.log.Info("sink connected", "remote", conn.RemoteAddr())

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		r.log.Debug("accept stream failed", "error", err)
		return
	}

	for {
		frame, err := ReadRecord(stream)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Debug("stream ended", "error", err)
			}
			return
		}
		r.handler(frame)
	}
}
