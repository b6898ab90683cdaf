// Package quic implements a remote frame sink: decoded frames are shipped to
// an external rendering consumer over a single QUIC stream as varint-framed
// records. The receiver side is used by the demo command and by tests.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/nrbnlulu/flutter-realtime-player/media"
)

// alpnProtocol identifies the frame sink wire protocol during the TLS
// handshake.
const alpnProtocol = "rtplayer-frames/1"

// sendBuffer bounds frames queued for the network writer. Full buffer drops
// the oldest queued frame: the remote consumer renders the latest picture,
// so stale frames have no value.
const sendBuffer = 32

// Sink streams frames to a remote receiver over QUIC. Deliver never blocks;
// frames the writer goroutine cannot keep up with are dropped oldest-first.
type Sink struct {
	log    *slog.Logger
	conn   quic.Connection
	stream quic.Stream

	mu     sync.Mutex
	frames chan media.Frame
	closed bool

	done chan struct{}
}

// Dial connects to a frame receiver at addr. insecure skips certificate
// verification, for receivers using self-signed certs. If log is nil,
// slog.Default() is used.
func Dial(ctx context.Context, addr string, insecure bool, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}

	tlsConf := &tls.Config{
		NextProtos:         []string{alpnProtocol},
		InsecureSkipVerify: insecure,
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("quic sink: dial %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("quic sink: open stream: %w", err)
	}

	s := &Sink{
		log:    log.With("component", "quic-sink", "addr", addr),
		conn:   conn,
		stream: stream,
		frames: make(chan media.Frame, sendBuffer),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Deliver queues the frame for transmission, evicting the oldest queued
// frame when the writer has fallen behind. Frames delivered after Close are
// dropped; the mutex keeps a concurrent Close from closing the queue under a
// delivery in flight.
func (s *Sink) Deliver(frame media.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.frames <- frame:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

func (s *Sink) writeLoop() {
	defer close(s.done)
	for frame := range s.frames {
		if err := writeRecord(s.stream, frame); err != nil {
			s.log.Warn("frame write failed, closing sink", "error", err)
			s.conn.CloseWithError(1, "write failed")
			return
		}
	}
}

// Close flushes nothing: pending frames are abandoned and the connection is
// closed. Idempotent and safe against concurrent Deliver calls.
func (s *Sink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	s.mu.Unlock()
	<-s.done
	return s.conn.CloseWithError(0, "sink closed")
}

// writeRecord serializes one frame: varint session id, width, height, pts
// (int64 bit pattern), payload length, then the RGBA payload.
func writeRecord(w io.Writer, f media.Frame) error {
	hdr := make([]byte, 0, 5*quicvarint.Len(uint64(len(f.Data))))
	hdr = quicvarint.Append(hdr, uint64(f.SessionID))
	hdr = quicvarint.Append(hdr, uint64(f.Width))
	hdr = quicvarint.Append(hdr, uint64(f.Height))
	hdr = quicvarint.Append(hdr, uint64(f.PTS))
	hdr = quicvarint.Append(hdr, uint64(len(f.Data)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(f.Data)
	return err
}

// ReadRecord parses one frame record from r, the inverse of writeRecord.
func ReadRecord(r io.Reader) (media.Frame, error) {
	br := quicvarint.NewReader(r)

	var f media.Frame
	vals := make([]uint64, 5)
	for i := range vals {
		v, err := quicvarint.Read(br)
		if err != nil {
			return f, err
		}
		vals[i] = v
	}
	f.SessionID = int64(vals[0])
	f.Width = int(vals[1])
	f.Height = int(vals[2])
	f.PTS = int64(vals[3])

	f.Data = make([]byte, vals[4])
	if _, err := io.ReadFull(br, f.Data); err != nil {
		return f, err
	}
	return f, nil
}
