package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtDialTimeout bounds how long Open waits for the remote SRT listener.
const srtDialTimeout = 10 * time.Second

// openSRT dials an srt:// URI and returns an Input whose Reader yields the
// remote MPEG-TS bytes. The pull runs in a background goroutine until the
// context is cancelled, the socket closes, or the Reader is closed.
func openSRT(ctx context.Context, uri string, log *slog.Logger) (*Input, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("srt: bad uri %q: %w", uri, err)
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if sid := u.Query().Get("streamid"); sid != "" {
		cfg.StreamID = sid
	}

	log = log.With("component", "srt-source", "address", u.Host)
	log.Info("dialing")

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(srtDialTimeout)
	defer timer.Stop()

	var conn *srtgo.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", u.Host, res.err)
		}
		conn = res.conn
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("srt: dial %s timed out after %s", u.Host, srtDialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}

	log.Info("connected", "remote", conn.RemoteAddr())

	pr, pw := io.Pipe()
	in := &Input{
		URI:      "pipe:0",
		Format:   "mpegts",
		Reader:   pr,
		openedAt: time.Now(),
	}

	go func() {
		defer conn.Close()

		buf := make([]byte, srtReadBufferSize)
		for {
			if ctx.Err() != nil {
				pw.CloseWithError(ctx.Err())
				return
			}
			n, err := conn.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug("read error", "error", err)
				}
				pw.CloseWithError(err)
				stats := in.Stats()
				log.Info("pull ended", "bytes", stats.BytesReceived,
					"reads", stats.ReadCount, "uptime_ms", stats.UptimeMs)
				return
			}
			in.recordRead(n)
			if _, err := pw.Write(buf[:n]); err != nil {
				// Reader side closed (pipeline torn down).
				return
			}
		}
	}()

	return in, nil
}
