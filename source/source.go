// Package source resolves media source URIs for the decode pipeline. Most
// schemes (file paths, http(s), rtsp, rtmp) are handed to the native
// pipeline directly; srt:// sources are pulled over SRT and piped into the
// pipeline's stdin as MPEG-TS.
package source

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// Input describes how the decode pipeline should read a source. When Reader
// is nil, URI is passed to the native pipeline as-is; otherwise the pipeline
// reads Format data from Reader on stdin.
type Input struct {
	URI    string
	Format string // container format hint for piped inputs, e.g. "mpegts"
	Reader io.ReadCloser

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	openedAt      time.Time
}

// Stats captures connection-level counters for a piped source.
type Stats struct {
	BytesReceived int64
	ReadCount     int64
	UptimeMs      int64
}

// Stats returns a snapshot of the read counters. Zero for direct sources.
func (in *Input) Stats() Stats {
	s := Stats{
		BytesReceived: in.bytesReceived.Load(),
		ReadCount:     in.readCount.Load(),
	}
	if !in.openedAt.IsZero() {
		s.UptimeMs = time.Since(in.openedAt).Milliseconds()
	}
	return s
}

func (in *Input) recordRead(n int) {
	in.bytesReceived.Add(int64(n))
	in.readCount.Add(1)
}

// Close releases the piped reader, if any.
func (in *Input) Close() error {
	if in.Reader != nil {
		return in.Reader.Close()
	}
	return nil
}

// IsHLS reports whether the URI looks like an HLS playlist.
func IsHLS(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return strings.HasSuffix(uri, ".m3u8")
	}
	return strings.HasSuffix(u.Path, ".m3u8") || strings.HasSuffix(u.Path, ".m3u")
}

// Open resolves uri into an Input. For srt:// sources it dials the remote
// listener (with a timeout) and starts a background pull into a pipe; every
// other scheme passes through untouched. If log is nil, slog.Default() is
// used.
func Open(ctx context.Context, uri string, log *slog.Logger) (*Input, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.HasPrefix(uri, "srt://") {
		return openSRT(ctx, uri, log)
	}
	return &Input{URI: uri}, nil
}
