package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrNoSegments is returned when a refreshed playlist holds no segments.
var ErrNoSegments = errors.New("hls: playlist has no segments")

// Accessor exposes the segment-window state that the segmented timeline
// consumes. Implementations must be safe for concurrent use.
type Accessor interface {
	// CurrentWindow returns a snapshot of the parsed playlist window.
	CurrentWindow() *Playlist
	// Live reports whether the playlist is still being appended to.
	Live() bool
}

// defaultPollDivisor derives the refresh interval from the playlist target
// duration when no explicit poll interval is configured.
const defaultPollDivisor = 2

// Poller fetches a media playlist over HTTP and keeps a parsed snapshot of
// the live window. For master playlists it resolves the first variant only;
// variant switching is out of scope.
type Poller struct {
	log      *slog.Logger
	client   *http.Client
	mediaURL string
	interval time.Duration // zero: targetDuration / defaultPollDivisor

	mu       sync.RWMutex
	playlist *Playlist
}

// NewPoller creates a Poller for the given playlist URL. An initial fetch is
// performed synchronously so the caller observes a valid window or an error.
// If log is nil, slog.Default() is used.
func NewPoller(ctx context.Context, rawURL string, interval time.Duration, log *slog.Logger) (*Poller, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Poller{
		log:      log.With("component", "hls-poller"),
		client:   &http.Client{Timeout: 10 * time.Second},
		mediaURL: rawURL,
		interval: interval,
	}

	pl, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if pl.Master {
		if len(pl.VariantURIs) == 0 {
			return nil, fmt.Errorf("hls: master playlist %s has no variants", rawURL)
		}
		variant, err := resolveURL(rawURL, pl.VariantURIs[0])
		if err != nil {
			return nil, err
		}
		p.log.Debug("resolved master playlist", "variant", variant)
		p.mediaURL = variant
		if pl, err = p.fetch(ctx, variant); err != nil {
			return nil, err
		}
	}
	if len(pl.Segments) == 0 {
		return nil, ErrNoSegments
	}

	p.mu.Lock()
	p.playlist = pl
	p.mu.Unlock()
	return p, nil
}

// MediaURL returns the resolved media playlist URL (the variant URL when the
// source was a master playlist).
func (p *Poller) MediaURL() string { return p.mediaURL }

// CurrentWindow returns the most recently fetched playlist snapshot.
func (p *Poller) CurrentWindow() *Playlist {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playlist
}

// Live reports whether the playlist had no EXT-X-ENDLIST on the last refresh.
func (p *Poller) Live() bool {
	return !p.CurrentWindow().Finished
}

// Run refreshes the playlist until the context is cancelled or the playlist
// finishes. Refresh failures are logged and retried on the next tick; a live
// source that stops serving its playlist will surface through the decode
// pipeline, not here.
func (p *Poller) Run(ctx context.Context) {
	if !p.Live() {
		return
	}

	interval := p.interval
	if interval == 0 {
		if td := p.CurrentWindow().TargetDuration; td > 0 {
			interval = time.Duration(td/defaultPollDivisor) * time.Microsecond
		} else {
			interval = 2 * time.Second
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl, err := p.fetch(ctx, p.mediaURL)
			if err != nil {
				p.log.Warn("playlist refresh failed", "url", p.mediaURL, "error", err)
				continue
			}
			if len(pl.Segments) == 0 {
				p.log.Warn("playlist refresh returned empty window", "url", p.mediaURL)
				continue
			}

			p.mu.Lock()
			prev := p.playlist
			p.playlist = pl
			p.mu.Unlock()

			if prev != nil && pl.StartSeq != prev.StartSeq {
				p.log.Debug("window advanced",
					"start_seq", pl.StartSeq, "segments", len(pl.Segments))
			}
			if pl.Finished {
				p.log.Info("playlist finished", "url", p.mediaURL)
				return
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context, rawURL string) (*Playlist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("hls: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hls: fetch playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hls: fetch playlist %s: status %d", rawURL, resp.StatusCode)
	}
	return Parse(resp.Body)
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("hls: bad base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("hls: bad variant url: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

// StaticWindow is an Accessor over a fixed playlist, used by tests and by
// VOD sources whose window never changes.
type StaticWindow struct {
	Playlist *Playlist
}

// CurrentWindow returns the fixed playlist.
func (s *StaticWindow) CurrentWindow() *Playlist { return s.Playlist }

// Live reports whether the fixed playlist lacks an end marker.
func (s *StaticWindow) Live() bool { return !s.Playlist.Finished }
