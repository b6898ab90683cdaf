// Package hls parses HTTP Live Streaming playlists and tracks the live
// segment window. It exposes only the semantic fields the timeline needs
// (sequence numbers, per-segment durations, wall-clock metadata), keeping
// the format-version-sensitive parsing behind one boundary.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrNotPlaylist is returned when the input is missing the #EXTM3U header.
var ErrNotPlaylist = errors.New("hls: not an m3u8 playlist")

// Segment is one entry of a media playlist.
type Segment struct {
	URI      string
	Duration int64 // microseconds, from EXTINF
	// ProgramDateTime is the wall-clock time of the segment's first frame,
	// zero if the playlist carries no EXT-X-PROGRAM-DATE-TIME tags.
	ProgramDateTime time.Time
}

// Playlist is a parsed m3u8 document. A master playlist carries only
// VariantURIs; a media playlist carries the segment window.
type Playlist struct {
	Master      bool
	VariantURIs []string

	TargetDuration int64 // microseconds
	StartSeq       int64 // EXT-X-MEDIA-SEQUENCE of Segments[0]
	Finished       bool  // EXT-X-ENDLIST present (VOD)
	Segments       []Segment
}

// EndSeq returns the sequence number one past the last segment.
func (p *Playlist) EndSeq() int64 {
	return p.StartSeq + int64(len(p.Segments))
}

// TotalDuration returns the summed duration of all segments in the window,
// in microseconds.
func (p *Playlist) TotalDuration() int64 {
	var total int64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// DurationUntil returns the summed duration of segments preceding seq within
// the current window. Sequences at or before the window start contribute
// nothing; sequences past the window are clamped to the full window.
func (p *Playlist) DurationUntil(seq int64) int64 {
	n := seq - p.StartSeq
	if n <= 0 {
		return 0
	}
	if n > int64(len(p.Segments)) {
		n = int64(len(p.Segments))
	}
	var total int64
	for _, s := range p.Segments[:n] {
		total += s.Duration
	}
	return total
}

// SequenceFor maps an offset (microseconds from the start of the window) to
// the sequence number of the segment containing it. Offsets past the window
// map to the last segment.
func (p *Playlist) SequenceFor(offsetUs int64) int64 {
	if len(p.Segments) == 0 || offsetUs <= 0 {
		return p.StartSeq
	}
	var acc int64
	for i, s := range p.Segments {
		acc += s.Duration
		if offsetUs < acc {
			return p.StartSeq + int64(i)
		}
	}
	return p.EndSeq() - 1
}

// FirstDateTime returns the wall-clock time of the first windowed segment,
// or false if the playlist carries no date-time metadata.
func (p *Playlist) FirstDateTime() (time.Time, bool) {
	if len(p.Segments) == 0 || p.Segments[0].ProgramDateTime.IsZero() {
		return time.Time{}, false
	}
	return p.Segments[0].ProgramDateTime, true
}

// Parse reads an m3u8 document. It understands the subset of tags the
// timeline needs; unknown tags are skipped.
func Parse(r io.Reader) (*Playlist, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	if !sc.Scan() {
		return nil, ErrNotPlaylist
	}
	if strings.TrimSpace(sc.Text()) != "#EXTM3U" {
		return nil, ErrNotPlaylist
	}

	p := &Playlist{}
	var (
		pendingDur  int64 = -1
		pendingDate time.Time
		wantVariant bool
	)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			p.Master = true
			wantVariant = true

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.ParseFloat(line[len("#EXT-X-TARGETDURATION:"):], 64)
			if err != nil {
				return nil, fmt.Errorf("hls: bad target duration: %w", err)
			}
			p.TargetDuration = int64(v * 1e6)

		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			v, err := strconv.ParseInt(line[len("#EXT-X-MEDIA-SEQUENCE:"):], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("hls: bad media sequence: %w", err)
			}
			p.StartSeq = v

		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			raw := line[len("#EXT-X-PROGRAM-DATE-TIME:"):]
			t, err := parseDateTime(raw)
			if err == nil {
				pendingDate = t
			}

		case strings.HasPrefix(line, "#EXTINF:"):
			spec := line[len("#EXTINF:"):]
			if i := strings.IndexByte(spec, ','); i >= 0 {
				spec = spec[:i]
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(spec), 64)
			if err != nil {
				return nil, fmt.Errorf("hls: bad EXTINF: %w", err)
			}
			pendingDur = int64(v * 1e6)

		case line == "#EXT-X-ENDLIST":
			p.Finished = true

		case strings.HasPrefix(line, "#"):
			// unrecognized tag

		default:
			if wantVariant {
				p.VariantURIs = append(p.VariantURIs, line)
				wantVariant = false
				continue
			}
			if pendingDur < 0 {
				// URI without EXTINF, skip
				continue
			}
			p.Segments = append(p.Segments, Segment{
				URI:             line,
				Duration:        pendingDur,
				ProgramDateTime: pendingDate,
			})
			pendingDur = -1
			pendingDate = time.Time{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("hls: read playlist: %w", err)
	}
	return p, nil
}

func parseDateTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999Z0700"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("hls: bad date-time %q", raw)
}
