package timeline

import (
	"sync"
	"time"

	"github.com/nrbnlulu/flutter-realtime-player/hls"
)

// Segmented fabricates a continuous virtual timeline over a live segmented
// (DVR) source. Segment timestamps are not globally continuous and the
// container marks the stream unseekable; this variant tracks the active
// segment sequence against the playlist window and recomputes the virtual
// start whenever the sequence changes, so seeks can be expressed on one
// monotonic axis.
//
// Invariant: virtualStart = currentRaw − durationOfWindowSegmentsBefore(curSeq),
// i.e. the raw timestamp the window's first segment would carry.
type Segmented struct {
	window hls.Accessor

	mu          sync.Mutex
	firstRaw    int64
	firstRawSet bool
	curSeq      int64
	segEndRaw   int64 // raw timestamp at which curSeq's segment ends
	virtualOff  int64 // virtualStart − firstRaw
}

// NewSegmented creates a Segmented timeline over the given playlist window,
// starting playback at startSeq (the sequence resolved from the configured
// live start index).
func NewSegmented(window hls.Accessor, startSeq int64) *Segmented {
	return &Segmented{window: window, curSeq: startSeq}
}

// ResolveStartSeq maps a live-start index to a sequence number within the
// window. Negative indices count back from the live edge, mirroring ffmpeg's
// live_start_index semantics.
func ResolveStartSeq(p *hls.Playlist, liveStartIndex int) int64 {
	if p.Finished {
		return p.StartSeq
	}
	n := int64(len(p.Segments))
	idx := int64(liveStartIndex)
	if idx < 0 {
		idx += n
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return p.StartSeq + idx
}

// Update advances the active sequence as raw timestamps progress and
// recomputes the virtual start on every sequence change, including window
// advances that drop the active segment out of the DVR range.
func (s *Segmented) Update(rawUs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.window.CurrentWindow()

	if !s.firstRawSet {
		s.firstRaw = rawUs
		s.firstRawSet = true
		s.clampSeq(p)
		s.segEndRaw = rawUs + s.segDuration(p, s.curSeq)
		s.recompute(p, rawUs)
		return
	}

	changed := false
	if s.curSeq < p.StartSeq {
		// The window advanced past the playing segment; snap to the
		// earliest still-available one.
		s.curSeq = p.StartSeq
		s.segEndRaw = rawUs + s.segDuration(p, s.curSeq)
		changed = true
	}
	for rawUs >= s.segEndRaw && s.curSeq+1 < p.EndSeq() {
		s.curSeq++
		s.segEndRaw += s.segDuration(p, s.curSeq)
		changed = true
	}
	if changed {
		// Recompute at the segment boundary, not mid-segment: the raw
		// timestamp of the active segment's first frame anchors the math.
		segStart := s.segEndRaw - s.segDuration(p, s.curSeq)
		s.recompute(p, segStart)
	}
}

// recompute re-derives the virtual offset from the raw timestamp of the
// active segment's start and the summed durations of prior window segments.
// Callers hold s.mu.
func (s *Segmented) recompute(p *hls.Playlist, segStartRaw int64) {
	virtualStart := segStartRaw - p.DurationUntil(s.curSeq)
	s.virtualOff = virtualStart - s.firstRaw
}

func (s *Segmented) clampSeq(p *hls.Playlist) {
	if s.curSeq < p.StartSeq {
		s.curSeq = p.StartSeq
	}
	if end := p.EndSeq(); s.curSeq >= end && end > p.StartSeq {
		s.curSeq = end - 1
	}
}

// segDuration returns the windowed duration for seq, falling back to the
// playlist target duration when seq has slid out of the window.
func (s *Segmented) segDuration(p *hls.Playlist, seq int64) int64 {
	i := seq - p.StartSeq
	if i >= 0 && i < int64(len(p.Segments)) {
		return p.Segments[i].Duration
	}
	return p.TargetDuration
}

// Reanchor repositions the sequence tracking after a seek lands at rawUs.
// The virtual offset is unchanged (the axis mapping survives seeks); only
// the active segment and its end boundary are re-derived, since Update only
// tracks forward progress.
func (s *Segmented) Reanchor(rawUs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.firstRawSet {
		return
	}
	p := s.window.CurrentWindow()
	virtualStart := s.firstRaw + s.virtualOff
	s.curSeq = p.SequenceFor(rawUs - virtualStart)
	s.clampSeq(p)
	s.segEndRaw = virtualStart + p.DurationUntil(s.curSeq) + s.segDuration(p, s.curSeq)
}

// AdjustSeekTimestamp maps a virtual seek target to raw timestamp space:
// target + virtualStart − firstRawTimestamp.
func (s *Segmented) AdjustSeekTimestamp(targetUs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return targetUs + s.virtualOff
}

// TimeOffsetUs returns virtualStart − firstRawTimestamp, the amount raw
// timestamps lead the virtual axis.
func (s *Segmented) TimeOffsetUs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.virtualOff
}

// Seekable is always true: the container's unseekable flag is forced off for
// segmented sources so seeks can be attempted within the DVR window.
func (s *Segmented) Seekable() bool { return true }

// CurrentSequence returns the active segment sequence number.
func (s *Segmented) CurrentSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curSeq
}

// StreamStartUnixTime returns the wall-clock time of the earliest windowed
// segment, enabling absolute-time seeks, or false if the playlist carries no
// EXT-X-PROGRAM-DATE-TIME metadata.
func (s *Segmented) StreamStartUnixTime() (int64, bool) {
	t, ok := s.window.CurrentWindow().FirstDateTime()
	if !ok {
		return 0, false
	}
	return t.Unix(), true
}

// VirtualForAbsolute converts an absolute wall-clock seek target to a
// virtual-timeline timestamp. The window start maps to virtual firstRaw, so
// the target is the wall-clock offset from the window start plus firstRaw.
func (s *Segmented) VirtualForAbsolute(abs time.Time) (int64, error) {
	start, ok := s.window.CurrentWindow().FirstDateTime()
	if !ok {
		return 0, ErrUnsupportedSeek
	}
	offset := abs.Sub(start).Microseconds()
	if offset < 0 {
		return 0, ErrUnsupportedSeek
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return offset + s.firstRaw, nil
}
