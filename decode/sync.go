package decode

import "time"

// maxPaceSleep caps a single pacing sleep. Large PTS jumps (seeks, playlist
// discontinuities) rebase instead of stalling delivery.
const maxPaceSleep = time.Second

// Synchronizer paces frame delivery so PTS deltas play out in wall-clock
// time. The decode process emits frames as fast as it can; without pacing a
// file source would render in a burst.
type Synchronizer struct {
	anchorPTS  int64
	anchorWall time.Time
	anchored   bool
}

// NewSynchronizer returns an unanchored Synchronizer; the first Wait anchors
// it without sleeping.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// Wait sleeps until ptsUs is due relative to the anchor frame. Backward or
// oversized jumps re-anchor at the new timestamp.
func (s *Synchronizer) Wait(ptsUs int64) {
	now := time.Now()
	if !s.anchored {
		s.anchor(ptsUs, now)
		return
	}

	delta := time.Duration(ptsUs-s.anchorPTS) * time.Microsecond
	if delta < 0 {
		s.anchor(ptsUs, now)
		return
	}

	due := s.anchorWall.Add(delta)
	sleep := due.Sub(now)
	if sleep > maxPaceSleep {
		s.anchor(ptsUs, now)
		return
	}
	if sleep > 0 {
		time.Sleep(sleep)
	}
}

// Reset drops the anchor so the next frame is delivered immediately. Called
// after seeks and pipeline restarts.
func (s *Synchronizer) Reset() {
	s.anchored = false
}

func (s *Synchronizer) anchor(ptsUs int64, wall time.Time) {
	s.anchorPTS = ptsUs
	s.anchorWall = wall
	s.anchored = true
}
