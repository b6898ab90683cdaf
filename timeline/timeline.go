// Package timeline maps between the virtual, monotonic seek timeline exposed
// to consumers and the raw timestamp space of the decode pipeline. Sources
// with globally continuous timestamps use the Standard variant; live
// segmented sources use the Segmented variant, which fabricates a continuous
// timeline over discontinuous per-segment timestamps.
package timeline

import "errors"

// ErrUnsupportedSeek is returned when no seek strategy can satisfy a seek
// request. The session stays alive; only the failing call is affected.
var ErrUnsupportedSeek = errors.New("timeline: unsupported seek")

// Timeline is the capability interface the decode loop drives. The variant
// is selected once at stream-open time from the probed format; the loop is
// agnostic to which variant is active.
type Timeline interface {
	// AdjustSeekTimestamp maps a virtual-timeline seek target (µs) to the
	// raw timestamp the decode pipeline should seek to.
	AdjustSeekTimestamp(targetUs int64) int64

	// Update advances the timeline with the latest raw presentation
	// timestamp observed by the decode loop.
	Update(rawUs int64)

	// TimeOffsetUs is the current raw-minus-virtual offset: rawTs equals
	// virtualTs + TimeOffsetUs().
	TimeOffsetUs() int64

	// Seekable reports whether seek requests may be attempted at all.
	Seekable() bool

	// StreamStartUnixTime returns the wall-clock time (Unix seconds) of the
	// earliest seekable point, if the source exposes one.
	StreamStartUnixTime() (int64, bool)
}

// Standard is the identity timeline for ordinary seekable (or plainly
// unseekable) containers: raw and virtual timestamps coincide.
type Standard struct {
	seekable bool
}

// NewStandard creates a Standard timeline with the container's native
// seekability flag.
func NewStandard(seekable bool) *Standard {
	return &Standard{seekable: seekable}
}

// AdjustSeekTimestamp returns the target unchanged.
func (s *Standard) AdjustSeekTimestamp(targetUs int64) int64 { return targetUs }

// Update is a no-op; raw timestamps already form the virtual timeline.
func (s *Standard) Update(int64) {}

// TimeOffsetUs is always zero.
func (s *Standard) TimeOffsetUs() int64 { return 0 }

// Seekable reports the container's native flag.
func (s *Standard) Seekable() bool { return s.seekable }

// StreamStartUnixTime is unavailable for standard sources.
func (s *Standard) StreamStartUnixTime() (int64, bool) { return 0, false }
