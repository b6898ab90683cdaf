// Package sink defines the frame sink contract: the external collaborator
// that receives decoded frames from session workers and owns them from
// delivery onward (GPU upload, display, or transport).
package sink

import (
	"sync/atomic"

	"github.com/nrbnlulu/flutter-realtime-player/media"
)

// FrameSink receives decoded frames. Deliver must not block the decode loop;
// implementations that cannot keep up should drop rather than stall, since
// for live sources freshness beats completeness.
type FrameSink interface {
	Deliver(frame media.Frame)
}

// Stats captures delivery counters for a sink.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// ChanSink adapts a channel to the FrameSink interface with drop-oldest
// backpressure: when the channel is full the stalest queued frame is
// discarded to make room for the new one.
type ChanSink struct {
	C chan media.Frame

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewChanSink creates a ChanSink with the given buffer depth. A non-positive
// depth selects media.FrameBufferSize.
func NewChanSink(depth int) *ChanSink {
	if depth <= 0 {
		depth = media.FrameBufferSize
	}
	return &ChanSink{C: make(chan media.Frame, depth)}
}

// Deliver enqueues the frame, evicting the oldest queued frame if needed.
func (s *ChanSink) Deliver(frame media.Frame) {
	for {
		select {
		case s.C <- frame:
			s.delivered.Add(1)
			return
		default:
		}
		select {
		case <-s.C:
			s.dropped.Add(1)
		default:
		}
	}
}

// Stats returns a snapshot of delivery counters.
func (s *ChanSink) Stats() Stats {
	return Stats{Delivered: s.delivered.Load(), Dropped: s.dropped.Load()}
}

// Discard is a FrameSink that drops every frame, counting deliveries. Used
// by the demo command when no remote sink is configured.
type Discard struct {
	delivered atomic.Uint64
}

// Deliver counts and drops the frame.
func (d *Discard) Deliver(media.Frame) { d.delivered.Add(1) }

// Delivered returns how many frames were discarded.
func (d *Discard) Delivered() uint64 { return d.delivered.Load() }
