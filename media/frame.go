// Package media defines the frame and state types that flow through the
// decoding engine, from the decode pipeline through frame sinks and state
// subscribers.
package media

import "fmt"

// FrameBufferSize is the default queue depth between decode loops and a
// frame sink. Sized to absorb sink jitter (~0.5s at 30fps) without holding
// many pixel buffers alive.
const FrameBufferSize = 16

// Dimensions is a video width/height pair in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// Valid reports whether both dimensions are positive.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Frame is a single decoded picture. Data holds tightly packed RGBA pixels
// (Width*Height*4 bytes). Ownership of Data transfers to the frame sink on
// delivery; the decode loop never reuses a delivered buffer.
type Frame struct {
	SessionID int64
	Data      []byte
	Width     int
	Height    int
	PTS       int64 // presentation timestamp, microseconds
}
