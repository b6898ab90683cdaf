package media

import "fmt"

// StateKind discriminates the StreamState variants.
type StateKind int

const (
	// KindLoading is published when a session (re)opens its source.
	KindLoading StateKind = iota
	// KindPlaying is published once the first frame is decodable.
	KindPlaying
	// KindStopped is published on clean end-of-stream or teardown.
	KindStopped
	// KindError is published on a fatal per-session fault.
	KindError
)

func (k StateKind) String() string {
	switch k {
	case KindLoading:
		return "loading"
	case KindPlaying:
		return "playing"
	case KindStopped:
		return "stopped"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// StreamState is the tagged lifecycle state of a session. Transitions are
// monotonic within one epoch: Stopped and Error are terminal unless
// autoRestart opens a fresh epoch, which restarts from Loading.
type StreamState struct {
	Kind StateKind

	// TextureID identifies the render target, valid when Kind == KindPlaying.
	TextureID int64
	// Seekable reports whether seek is supported, valid when Kind == KindPlaying.
	Seekable bool
	// Message describes the fault, valid when Kind == KindError.
	Message string
}

// Loading returns the Loading state.
func Loading() StreamState { return StreamState{Kind: KindLoading} }

// Playing returns a Playing state carrying the texture id and seekability.
func Playing(textureID int64, seekable bool) StreamState {
	return StreamState{Kind: KindPlaying, TextureID: textureID, Seekable: seekable}
}

// Stopped returns the Stopped state.
func Stopped() StreamState { return StreamState{Kind: KindStopped} }

// Errored returns an Error state with the given message.
func Errored(msg string) StreamState { return StreamState{Kind: KindError, Message: msg} }

// Terminal reports whether the state ends the current epoch.
func (s StreamState) Terminal() bool {
	return s.Kind == KindStopped || s.Kind == KindError
}

func (s StreamState) String() string {
	switch s.Kind {
	case KindPlaying:
		return fmt.Sprintf("playing(texture=%d seekable=%t)", s.TextureID, s.Seekable)
	case KindError:
		return fmt.Sprintf("error(%s)", s.Message)
	default:
		return s.Kind.String()
	}
}
