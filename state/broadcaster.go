// Package state implements the per-session lifecycle event stream: a
// multi-subscriber broadcaster with replay-latest semantics, so every
// subscriber (current or future) observes state transitions in publish order
// starting from the most recent one.
package state

import (
	"sync"

	"github.com/nrbnlulu/flutter-realtime-player/media"
)

// subscriberBuffer bounds each subscriber's pending transitions. Lifecycle
// transitions are rare (a handful per epoch), so a small buffer suffices; a
// subscriber that still falls behind loses its oldest pending entries rather
// than stalling the decode worker.
const subscriberBuffer = 16

// Broadcaster fans out StreamState transitions for one session. The zero
// value is not usable; call NewBroadcaster.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan media.StreamState
	nextID int
	last   media.StreamState
	hasAny bool
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan media.StreamState)}
}

// Publish records s as the latest state and delivers it to every subscriber.
// A subscriber whose buffer is full has its oldest pending transition
// dropped; other subscribers are unaffected.
func (b *Broadcaster) Publish(s media.StreamState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = s
	b.hasAny = true
	for _, ch := range b.subs {
		deliver(ch, s)
	}
}

func deliver(ch chan media.StreamState, s media.StreamState) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		// Buffer full: discard the oldest pending entry and retry. The
		// select default covers a concurrent reader emptying the channel.
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned channel immediately
// yields the most recently published state (if any), then every subsequent
// transition in publish order. cancel unsubscribes and closes the channel;
// it is safe to call more than once and never affects other subscribers.
func (b *Broadcaster) Subscribe() (<-chan media.StreamState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan media.StreamState, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.hasAny {
		ch <- b.last
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Last returns the most recently published state, or false if nothing has
// been published yet.
func (b *Broadcaster) Last() (media.StreamState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasAny
}

// Close closes all subscriber channels and rejects further publishes.
// Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
