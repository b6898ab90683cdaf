package quic

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nrbnlulu/flutter-realtime-player/certs"
	"github.com/nrbnlulu/flutter-realtime-player/media"
)

func TestSinkReceiverEndToEnd(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}

	got := make(chan media.Frame, 8)
	recv, err := NewReceiver("127.0.0.1:0", cert.TLSCert, func(f media.Frame) {
		got <- f
	}, nil)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recv.Run(ctx)

	s, err := Dial(ctx, recv.Addr(), true, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	want := media.Frame{
		SessionID: 3,
		Width:     8,
		Height:    8,
		PTS:       40_000,
		Data:      bytes.Repeat([]byte{0x7F}, 8*8*4),
	}
	s.Deliver(want)

	select {
	case f := <-got:
		if f.SessionID != want.SessionID || f.PTS != want.PTS || !bytes.Equal(f.Data, want.Data) {
			t.Errorf("received frame mismatch: %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame never arrived")
	}
}

func TestSinkDeliverNeverBlocks(t *testing.T) {
	t.Parallel()

	// An undialed sink cannot exist, so exercise the drop path through a
	// full queue: Deliver must return promptly even with no writer draining.
	s := &Sink{frames: make(chan media.Frame, 2), done: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Deliver(media.Frame{PTS: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a full queue")
	}

	// Freshest frames win.
	f := <-s.frames
	if f.PTS < 90 {
		t.Errorf("expected a recent frame, got PTS %d", f.PTS)
	}
}

// Session workers keep delivering while the host tears the sink down; Close
// must never let an in-flight Deliver hit a closed queue.
func TestSinkCloseDuringDeliver(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	recv, err := NewReceiver("127.0.0.1:0", cert.TLSCert, func(media.Frame) {}, nil)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recv.Run(ctx)

	s, err := Dial(ctx, recv.Addr(), true, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			frame := media.Frame{SessionID: id, Width: 4, Height: 4, Data: make([]byte, 4*4*4)}
			for {
				select {
				case <-stop:
					return
				default:
					s.Deliver(frame)
				}
			}
		}(int64(i))
	}

	time.Sleep(50 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	close(stop)
	wg.Wait()
}
