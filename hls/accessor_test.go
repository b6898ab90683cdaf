package hls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPollerInitialFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(livePlaylist))
	}))
	defer srv.Close()

	p, err := NewPoller(context.Background(), srv.URL+"/index.m3u8", 0, nil)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}

	win := p.CurrentWindow()
	if win.StartSeq != 42 || len(win.Segments) != 3 {
		t.Errorf("window: seq=%d segments=%d", win.StartSeq, len(win.Segments))
	}
	if !p.Live() {
		t.Error("playlist without ENDLIST should report live")
	}
}

func TestPollerResolvesMaster(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nmedia/index.m3u8\n"))
	})
	mux.HandleFunc("/media/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(livePlaylist))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewPoller(context.Background(), srv.URL+"/master.m3u8", 0, nil)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	if want := srv.URL + "/media/index.m3u8"; p.MediaURL() != want {
		t.Errorf("MediaURL: got %q, want %q", p.MediaURL(), want)
	}
	if got := len(p.CurrentWindow().Segments); got != 3 {
		t.Errorf("segments: got %d, want 3", got)
	}
}

func TestPollerRejectsEmptyWindow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:6\n"))
	}))
	defer srv.Close()

	if _, err := NewPoller(context.Background(), srv.URL, 0, nil); err != ErrNoSegments {
		t.Errorf("got %v, want ErrNoSegments", err)
	}
}

func TestStaticWindow(t *testing.T) {
	t.Parallel()

	pl := &Playlist{Finished: true, Segments: []Segment{{Duration: 1}}}
	w := &StaticWindow{Playlist: pl}
	if w.CurrentWindow() != pl {
		t.Error("CurrentWindow should return the fixed playlist")
	}
	if w.Live() {
		t.Error("finished playlist should not be live")
	}
}
