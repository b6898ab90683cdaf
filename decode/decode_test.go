package decode

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nrbnlulu/flutter-realtime-player/config"
)

func TestBuildArgsDirect(t *testing.T) {
	t.Parallel()

	args := buildArgs(Options{
		URI:    "https://example.com/v.mp4",
		Width:  640,
		Height: 360,
	})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i https://example.com/v.mp4",
		"-f rawvideo",
		"-pix_fmt rgba",
		"-vf scale=640:360",
		"pipe:1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "-ss") {
		t.Errorf("no seek requested but args contain -ss: %s", joined)
	}
}

func TestBuildArgsSeekBias(t *testing.T) {
	t.Parallel()

	fwd := strings.Join(buildArgs(Options{
		URI: "v.mp4", Width: 64, Height: 36,
		StartUs: 12_500_000, Bias: config.SeekForward,
	}), " ")
	if !strings.Contains(fwd, "-seek_timestamp 1") || !strings.Contains(fwd, "-ss 12.500000") {
		t.Errorf("forward seek args: %s", fwd)
	}

	back := strings.Join(buildArgs(Options{
		URI: "v.mp4", Width: 64, Height: 36,
		StartUs: 12_500_000, Bias: config.SeekBackward,
	}), " ")
	if !strings.Contains(back, "-noaccurate_seek") {
		t.Errorf("backward seek args: %s", back)
	}
	if strings.Contains(back, "-seek_timestamp") {
		t.Errorf("backward seek should not request timestamp seeking: %s", back)
	}
}

func TestBuildArgsPipedInput(t *testing.T) {
	t.Parallel()

	args := buildArgs(Options{
		Format: "mpegts", Reader: strings.NewReader(""),
		Width: 64, Height: 36,
	})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f mpegts -i pipe:0") {
		t.Errorf("piped input args: %s", joined)
	}
}

func TestOptionArgsSorted(t *testing.T) {
	t.Parallel()

	got := optionArgs(map[string]string{
		"rtsp_transport":  "tcp",
		"analyzeduration": "1000000",
		"timeout":         "5000000",
	})
	want := []string{
		"-analyzeduration", "1000000",
		"-rtsp_transport", "tcp",
		"-timeout", "5000000",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if optionArgs(nil) != nil {
		t.Error("nil map should yield nil args")
	}
}

func TestParseRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 25},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRate(tt.in); got != tt.want {
			t.Errorf("parseRate(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFirstToken(t *testing.T) {
	t.Parallel()

	if got := firstToken("mov,mp4,m4a,3gp"); got != "mov" {
		t.Errorf("got %q, want mov", got)
	}
	if got := firstToken("hls"); got != "hls" {
		t.Errorf("got %q, want hls", got)
	}
}

func TestSynchronizerAnchorsWithoutSleeping(t *testing.T) {
	t.Parallel()

	s := NewSynchronizer()
	start := time.Now()
	s.Wait(1_000_000) // first frame anchors
	s.Wait(1_010_000) // 10ms later
	elapsed := time.Since(start)

	if elapsed < 5*time.Millisecond {
		t.Errorf("second frame should have been paced, elapsed %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("pacing slept far too long: %v", elapsed)
	}
}

func TestSynchronizerRebaseOnJump(t *testing.T) {
	t.Parallel()

	s := NewSynchronizer()
	s.Wait(0)

	// A jump beyond the sleep cap must rebase instead of stalling.
	start := time.Now()
	s.Wait(60_000_000)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("oversized jump slept %v", elapsed)
	}

	// Backward jump (seek) also rebases.
	start = time.Now()
	s.Wait(1_000_000)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("backward jump slept %v", elapsed)
	}
}

func TestSynchronizerReset(t *testing.T) {
	t.Parallel()

	s := NewSynchronizer()
	s.Wait(0)
	s.Reset()

	start := time.Now()
	s.Wait(900_000) // would sleep ~0.9s without the reset
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("post-reset frame slept %v", elapsed)
	}
}
