package hls

import (
	"strings"
	"testing"
	"time"
)

const livePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:42
#EXT-X-PROGRAM-DATE-TIME:2026-08-30T12:00:00.000Z
#EXTINF:10.0,
seg42.ts
#EXTINF:9.5,
seg43.ts
#EXTINF:10.0,
seg44.ts
`

func TestParseMediaPlaylist(t *testing.T) {
	t.Parallel()

	p, err := Parse(strings.NewReader(livePlaylist))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Master {
		t.Error("media playlist parsed as master")
	}
	if p.Finished {
		t.Error("live playlist parsed as finished")
	}
	if p.StartSeq != 42 {
		t.Errorf("StartSeq: got %d, want 42", p.StartSeq)
	}
	if p.TargetDuration != 10_000_000 {
		t.Errorf("TargetDuration: got %d, want 10000000", p.TargetDuration)
	}
	if len(p.Segments) != 3 {
		t.Fatalf("segments: got %d, want 3", len(p.Segments))
	}
	if p.Segments[1].Duration != 9_500_000 {
		t.Errorf("segment 1 duration: got %d, want 9500000", p.Segments[1].Duration)
	}
	if p.Segments[0].URI != "seg42.ts" {
		t.Errorf("segment 0 uri: got %q", p.Segments[0].URI)
	}

	dt, ok := p.FirstDateTime()
	if !ok {
		t.Fatal("FirstDateTime: no date-time found")
	}
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if !dt.Equal(want) {
		t.Errorf("FirstDateTime: got %v, want %v", dt, want)
	}
}

func TestParseVOD(t *testing.T) {
	t.Parallel()

	const vod = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
a.ts
#EXTINF:4.0,
b.ts
#EXT-X-ENDLIST
`
	p, err := Parse(strings.NewReader(vod))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.Finished {
		t.Error("VOD playlist should be finished")
	}
	if p.StartSeq != 0 {
		t.Errorf("StartSeq: got %d, want 0", p.StartSeq)
	}
	if p.TotalDuration() != 10_000_000 {
		t.Errorf("TotalDuration: got %d, want 10000000", p.TotalDuration())
	}
}

func TestParseMaster(t *testing.T) {
	t.Parallel()

	const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
high/index.m3u8
`
	p, err := Parse(strings.NewReader(master))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.Master {
		t.Fatal("master playlist not detected")
	}
	if len(p.VariantURIs) != 2 || p.VariantURIs[0] != "low/index.m3u8" {
		t.Errorf("variants: got %v", p.VariantURIs)
	}
}

func TestParseRejectsNonPlaylist(t *testing.T) {
	t.Parallel()

	if _, err := Parse(strings.NewReader("not a playlist")); err != ErrNotPlaylist {
		t.Errorf("got %v, want ErrNotPlaylist", err)
	}
}

func TestDurationUntil(t *testing.T) {
	t.Parallel()

	p, err := Parse(strings.NewReader(livePlaylist))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		seq  int64
		want int64
	}{
		{42, 0},
		{43, 10_000_000},
		{44, 19_500_000},
		{45, 29_500_000},
		{100, 29_500_000}, // clamped to full window
		{10, 0},           // before window
	}
	for _, tt := range tests {
		if got := p.DurationUntil(tt.seq); got != tt.want {
			t.Errorf("DurationUntil(%d): got %d, want %d", tt.seq, got, tt.want)
		}
	}
}

func TestSequenceFor(t *testing.T) {
	t.Parallel()

	p, err := Parse(strings.NewReader(livePlaylist))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		offsetUs int64
		want     int64
	}{
		{0, 42},
		{9_999_999, 42},
		{10_000_000, 43},
		{19_500_000, 44},
		{99_000_000, 44}, // past window maps to last segment
		{-5, 42},
	}
	for _, tt := range tests {
		if got := p.SequenceFor(tt.offsetUs); got != tt.want {
			t.Errorf("SequenceFor(%d): got %d, want %d", tt.offsetUs, got, tt.want)
		}
	}
}
