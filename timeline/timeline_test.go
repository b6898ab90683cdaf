package timeline

import "testing"

func TestStandardIdentity(t *testing.T) {
	t.Parallel()

	tl := NewStandard(true)
	if !tl.Seekable() {
		t.Error("Seekable: got false, want true")
	}
	if got := tl.AdjustSeekTimestamp(1_500_000); got != 1_500_000 {
		t.Errorf("AdjustSeekTimestamp: got %d, want 1500000", got)
	}
	tl.Update(42)
	if got := tl.TimeOffsetUs(); got != 0 {
		t.Errorf("TimeOffsetUs: got %d, want 0", got)
	}
	if _, ok := tl.StreamStartUnixTime(); ok {
		t.Error("StreamStartUnixTime: standard sources have none")
	}
}

func TestStandardUnseekable(t *testing.T) {
	t.Parallel()

	if NewStandard(false).Seekable() {
		t.Error("Seekable: got true, want false")
	}
}
