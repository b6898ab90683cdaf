package media

import "testing"

func TestStreamStateTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state StreamState
		want  bool
	}{
		{Loading(), false},
		{Playing(1, true), false},
		{Stopped(), true},
		{Errored("x"), true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%v.Terminal(): got %t, want %t", tt.state, got, tt.want)
		}
	}
}

func TestStreamStateString(t *testing.T) {
	t.Parallel()

	if got := Playing(3, true).String(); got != "playing(texture=3 seekable=true)" {
		t.Errorf("got %q", got)
	}
	if got := Errored("boom").String(); got != "error(boom)" {
		t.Errorf("got %q", got)
	}
	if got := Loading().String(); got != "loading" {
		t.Errorf("got %q", got)
	}
}

func TestDimensionsValid(t *testing.T) {
	t.Parallel()

	if !(Dimensions{Width: 1, Height: 1}).Valid() {
		t.Error("1x1 should be valid")
	}
	if (Dimensions{Width: 0, Height: 10}).Valid() {
		t.Error("zero width should be invalid")
	}
	if (Dimensions{Width: 10, Height: -1}).Valid() {
		t.Error("negative height should be invalid")
	}
	if got := (Dimensions{Width: 1920, Height: 1080}).String(); got != "1920x1080" {
		t.Errorf("String: got %q", got)
	}
}
