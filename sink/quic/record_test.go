package quic

import (
	"bytes"
	"io"
	"testing"

	"github.com/nrbnlulu/flutter-realtime-player/media"
)

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	want := media.Frame{
		SessionID: 42,
		Width:     64,
		Height:    36,
		PTS:       1_234_567,
		Data:      bytes.Repeat([]byte{0xAB}, 64*36*4),
	}

	var buf bytes.Buffer
	if err := writeRecord(&buf, want); err != nil {
		t.Fatalf("writeRecord: %v", err)
	}

	got, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got.SessionID != want.SessionID || got.Width != want.Width ||
		got.Height != want.Height || got.PTS != want.PTS {
		t.Errorf("header: got %+v", got)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Error("payload mismatch")
	}
}

func TestReadRecordTruncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := writeRecord(&buf, media.Frame{SessionID: 1, Width: 2, Height: 2, Data: make([]byte, 16)}); err != nil {
		t.Fatalf("writeRecord: %v", err)
	}
	trunc := buf.Bytes()[:buf.Len()-4]

	if _, err := ReadRecord(bytes.NewReader(trunc)); err == nil {
		t.Error("expected error for truncated record")
	}
}

func TestReadRecordEmpty(t *testing.T) {
	t.Parallel()

	if _, err := ReadRecord(bytes.NewReader(nil)); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}
