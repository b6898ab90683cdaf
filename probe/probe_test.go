package probe

import (
	"bytes"
	"errors"
	"testing"
)

// testSPS is a baseline-profile SPS (64x48, no cropping, no VUI), NAL header
// included.
var testSPS = []byte{0x67, 0x42, 0x00, 0x1E, 0xF4, 0x23, 0xC8}

func TestParseSPSDims(t *testing.T) {
	t.Parallel()

	w, h, err := parseSPSDims(testSPS)
	if err != nil {
		t.Fatalf("parseSPSDims: %v", err)
	}
	if w != 64 || h != 48 {
		t.Errorf("dims: got %dx%d, want 64x48", w, h)
	}
}

func TestParseSPSDimsTruncated(t *testing.T) {
	t.Parallel()

	if _, _, err := parseSPSDims(testSPS[:3]); err == nil {
		t.Error("expected error for truncated SPS")
	}
	if _, _, err := parseSPSDims([]byte{0x67, 0x42}); err == nil {
		t.Error("expected error for too-short NAL")
	}
}

func TestStripEmulationPrevention(t *testing.T) {
	t.Parallel()

	in := []byte{0x00, 0x00, 0x03, 0x01, 0xAB}
	want := []byte{0x00, 0x00, 0x01, 0xAB}
	if got := stripEmulationPrevention(in); !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
}

// tsPacket builds one 188-byte transport packet with the given payload.
func tsPacket(pid uint16, pusi bool, payload []byte) []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = byte(pid >> 8 & 0x1F)
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 // payload only
	n := copy(pkt[4:], payload)
	for i := 4 + n; i < tsPacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func patPacket() []byte {
	section := []byte{
		0x00,             // pointer field
		0x00, 0xB0, 0x0D, // table id, syntax+length
		0x00, 0x01, 0xC1, 0x00, 0x00, // ts id, version, section numbers
		0x00, 0x01, 0xE1, 0x00, // program 1 -> PMT PID 0x100
		0xDE, 0xAD, 0xBE, 0xEF, // CRC (not verified by the probe)
	}
	return tsPacket(pidPAT, true, section)
}

func pmtPacket(streamType byte) []byte {
	section := []byte{
		0x00,             // pointer field
		0x02, 0xB0, 0x12, // table id, syntax+length
		0x00, 0x01, 0xC1, 0x00, 0x00, // program, version, section numbers
		0xE1, 0x00, // PCR PID
		0xF0, 0x00, // program info length
		streamType, 0xE1, 0x01, 0xF0, 0x00, // ES entry -> PID 0x101
		0xDE, 0xAD, 0xBE, 0xEF, // CRC
	}
	return tsPacket(0x100, true, section)
}

// videoPESPacket wraps es in a PES header carrying a PTS of 90000 ticks (1s).
func videoPESPacket(es []byte) []byte {
	pes := []byte{
		0x00, 0x00, 0x01, 0xE0, // start code, video stream id
		0x00, 0x00, // unbounded length
		0x80, 0x80, 0x05, // flags: PTS only, header length 5
		0x21, 0x00, 0x05, 0xBF, 0x21, // PTS = 90000
	}
	return tsPacket(0x101, true, append(pes, es...))
}

func TestDetectTS(t *testing.T) {
	t.Parallel()

	es := append([]byte{0x00, 0x00, 0x00, 0x01}, testSPS...)
	es = append(es, 0x00, 0x00, 0x01, 0x65, 0x88) // IDR slice start

	var stream bytes.Buffer
	stream.Write(patPacket())
	stream.Write(pmtPacket(StreamTypeH264))
	stream.Write(videoPESPacket(es))

	res, err := DetectTS(&stream, 0)
	if err != nil {
		t.Fatalf("DetectTS: %v", err)
	}
	if !res.HasPTS || res.PTSUs != 1_000_000 {
		t.Errorf("PTS: got %d (has=%t), want 1000000", res.PTSUs, res.HasPTS)
	}
	if !res.HasDims || res.Width != 64 || res.Height != 48 {
		t.Errorf("dims: got %dx%d (has=%t), want 64x48", res.Width, res.Height, res.HasDims)
	}
	if res.StreamType != StreamTypeH264 {
		t.Errorf("stream type: got 0x%02X, want 0x1B", res.StreamType)
	}
}

func TestDetectTSNonH264SkipsDims(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(patPacket())
	stream.Write(pmtPacket(StreamTypeMPEG2))
	stream.Write(videoPESPacket([]byte{0x00, 0x00, 0x01, 0xB3}))

	res, err := DetectTS(&stream, 0)
	if err != nil {
		t.Fatalf("DetectTS: %v", err)
	}
	if !res.HasPTS {
		t.Error("expected PTS for MPEG-2 stream")
	}
	if res.HasDims {
		t.Error("dimension parsing is H.264 only")
	}
}

func TestDetectTSNoSync(t *testing.T) {
	t.Parallel()

	garbage := bytes.Repeat([]byte{0xAA}, tsPacketSize)
	if _, err := DetectTS(bytes.NewReader(garbage[:100]), 0); !errors.Is(err, ErrNoSync) {
		t.Errorf("got %v, want ErrNoSync", err)
	}
}

func TestDetectTSNoVideo(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(patPacket())

	if _, err := DetectTS(&stream, 0); !errors.Is(err, ErrNoVideo) {
		t.Errorf("got %v, want ErrNoVideo", err)
	}
}

func TestDetectTSResync(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write([]byte{0xDE, 0xAD}) // leading garbage before the first sync byte
	stream.Write(patPacket())
	stream.Write(pmtPacket(StreamTypeH264))
	es := append([]byte{0x00, 0x00, 0x00, 0x01}, testSPS...)
	stream.Write(videoPESPacket(es))
	// Padding so the resync shift does not run out of input mid-packet.
	stream.Write(tsPacket(0x1FFF, false, nil))

	res, err := DetectTS(&stream, 0)
	if err != nil {
		t.Fatalf("DetectTS: %v", err)
	}
	if !res.HasPTS {
		t.Error("expected PTS after resync")
	}
}
