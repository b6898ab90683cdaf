// Package probe inspects the head of a piped MPEG-TS stream to discover the
// video elementary stream, its first presentation timestamp, and (for H.264)
// the coded picture dimensions. It exists for sources delivered over a pipe,
// where ffprobe cannot rewind the input without consuming bytes the decoder
// needs.
package probe

import (
	"errors"
	"fmt"
	"io"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
	pidPAT       = 0x0000
)

// Elementary stream types from ISO 13818-1 Table 2-34.
const (
	StreamTypeMPEG2 = 0x02
	StreamTypeH264  = 0x1B
	StreamTypeHEVC  = 0x24
)

// DefaultLimit bounds how many bytes DetectTS consumes before giving up.
// Roughly two seconds of a 10 Mbit/s transport stream.
const DefaultLimit = 2_500_000

var (
	// ErrNoSync means no transport packet sync byte was found in the input.
	ErrNoSync = errors.New("probe: no MPEG-TS sync")
	// ErrNoVideo means the stream carries no recognized video elementary stream.
	ErrNoVideo = errors.New("probe: no video stream found")
)

// Result describes what was learned from the stream head.
type Result struct {
	Width      int
	Height     int
	StreamType byte  // elementary stream type of the video PID
	PTSUs      int64 // first video presentation timestamp, microseconds
	HasPTS     bool
	HasDims    bool
}

// DetectTS reads transport packets from r until it has found the video PID's
// first PTS and, for H.264 streams, the SPS dimensions, or until limit bytes
// have been consumed (limit <= 0 selects DefaultLimit). The consumed bytes
// are gone from r; callers that also need to decode the stream should tee
// the input.
func DetectTS(r io.Reader, limit int) (Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		res      Result
		pmtPID   uint16
		videoPID uint16
		havePMT  bool
		esBuf    []byte
		consumed int
	)

	buf := make([]byte, tsPacketSize)
	synced := false

	for consumed < limit {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !synced {
				return res, ErrNoSync
			}
			scanVideoPES(esBuf, &res)
			return res, finish(res, err)
		}
		consumed += tsPacketSize

		if buf[0] != tsSyncByte {
			// Resync: scan forward to the next sync byte.
			idx := -1
			for i := 1; i < tsPacketSize; i++ {
				if buf[i] == tsSyncByte {
					idx = i
					break
				}
			}
			if idx < 0 {
				continue
			}
			copy(buf, buf[idx:])
			tail := buf[tsPacketSize-idx:]
			if _, err := io.ReadFull(r, tail); err != nil {
				return res, finish(res, err)
			}
			consumed += idx
		}
		synced = true

		pid := uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
		pusi := buf[1]&0x40 != 0
		hasAF := buf[3]&0x20 != 0
		hasPayload := buf[3]&0x10 != 0
		if !hasPayload {
			continue
		}

		offset := 4
		if hasAF {
			offset += 1 + int(buf[4])
			if offset >= tsPacketSize {
				continue
			}
		}
		payload := buf[offset:]

		switch {
		case pid == pidPAT:
			if pmtPID == 0 {
				pmtPID = parsePAT(payload)
			}

		case pmtPID != 0 && pid == pmtPID && !havePMT:
			videoPID, res.StreamType = parsePMT(payload)
			if videoPID != 0 {
				havePMT = true
			}

		case havePMT && pid == videoPID:
			if pusi {
				if done := scanVideoPES(esBuf, &res); done {
					return res, nil
				}
				esBuf = esBuf[:0]
			}
			esBuf = append(esBuf, payload...)
		}
	}

	if !havePMT {
		return res, ErrNoVideo
	}
	if done := scanVideoPES(esBuf, &res); done {
		return res, nil
	}
	return res, finish(res, nil)
}

// finish decides whether a partial result is usable.
func finish(res Result, cause error) error {
	if res.HasPTS {
		return nil
	}
	if cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, io.ErrUnexpectedEOF) {
		return fmt.Errorf("probe: read: %w", cause)
	}
	return ErrNoVideo
}

// parsePAT returns the PMT PID of the first program, or 0.
func parsePAT(payload []byte) uint16 {
	data := sectionData(payload)
	if data == nil || data[0] != 0x00 {
		return 0
	}
	sectionLen := int(data[1]&0x0F)<<8 | int(data[2])
	end := 3 + sectionLen - 4 // exclude CRC32
	if end > len(data) {
		end = len(data)
	}
	for i := 8; i+4 <= end; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		if programNumber == 0 {
			continue // network PID
		}
		return uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])
	}
	return 0
}

// parsePMT returns the first video elementary PID and its stream type, or 0.
func parsePMT(payload []byte) (uint16, byte) {
	data := sectionData(payload)
	if data == nil || data[0] != 0x02 || len(data) < 12 {
		return 0, 0
	}
	sectionLen := int(data[1]&0x0F)<<8 | int(data[2])
	end := 3 + sectionLen - 4
	if end > len(data) {
		end = len(data)
	}
	programInfoLen := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLen
	for offset+5 <= end {
		streamType := data[offset]
		esPID := uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2])
		esInfoLen := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		switch streamType {
		case StreamTypeMPEG2, StreamTypeH264, StreamTypeHEVC:
			return esPID, streamType
		}
		offset += 5 + esInfoLen
	}
	return 0, 0
}

// sectionData skips the PSI pointer field and returns the table section, or
// nil when the payload is malformed.
func sectionData(payload []byte) []byte {
	if len(payload) < 1 {
		return nil
	}
	offset := 1 + int(payload[0])
	if offset+3 > len(payload) {
		return nil
	}
	data := payload[offset:]
	if data[1]&0x80 == 0 { // section_syntax_indicator
		return nil
	}
	return data
}

// scanVideoPES extracts the PTS from an accumulated PES packet and, for
// H.264, looks for an SPS to fill in dimensions. Returns true once the
// result is complete for the detected codec.
func scanVideoPES(pes []byte, res *Result) bool {
	if len(pes) < 9 || pes[0] != 0x00 || pes[1] != 0x00 || pes[2] != 0x01 {
		return false
	}

	ptsDTSFlags := (pes[7] >> 6) & 0x03
	headerLen := int(pes[8])
	if !res.HasPTS && ptsDTSFlags >= 2 && len(pes) >= 14 {
		base := int64(pes[9]>>1&0x07)<<30 |
			int64(pes[10])<<22 |
			int64(pes[11]>>1&0x7F)<<15 |
			int64(pes[12])<<7 |
			int64(pes[13]>>1&0x7F)
		res.PTSUs = base * 100 / 9 // 90 kHz ticks to microseconds
		res.HasPTS = true
	}

	dataStart := 9 + headerLen
	if dataStart > len(pes) {
		dataStart = len(pes)
	}

	if res.StreamType == StreamTypeH264 && !res.HasDims {
		if w, h, ok := findSPSDims(pes[dataStart:]); ok {
			res.Width, res.Height = w, h
			res.HasDims = true
		}
	}

	if res.StreamType == StreamTypeH264 {
		return res.HasPTS && res.HasDims
	}
	return res.HasPTS
}

// findSPSDims scans an Annex B elementary stream for an SPS NAL and parses
// its picture dimensions.
func findSPSDims(es []byte) (int, int, bool) {
	for i := 0; i+4 < len(es); i++ {
		if es[i] != 0x00 || es[i+1] != 0x00 {
			continue
		}
		start := -1
		if es[i+2] == 0x01 {
			start = i + 3
		} else if i+4 < len(es) && es[i+2] == 0x00 && es[i+3] == 0x01 {
			start = i + 4
		}
		if start < 0 || start >= len(es) {
			continue
		}
		if es[start]&0x1F != 7 { // SPS NAL type
			continue
		}
		end := len(es)
		for j := start + 1; j+3 <= len(es); j++ {
			if es[j] == 0x00 && es[j+1] == 0x00 && (es[j+2] == 0x01 || (j+3 < len(es) && es[j+2] == 0x00 && es[j+3] == 0x01)) {
				end = j
				break
			}
		}
		if w, h, err := parseSPSDims(es[start:end]); err == nil {
			return w, h, true
		}
	}
	return 0, 0, false
}
