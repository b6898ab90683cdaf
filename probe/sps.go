package probe

import "errors"

var errSPSTruncated = errors.New("probe: truncated SPS")

// parseSPSDims walks an H.264 sequence parameter set far enough to compute
// the cropped picture dimensions. Input is the raw NAL including the header
// byte, without a start code.
func parseSPSDims(nalu []byte) (int, int, error) {
	if len(nalu) < 4 {
		return 0, 0, errSPSTruncated
	}
	br := spsReader{data: stripEmulationPrevention(nalu[1:])}

	profileIDC := br.bits(8)
	br.bits(16) // constraint flags + level_idc
	br.ue()     // seq_parameter_set_id

	chromaFormatIDC := uint(1)
	separateColourPlane := false
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chromaFormatIDC = br.ue()
		if chromaFormatIDC == 3 {
			separateColourPlane = br.bits(1) == 1
		}
		br.ue()     // bit_depth_luma_minus8
		br.ue()     // bit_depth_chroma_minus8
		br.bits(1)  // qpprime_y_zero_transform_bypass_flag
		if br.bits(1) == 1 {
			limit := 8
			if chromaFormatIDC == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				if br.bits(1) == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					br.skipScalingList(size)
				}
			}
		}
	}

	br.ue() // log2_max_frame_num_minus4
	switch br.ue() {
	case 0:
		br.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		br.bits(1) // delta_pic_order_always_zero_flag
		br.se()
		br.se()
		n := br.ue()
		for i := uint(0); i < n; i++ {
			br.se()
		}
	}

	br.ue()    // max_num_ref_frames
	br.bits(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := br.ue()
	heightMapUnits := br.ue()
	frameMbsOnly := br.bits(1)
	if frameMbsOnly == 0 {
		br.bits(1) // mb_adaptive_frame_field_flag
	}
	br.bits(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if br.bits(1) == 1 {
		cropL = br.ue()
		cropR = br.ue()
		cropT = br.ue()
		cropB = br.ue()
	}
	if br.err != nil {
		return 0, 0, br.err
	}

	chromaArrayType := chromaFormatIDC
	if separateColourPlane {
		chromaArrayType = 0
	}
	subW, subH := uint(1), uint(1)
	switch chromaArrayType {
	case 1:
		subW, subH = 2, 2
	case 2:
		subW, subH = 2, 1
	}

	fieldMul := 2 - frameMbsOnly
	width := int((widthMbs+1)*16 - subW*(cropL+cropR))
	height := int((heightMapUnits+1)*16*fieldMul - subH*fieldMul*(cropT+cropB))
	if width <= 0 || height <= 0 {
		return 0, 0, errSPSTruncated
	}
	return width, height, nil
}

// spsReader is a sticky-error bit reader over RBSP bytes.
type spsReader struct {
	data []byte
	pos  int
	bit  int
	err  error
}

func (r *spsReader) bits(n int) uint {
	var v uint
	for i := 0; i < n; i++ {
		if r.err != nil {
			return 0
		}
		if r.pos >= len(r.data) {
			r.err = errSPSTruncated
			return 0
		}
		v = v<<1 | uint(r.data[r.pos]>>(7-r.bit)&1)
		r.bit++
		if r.bit == 8 {
			r.bit = 0
			r.pos++
		}
	}
	return v
}

// ue reads an unsigned Exp-Golomb code.
func (r *spsReader) ue() uint {
	zeros := 0
	for r.bits(1) == 0 {
		if r.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			r.err = errSPSTruncated
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return (1 << zeros) - 1 + r.bits(zeros)
}

// se reads a signed Exp-Golomb code.
func (r *spsReader) se() int {
	v := r.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (r *spsReader) skipScalingList(size int) {
	last, next := 8, 8
	for i := 0; i < size; i++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// stripEmulationPrevention removes 0x03 emulation prevention bytes from a
// NAL payload, yielding the raw RBSP.
func stripEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
