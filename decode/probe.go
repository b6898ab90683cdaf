// Package decode runs the native decode pipeline: an exec'd ffmpeg process
// emitting raw RGBA frames on stdout, probed up front with ffprobe. Seeks and
// resizes are expressed as process restarts with different arguments.
package decode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Info is the probed description of a media source.
type Info struct {
	Width      int
	Height     int
	DurationUs int64 // zero for live sources
	FPS        float64
	Format     string // first format name token, e.g. "hls", "mpegts", "mov"
	CodecName  string
	Seekable   bool // container supports native seeking
}

// probeTimeout bounds a single ffprobe invocation.
const probeTimeout = 15 * time.Second

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ProbeURI inspects uri with ffprobe and returns the video stream metadata.
// The extra options map is forwarded as input options, matching the decode
// pipeline's passthrough behavior.
func ProbeURI(ctx context.Context, ffprobePath, uri string, extra map[string]string) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams"}
	args = append(args, optionArgs(extra)...)
	args = append(args, uri)

	out, err := exec.CommandContext(ctx, ffprobePath, args...).Output()
	if err != nil {
		return Info{}, fmt.Errorf("decode: ffprobe %s: %w", uri, err)
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return Info{}, fmt.Errorf("decode: parse ffprobe output: %w", err)
	}

	info := Info{
		Format: firstToken(raw.Format.FormatName),
	}
	if raw.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
			info.DurationUs = int64(secs * 1e6)
		}
	}

	for _, s := range raw.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width = s.Width
		info.Height = s.Height
		info.CodecName = s.CodecName
		if s.AvgFrameRate != "" {
			info.FPS = parseRate(s.AvgFrameRate)
		}
		if info.FPS == 0 && s.RFrameRate != "" {
			info.FPS = parseRate(s.RFrameRate)
		}
		break
	}
	if info.Width == 0 || info.Height == 0 {
		return info, fmt.Errorf("decode: no video stream in %s", uri)
	}

	// A known finite duration is what makes native seeking worthwhile; live
	// transports report none.
	info.Seekable = info.DurationUs > 0 && !isLiveFormat(info.Format)
	return info, nil
}

func isLiveFormat(format string) bool {
	switch format {
	case "mpegts", "rtsp", "rtp", "sdp":
		return true
	}
	return false
}

func firstToken(formatName string) string {
	if i := strings.IndexByte(formatName, ','); i >= 0 {
		return formatName[:i]
	}
	return formatName
}

// parseRate parses an ffprobe rational like "30000/1001".
func parseRate(s string) float64 {
	var num, den int
	if n, _ := fmt.Sscanf(s, "%d/%d", &num, &den); n == 2 && den != 0 {
		return float64(num) / float64(den)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return 0
}

// optionArgs renders an options map as sorted "-key value" argument pairs so
// process invocations are deterministic.
func optionArgs(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, "-"+k, extra[k])
	}
	return args
}
