package decode

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/nrbnlulu/flutter-realtime-player/config"
	"github.com/nrbnlulu/flutter-realtime-player/media"
)

// defaultFPS paces PTS fabrication when the probe could not determine a
// frame rate.
const defaultFPS = 30.0

// Options describes one pipeline invocation. A seek or resize is a new
// invocation with an adjusted StartUs or output size.
type Options struct {
	FFmpegPath string
	URI        string
	Format     string    // input container hint, required when Reader is set
	Reader     io.Reader // piped input on stdin; nil for direct URIs
	Width      int       // output scale target
	Height     int
	FPS        float64 // probed frame rate, 0 selects defaultFPS
	StartUs    int64   // raw start timestamp; 0 starts at the beginning
	Bias       config.SeekBias
	Extra      map[string]string // input options forwarded as -key value
}

// Pipeline owns one running ffmpeg process decoding to raw RGBA on stdout.
// ReadFrame is single-consumer; Close may be called from any goroutine and
// is idempotent.
type Pipeline struct {
	log    *slog.Logger
	cmd    *exec.Cmd
	stdout io.ReadCloser

	width     int
	height    int
	frameSize int
	ptsStep   float64 // microseconds per frame
	baseUs    int64
	frameIdx  int64

	done      chan error
	closeOnce sync.Once
	closeErr  error
}

// Open starts the decode process. The process is intentionally not tied to a
// context: its lifetime is the session's decode epoch, ended by Close.
func Open(opts Options, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("decode: invalid output size %dx%d", opts.Width, opts.Height)
	}

	args := buildArgs(opts)
	cmd := exec.Command(opts.FFmpegPath, args...)
	if opts.Reader != nil {
		cmd.Stdin = opts.Reader
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: start ffmpeg: %w", err)
	}

	fps := opts.FPS
	if fps <= 0 {
		fps = defaultFPS
	}

	p := &Pipeline{
		log:       log.With("component", "pipeline"),
		cmd:       cmd,
		stdout:    stdout,
		width:     opts.Width,
		height:    opts.Height,
		frameSize: opts.Width * opts.Height * 4,
		ptsStep:   1e6 / fps,
		baseUs:    opts.StartUs,
		done:      make(chan error, 1),
	}

	go p.drainStderr(stderr)
	go func() { p.done <- cmd.Wait() }()

	p.log.Debug("decoder started",
		"pid", cmd.Process.Pid, "size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"start_us", opts.StartUs)
	return p, nil
}

// buildArgs renders the ffmpeg invocation: input options (passthrough map,
// seek), the input, then the rawvideo RGBA output on stdout.
func buildArgs(opts Options) []string {
	args := []string{"-loglevel", "error", "-nostdin"}
	args = append(args, optionArgs(opts.Extra)...)

	if opts.StartUs > 0 {
		if opts.Bias == config.SeekBackward {
			// Land on the keyframe at or before the target.
			args = append(args, "-noaccurate_seek")
		} else {
			args = append(args, "-accurate_seek", "-seek_timestamp", "1")
		}
		args = append(args, "-ss", fmt.Sprintf("%.6f", float64(opts.StartUs)/1e6))
	}

	if opts.Reader != nil {
		args = append(args, "-f", opts.Format, "-i", "pipe:0")
	} else {
		args = append(args, "-i", opts.URI)
	}

	args = append(args,
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"pipe:1",
	)
	return args
}

// Dimensions returns the output frame size.
func (p *Pipeline) Dimensions() media.Dimensions {
	return media.Dimensions{Width: p.width, Height: p.height}
}

// ReadFrame blocks for the next full RGBA frame. The returned buffer is
// freshly allocated; ownership passes to the caller. The PTS is fabricated
// from the start offset and frame index, which is exact for constant-rate
// output (the scaler emits one frame per input frame).
func (p *Pipeline) ReadFrame() ([]byte, int64, error) {
	buf := make([]byte, p.frameSize)
	if _, err := io.ReadFull(p.stdout, buf); err != nil {
		select {
		case werr := <-p.done:
			p.done <- werr
			if werr != nil {
				return nil, 0, fmt.Errorf("decode: ffmpeg exited: %w", werr)
			}
		default:
		}
		return nil, 0, fmt.Errorf("decode: read frame: %w", err)
	}

	pts := p.baseUs + int64(float64(p.frameIdx)*p.ptsStep)
	p.frameIdx++
	return buf, pts, nil
}

// Close kills the decode process and reaps it. Safe to call concurrently
// with ReadFrame, which will fail with a read error.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.stdout.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		err := <-p.done
		// A killed process always reports an error; that is the expected
		// shutdown path, not a failure.
		if err != nil && !strings.Contains(err.Error(), "killed") {
			p.closeErr = err
		}
	})
	return p.closeErr
}

// drainStderr keeps the process from blocking on stderr and surfaces its
// complaints in the log.
func (p *Pipeline) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			p.log.Debug("ffmpeg", "line", line)
		}
	}
}
