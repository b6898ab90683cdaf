// Package config loads and validates the engine configuration from YAML,
// with defaults suitable for local playback.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by all validation failures.
var ErrInvalid = errors.New("invalid config")

// SeekBias names one seek strategy attempted by the decode pipeline.
type SeekBias string

// Seek strategies. Forward lands at the nearest decodable position at or
// after the target, backward at or before it.
const (
	SeekForward  SeekBias = "forward"
	SeekBackward SeekBias = "backward"
)

// Config is the engine-wide configuration. Zero values are filled in by
// Default / Load; a Config obtained any other way should be Validate()d.
type Config struct {
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Decode    DecodeConfig    `yaml:"decode"`
	HLS       HLSConfig       `yaml:"hls"`
	Seek      SeekConfig      `yaml:"seek"`
	Sink      SinkConfig      `yaml:"sink"`
}

// KeepaliveConfig tunes the liveness protocol. Sessions not pinged for
// Interval*TimeoutMultiple are destroyed by the sweep.
type KeepaliveConfig struct {
	Interval        time.Duration `yaml:"interval"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	TimeoutMultiple int           `yaml:"timeout_multiple"`
}

// Timeout returns the ping age at which a session is expired.
func (k KeepaliveConfig) Timeout() time.Duration {
	return k.Interval * time.Duration(k.TimeoutMultiple)
}

// DecodeConfig tunes the native decode pipeline.
type DecodeConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	FFprobePath    string        `yaml:"ffprobe_path"`
	FrameBuffer    int           `yaml:"frame_buffer"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`     // initial autoRestart delay
	MaxBackoff     time.Duration `yaml:"restart_backoff_max"` // backoff cap
	CommandTimeout time.Duration `yaml:"command_timeout"`     // seek/resize ack timeout
}

// HLSConfig tunes segmented-source handling.
type HLSConfig struct {
	// LiveStartIndex mirrors ffmpeg's live_start_index: which segment of the
	// live window playback starts from. Negative counts from the live edge.
	LiveStartIndex int `yaml:"live_start_index"`
	// PollInterval overrides the playlist refresh interval. Zero means half
	// the playlist target duration.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SeekConfig controls the fallback strategy order for segmented seeks.
type SeekConfig struct {
	FallbackOrder []SeekBias `yaml:"fallback_order"`
}

// SinkConfig configures the optional remote QUIC frame sink.
type SinkConfig struct {
	Addr               string `yaml:"addr"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Default returns the reference configuration: 1s pings swept every second,
// 2x timeout, forward-then-backward seek fallback.
func Default() Config {
	return Config{
		Keepalive: KeepaliveConfig{
			Interval:        time.Second,
			SweepInterval:   time.Second,
			TimeoutMultiple: 2,
		},
		Decode: DecodeConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			FrameBuffer:    16,
			RestartBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			CommandTimeout: 5 * time.Second,
		},
		HLS: HLSConfig{
			LiveStartIndex: -3,
		},
		Seek: SeekConfig{
			FallbackOrder: []SeekBias{SeekForward, SeekBackward},
		},
	}
}

// Load reads a YAML config file, expands environment variables, applies
// defaults and validates. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Keepalive.Interval == 0 {
		c.Keepalive.Interval = def.Keepalive.Interval
	}
	if c.Keepalive.SweepInterval == 0 {
		c.Keepalive.SweepInterval = def.Keepalive.SweepInterval
	}
	if c.Keepalive.TimeoutMultiple == 0 {
		c.Keepalive.TimeoutMultiple = def.Keepalive.TimeoutMultiple
	}
	if c.Decode.FFmpegPath == "" {
		c.Decode.FFmpegPath = def.Decode.FFmpegPath
	}
	if c.Decode.FFprobePath == "" {
		c.Decode.FFprobePath = def.Decode.FFprobePath
	}
	if c.Decode.FrameBuffer == 0 {
		c.Decode.FrameBuffer = def.Decode.FrameBuffer
	}
	if c.Decode.RestartBackoff == 0 {
		c.Decode.RestartBackoff = def.Decode.RestartBackoff
	}
	if c.Decode.MaxBackoff == 0 {
		c.Decode.MaxBackoff = def.Decode.MaxBackoff
	}
	if c.Decode.CommandTimeout == 0 {
		c.Decode.CommandTimeout = def.Decode.CommandTimeout
	}
	if c.HLS.LiveStartIndex == 0 {
		c.HLS.LiveStartIndex = def.HLS.LiveStartIndex
	}
	if len(c.Seek.FallbackOrder) == 0 {
		c.Seek.FallbackOrder = def.Seek.FallbackOrder
	}
}

// Validate checks invariants that defaulting cannot repair.
func (c *Config) Validate() error {
	if c.Keepalive.Interval < 0 || c.Keepalive.SweepInterval < 0 {
		return fmt.Errorf("%w: negative keepalive interval", ErrInvalid)
	}
	if c.Keepalive.TimeoutMultiple < 1 {
		return fmt.Errorf("%w: keepalive timeout_multiple must be >= 1", ErrInvalid)
	}
	if c.Decode.FrameBuffer < 1 {
		return fmt.Errorf("%w: decode frame_buffer must be >= 1", ErrInvalid)
	}
	if c.Decode.MaxBackoff < c.Decode.RestartBackoff {
		return fmt.Errorf("%w: restart_backoff_max below restart_backoff", ErrInvalid)
	}
	for _, b := range c.Seek.FallbackOrder {
		if b != SeekForward && b != SeekBackward {
			return fmt.Errorf("%w: unknown seek bias %q", ErrInvalid, b)
		}
	}
	return nil
}
