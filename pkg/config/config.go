// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"mkvseq/pkg/log"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config framemux configuration.
type Config struct {
	Codec         string  `yaml:"codec"`
	TimecodeScale uint64  `yaml:"timecodeScale"`
	FrameRate     float64 `yaml:"frameRate"`
	Compress      bool    `yaml:"compress"`
	FFmpegBin     string  `yaml:"ffmpegBin"`

	LogLevel    string `yaml:"logLevel"`
	LogDB       string `yaml:"logDB"`
	MetricsFile string `yaml:"metricsFile"`
}

// Defaults.
const (
	DefaultCodec         = "V_VP9"
	DefaultTimecodeScale = 1000000
	DefaultFFmpegBin     = "ffmpeg"
	DefaultLogLevel      = "info"
)

// Environment variables, they override the config file.
const (
	EnvCodec         = "MKVSEQ_CODEC"
	EnvTimecodeScale = "MKVSEQ_TIMECODE_SCALE"
	EnvFrameRate     = "MKVSEQ_FRAME_RATE"
	EnvCompress      = "MKVSEQ_COMPRESS"
	EnvFFmpegBin     = "MKVSEQ_FFMPEG_BIN"
	EnvLogLevel      = "MKVSEQ_LOG_LEVEL"
	EnvLogDB         = "MKVSEQ_LOG_DB"
	EnvMetricsFile   = "MKVSEQ_METRICS_FILE"
)

// Errors.
var (
	ErrInvalidEnv       = errors.New("invalid environment variable")
	ErrInvalidFrameRate = errors.New("frame rate cannot be negative")
	ErrEmptyCodec       = errors.New("codec cannot be empty")
)

// LoadDotEnv loads environment variables from .env files,
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %v: %w", path, err)
		}
	}
	return nil
}

// Load reads the config file at path, an empty path only
// uses the environment and defaults.
func Load(path string) (*Config, error) {
	var raw []byte
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return Parse(raw, os.Getenv)
}

// Parse unmarshals configYAML, applies the environment and the defaults.
func Parse(configYAML []byte, getenv func(string) string) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(configYAML, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.applyEnv(getenv); err != nil {
		return nil, err
	}

	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	if c.TimecodeScale == 0 {
		c.TimecodeScale = DefaultTimecodeScale
	}
	if c.FFmpegBin == "" {
		c.FFmpegBin = DefaultFFmpegBin
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvCodec); v != "" {
		c.Codec = v
	}
	if v := getenv(EnvTimecodeScale); v != "" {
		scale, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v: %w", ErrInvalidEnv, EnvTimecodeScale, err)
		}
		c.TimecodeScale = scale
	}
	if v := getenv(EnvFrameRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %v: %w", ErrInvalidEnv, EnvFrameRate, err)
		}
		c.FrameRate = rate
	}
	if v := getenv(EnvCompress); v != "" {
		compress, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %v: %w", ErrInvalidEnv, EnvCompress, err)
		}
		c.Compress = compress
	}
	if v := getenv(EnvFFmpegBin); v != "" {
		c.FFmpegBin = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvLogDB); v != "" {
		c.LogDB = v
	}
	if v := getenv(EnvMetricsFile); v != "" {
		c.MetricsFile = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Codec == "" {
		return ErrEmptyCodec
	}
	if c.FrameRate < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, c.FrameRate)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}
