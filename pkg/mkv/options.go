// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import (
	"mkvseq/pkg/codec"
	"mkvseq/pkg/log"
	"mkvseq/pkg/metrics"
)

// DefaultTimecodeScale one millisecond.
const DefaultTimecodeScale = 1000000

// DefaultFrameRate is used when a video track has no default duration.
const DefaultFrameRate = 25

type options struct {
	codec         codec.Factory
	timecodeScale uint64
	frameRate     float64
	compress      bool
	appName       string

	logger  *log.Logger
	metrics *metrics.Metrics
}

func newOptions(opts []Option) options {
	o := options{
		timecodeScale: DefaultTimecodeScale,
		appName:       "mkvseq",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Writer or Reader.
type Option func(*options)

// WithCodec sets the video codec. The writer defaults to VP9,
// the reader only uses it if the codec ID matches the video track.
func WithCodec(f codec.Factory) Option {
	return func(o *options) { o.codec = f }
}

// WithTimecodeScale sets the length of a timecode tick in nanoseconds.
func WithTimecodeScale(ns uint64) Option {
	return func(o *options) {
		if ns > 0 {
			o.timecodeScale = ns
		}
	}
}

// WithFrameRate records the nominal frame rate as the video track default duration.
func WithFrameRate(fps float64) Option {
	return func(o *options) { o.frameRate = fps }
}

// WithCompression zlib compresses the video frames.
func WithCompression(enable bool) Option {
	return func(o *options) { o.compress = enable }
}

// WithAppName sets the muxing and writing application.
func WithAppName(name string) Option {
	return func(o *options) { o.appName = name }
}

// WithLogger logs frame errors.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics counts frames and blocks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}
