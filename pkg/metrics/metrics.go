// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics counts container engine activity. Batch tools
// dump the counters to a node exporter textfile when they exit.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mkvseq"

// Skip reasons.
const (
	ReasonEncode     = "encode"
	ReasonDecode     = "decode"
	ReasonDimensions = "dimensions"
	ReasonComponents = "components"
	ReasonTimestamp  = "timestamp"
)

// Block kinds.
const (
	KindVideo    = "video"
	KindMetadata = "metadata"
	KindOther    = "other"
)

// Metrics counters on a private registry. A nil *Metrics discards everything.
type Metrics struct {
	registry *prometheus.Registry

	framesWritten   prometheus.Counter
	bytesWritten    prometheus.Counter
	framesSkipped   *prometheus.CounterVec
	framesRead      prometheus.Counter
	blocksRead      *prometheus.CounterVec
	metadataDropped prometheus.Counter
}

// New returns registered counters.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Video frames written to containers.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_bytes_written_total",
			Help:      "Encoded video payload bytes written to containers.",
		}),
		framesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Frames skipped because of a frame error.",
		}, []string{"reason"}),
		framesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_read_total",
			Help:      "Video frames decoded from containers.",
		}),
		blocksRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_read_total",
			Help:      "Blocks read from containers by track kind.",
		}, []string{"kind"}),
		metadataDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_dropped_total",
			Help:      "Metadata values without a matching track or frame.",
		}),
	}
	m.registry.MustRegister(
		m.framesWritten,
		m.bytesWritten,
		m.framesSkipped,
		m.framesRead,
		m.blocksRead,
		m.metadataDropped,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FrameWritten counts a written frame and its payload size.
func (m *Metrics) FrameWritten(payloadSize int) {
	if m == nil {
		return
	}
	m.framesWritten.Inc()
	m.bytesWritten.Add(float64(payloadSize))
}

// FrameSkipped counts a skipped frame.
func (m *Metrics) FrameSkipped(reason string) {
	if m == nil {
		return
	}
	m.framesSkipped.WithLabelValues(reason).Inc()
}

// FrameRead counts a decoded frame.
func (m *Metrics) FrameRead() {
	if m == nil {
		return
	}
	m.framesRead.Inc()
}

// BlockRead counts a parsed block.
func (m *Metrics) BlockRead(kind string) {
	if m == nil {
		return
	}
	m.blocksRead.WithLabelValues(kind).Inc()
}

// MetadataDropped counts a dropped metadata value.
func (m *Metrics) MetadataDropped() {
	if m == nil {
		return
	}
	m.metadataDropped.Inc()
}

// WriteToTextfile writes the counters in the text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
