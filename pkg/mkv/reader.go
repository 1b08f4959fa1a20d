// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"mkvseq/pkg/codec"
	"mkvseq/pkg/frame"
	"mkvseq/pkg/metrics"
	"mkvseq/pkg/pixfmt"

	"github.com/at-wat/ebml-go"
)

// Reader reads a Matroska file into a frame sequence.
type Reader struct {
	path string
	opts options

	docType   string
	segment   *segment
	video     trackEntry
	greyscale bool
	frameRate float64

	// Track number to field name.
	metadata map[uint64]string
	decoders map[uint64]contentDecoder

	decoder *codec.DecoderHandle
	closed  bool
}

// Open parses the file and its tracks. The file itself is closed before
// Open returns, the parsed segment is held until Close.
func Open(path string, opts ...Option) (*Reader, error) {
	if !CanRead(path) {
		return nil, fmt.Errorf("%w: %w: %v", ErrFormat, ErrUnsupportedExtension, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer file.Close()

	var c container
	err = ebml.Unmarshal(bufio.NewReader(file), &c, ebml.WithIgnoreUnknown(true))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse: %w", ErrFormat, err)
	}

	r := &Reader{
		path:     path,
		opts:     newOptions(opts),
		docType:  c.Header.EBMLDocType,
		segment:  &c.Segment,
		metadata: make(map[uint64]string),
		decoders: make(map[uint64]contentDecoder),
	}
	if err := r.parseHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) parseHeader() error {
	if r.docType != DocTypeMatroska && r.docType != DocTypeWebM {
		return fmt.Errorf("%w: %w: %q", ErrFormat, ErrDocType, r.docType)
	}

	var hasVideo bool
	for _, t := range r.segment.Tracks {
		for _, entry := range t.TrackEntry {
			switch {
			case entry.TrackType == trackTypeVideo && !hasVideo:
				r.video = entry
				hasVideo = true
			case entry.TrackType == trackTypeSubtitle && entry.CodecID == MetadataCodecID:
				r.metadata[entry.TrackNumber] = entry.Name
			default:
				continue
			}
			dec, err := newContentDecoder(entry)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrFormat, err)
			}
			r.decoders[entry.TrackNumber] = dec
		}
	}
	if !hasVideo {
		return fmt.Errorf("%w: %w", ErrFormat, ErrNoVideoTrack)
	}

	factory := r.opts.codec
	if factory == nil || factory.CodecID() != r.video.CodecID {
		var err error
		if factory, err = codec.Lookup(r.video.CodecID); err != nil {
			return fmt.Errorf("%w: %w", ErrFormat, err)
		}
	}

	width, height := r.dimensions()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid video size: %dx%d", ErrFormat, width, height)
	}

	r.decoder = codec.NewDecoderHandle(factory)
	if err := r.decoder.Configure(width, height); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	for _, t := range r.segment.Tags {
		for _, tg := range t.Tag {
			for _, st := range tg.SimpleTag {
				switch st.TagName {
				case tagGreyscale:
					r.greyscale = st.TagString == "1"
				case tagFrameRate:
					if fps, err := strconv.ParseFloat(st.TagString, 64); err == nil && fps > 0 {
						r.frameRate = fps
					}
				}
			}
		}
	}
	return nil
}

func (r *Reader) dimensions() (int, int) {
	if len(r.video.Video) == 0 {
		return 0, 0
	}
	return int(r.video.Video[0].PixelWidth), int(r.video.Video[0].PixelHeight)
}

func (r *Reader) timecodeScale() uint64 {
	if r.segment == nil || len(r.segment.Info) == 0 || r.segment.Info[0].TimecodeScale == 0 {
		return DefaultTimecodeScale
	}
	return r.segment.Info[0].TimecodeScale
}

// FrameRate returns the frame rate tag, or the rate derived from the
// video track default duration. DefaultFrameRate if neither is set.
func (r *Reader) FrameRate() float64 {
	switch {
	case r.frameRate > 0:
		return r.frameRate
	case r.video.DefaultDuration > 0:
		return 1e9 / float64(r.video.DefaultDuration)
	default:
		return DefaultFrameRate
	}
}

// Greyscale returns the value of the greyscale tag.
func (r *Reader) Greyscale() bool {
	return r.greyscale
}

type metadataValue struct {
	name      string
	timestamp float64
	value     string
}

// ReadAll appends every decodable video frame to dst. Clusters are read in
// timecode order. A frame with the same timestamp as the previous frame is
// moved one frame duration forward. Metadata values are set on the frame
// with an identical timestamp, the last value wins. Values without a
// frame are dropped.
func (r *Reader) ReadAll(dst frame.Sequence) error {
	if r.closed {
		return fmt.Errorf("%w: reader %w", ErrIO, ErrClosed)
	}

	clusters := make([]cluster, len(r.segment.Cluster))
	copy(clusters, r.segment.Cluster)
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Timecode < clusters[j].Timecode
	})

	var (
		scale         = int64(r.timecodeScale())
		frameDuration = 1 / r.FrameRate()
		index         = make(map[float64]int)
		pending       []metadataValue
		prevRaw       float64
		prevOut       float64
		hasPrev       bool
		width, height = r.dimensions()
	)
	for _, c := range clusters {
		for _, block := range clusterBlocks(c) {
			ns := (int64(c.Timecode) + int64(block.Timecode)) * scale
			timestamp := float64(ns) / 1e9

			if name, isMetadata := r.metadata[block.TrackNumber]; isMetadata {
				r.opts.metrics.BlockRead(metrics.KindMetadata)
				for _, data := range block.Data {
					value, err := r.decoders[block.TrackNumber](data)
					if err != nil {
						r.logFrameError("metadata", timestamp, err)
						continue
					}
					pending = append(pending, metadataValue{
						name:      name,
						timestamp: timestamp,
						value:     string(value),
					})
				}
				continue
			}
			if block.TrackNumber != r.video.TrackNumber {
				r.opts.metrics.BlockRead(metrics.KindOther)
				continue
			}

			r.opts.metrics.BlockRead(metrics.KindVideo)
			for _, data := range block.Data {
				pix, err := r.decodeVideo(data, width, height)
				if err != nil {
					r.logFrameError("video", timestamp, err)
					r.opts.metrics.FrameSkipped(metrics.ReasonDecode)
					continue
				}

				out := timestamp
				if hasPrev && timestamp == prevRaw {
					out = prevOut + frameDuration
				}
				prevRaw, prevOut, hasPrev = timestamp, out, true

				f := frame.Add(dst)
				f.SetTimestamp(out)
				components := 3
				if r.greyscale {
					components = 1
				}
				img := f.AllocateImage(width, height, components)
				copy(img.Pix, pix)
				index[out] = dst.Len() - 1
				r.opts.metrics.FrameRead()
			}
		}
	}

	for _, m := range pending {
		i, exist := index[m.timestamp]
		if !exist {
			r.opts.logger.Debug().
				Src(logSource).
				File(r.path).
				Msgf("no frame at %vs for field %q", m.timestamp, m.name)
			r.opts.metrics.MetadataDropped()
			continue
		}
		dst.At(i).SetField(m.name, m.value)
	}
	return nil
}

// decodeVideo returns the final pixels, RGB or greyscale.
func (r *Reader) decodeVideo(data []byte, width, height int) ([]byte, error) {
	bitstream, err := r.decoders[r.video.TrackNumber](data)
	if err != nil {
		return nil, fmt.Errorf("%w: content encoding: %w", ErrFrame, err)
	}
	i420, err := r.decoder.Decode(bitstream)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrFrame, err)
	}
	rgb := make([]byte, width*height*3)
	if err := pixfmt.I420ToRGB(rgb, i420, width, height); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrame, err)
	}
	if !r.greyscale {
		return rgb, nil
	}
	grey := make([]byte, width*height)
	if err := pixfmt.RGBToGrey(grey, rgb); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrame, err)
	}
	return grey, nil
}

func (r *Reader) logFrameError(kind string, timestamp float64, err error) {
	r.opts.logger.Error().
		Src(logSource).
		File(r.path).
		Msgf("skipping %v block at %vs: %v", kind, timestamp, err)
}

func clusterBlocks(c cluster) []ebml.Block {
	blocks := append([]ebml.Block{}, c.SimpleBlock...)
	for _, g := range c.BlockGroup {
		blocks = append(blocks, g.Block...)
	}
	return blocks
}

// Info container summary.
type Info struct {
	DocType        string
	CodecID        string
	Width          int
	Height         int
	Greyscale      bool
	FrameRate      float64
	TimecodeScale  uint64
	Duration       time.Duration
	Clusters       int
	Cues           int
	MetadataTracks []Track // Sorted by track number.
}

// Info returns a summary of the parsed container.
func (r *Reader) Info() Info {
	width, height := r.dimensions()
	info := Info{
		DocType:       r.docType,
		CodecID:       r.video.CodecID,
		Width:         width,
		Height:        height,
		Greyscale:     r.greyscale,
		FrameRate:     r.FrameRate(),
		TimecodeScale: r.timecodeScale(),
	}
	if r.segment == nil {
		return info
	}
	if len(r.segment.Info) > 0 {
		ns := r.segment.Info[0].Duration * float64(info.TimecodeScale)
		info.Duration = time.Duration(ns)
	}
	info.Clusters = len(r.segment.Cluster)
	for _, c := range r.segment.Cues {
		info.Cues += len(c.CuePoint)
	}
	for number, name := range r.metadata {
		info.MetadataTracks = append(info.MetadataTracks, Track{
			Number:  number,
			Kind:    TrackMetadata,
			Name:    name,
			CodecID: MetadataCodecID,
		})
	}
	sort.Slice(info.MetadataTracks, func(i, j int) bool {
		return info.MetadataTracks[i].Number < info.MetadataTracks[j].Number
	})
	return info
}

// Close releases the parsed segment and the decoder.
// Calling Close again does nothing.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.segment = nil
	return r.decoder.Close()
}

// ReadFile opens path, appends its frames to dst and closes the reader.
func ReadFile(path string, dst frame.Sequence, opts ...Option) error {
	r, err := Open(path, opts...)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.ReadAll(dst)
}
