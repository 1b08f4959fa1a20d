// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"mkvseq/pkg/codec"
	"mkvseq/pkg/codec/vp9"
	"mkvseq/pkg/frame"
	"mkvseq/pkg/metrics"
	"mkvseq/pkg/pixfmt"

	"github.com/at-wat/ebml-go"
	"github.com/google/uuid"
)

// Greyscale tag name, the value is "0" or "1".
const tagGreyscale = "IsGreyscale"

// Frame rate tag name, the value is the exact rate in frames per second.
// DefaultDuration is rounded to whole nanoseconds.
const tagFrameRate = "FRAME_RATE"

const logSource = "mkv"

// Size of the Segment header, ID and 8 byte size.
const segmentHeaderSize = 4 + 8

// Unknown size marker, patched on close.
var unknownSize = []byte{0x01, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Writer writes a frame sequence to a Matroska file.
//
// The file layout is EBML header, Segment{Info, Tracks, Tags,
// Cluster..., Cues}. Each video frame gets its own cluster.
type Writer struct {
	path string
	opts options

	file *os.File
	out  *countingWriter // Counts bytes after the Segment header.

	segmentStart int64 // Offset of the Segment data.
	durationPos  int64

	schema        Schema
	encoder       *codec.EncoderHandle
	headerWritten bool

	firstTimestamp    float64
	hasFirstTimestamp bool
	lastTimecode      uint64
	cues              []cuePoint

	closed bool
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Create creates the file and writes the EBML and Segment headers.
func Create(path string, opts ...Option) (*Writer, error) {
	if !CanWrite(path) {
		return nil, fmt.Errorf("%w: %w: %v", ErrIO, ErrUnsupportedExtension, path)
	}

	o := newOptions(opts)
	if o.codec == nil {
		factory, err := codec.Lookup(vp9.CodecID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		o.codec = factory
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	var buf bytes.Buffer
	header := struct {
		Header ebmlHeader `ebml:"EBML"`
	}{newEBMLHeader()}
	if err := ebml.Marshal(&header, &buf); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: marshal header: %w", ErrIO, err)
	}
	buf.Write(segmentID)
	buf.Write(unknownSize)

	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: write header: %w", ErrIO, err)
	}

	return &Writer{
		path:         path,
		opts:         o,
		file:         file,
		out:          &countingWriter{w: file},
		segmentStart: int64(buf.Len()),
		encoder:      codec.NewEncoderHandle(o.codec),
	}, nil
}

// WithWriter creates a writer, calls fn and closes the writer
// even if fn returns an error or panics.
func WithWriter(path string, fn func(*Writer) error, opts ...Option) (err error) {
	w, err := Create(path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(w)
}

// WriteAll writes every frame in seq. The header is written on the first
// call using frame 0. Frames that cannot be written are logged and skipped.
// Timestamps are relative to the first frame of the first call.
func (w *Writer) WriteAll(seq frame.Sequence) error {
	if w.closed {
		return fmt.Errorf("%w: writer %w", ErrIO, ErrClosed)
	}
	if !w.headerWritten {
		if err := w.writeHeader(seq); err != nil {
			return err
		}
	}

	for i := 0; i < seq.Len(); i++ {
		reason, err := w.writeFrame(seq.At(i))
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrFrame) {
			return err
		}
		w.opts.logger.Error().
			Src(logSource).
			File(w.path).
			Msgf("skipping frame %d: %v", i, err)
		w.opts.metrics.FrameSkipped(reason)
	}
	return nil
}

func (w *Writer) writeHeader(seq frame.Sequence) error {
	if err := w.schema.Derive(seq, w.opts.codec.CodecID()); err != nil {
		return err
	}
	if !w.encoder.Configured() {
		if err := w.encoder.Configure(w.schema.Width, w.schema.Height); err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	segmentUID := uuid.New()
	inf := struct {
		Info info `ebml:"Info"`
	}{info{
		TimecodeScale: w.opts.timecodeScale,
		MuxingApp:     w.opts.appName,
		WritingApp:    w.opts.appName,
		SegmentUID:    segmentUID[:],
	}}
	var infoBuf bytes.Buffer
	if err := ebml.Marshal(&inf, &infoBuf); err != nil {
		return fmt.Errorf("%w: marshal info: %w", ErrIO, err)
	}
	w.durationPos = w.segmentStart + w.out.n + int64(infoBuf.Len()) - 8

	greyscale := "0"
	if w.schema.Greyscale {
		greyscale = "1"
	}
	simpleTags := []simpleTag{{TagName: tagGreyscale, TagString: greyscale}}
	if w.opts.frameRate > 0 {
		simpleTags = append(simpleTags, simpleTag{
			TagName:   tagFrameRate,
			TagString: strconv.FormatFloat(w.opts.frameRate, 'g', -1, 64),
		})
	}
	rest := struct {
		Tracks tracks `ebml:"Tracks"`
		Tags   tags   `ebml:"Tags"`
	}{
		Tracks: tracks{TrackEntry: w.trackEntries()},
		Tags:   tags{Tag: []tag{{SimpleTag: simpleTags}}},
	}
	if err := ebml.Marshal(&rest, &infoBuf); err != nil {
		return fmt.Errorf("%w: marshal tracks: %w", ErrIO, err)
	}

	if _, err := w.out.Write(infoBuf.Bytes()); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrIO, err)
	}
	w.headerWritten = true
	return nil
}

func (w *Writer) trackEntries() []trackEntry {
	video := trackEntry{
		TrackNumber: w.schema.Video.Number,
		TrackUID:    w.schema.Video.UID,
		TrackType:   trackTypeVideo,
		Name:        w.schema.Video.Name,
		CodecID:     w.schema.Video.CodecID,
		Video: []trackVideo{{
			PixelWidth:  uint64(w.schema.Width),
			PixelHeight: uint64(w.schema.Height),
		}},
	}
	if w.opts.frameRate > 0 {
		video.DefaultDuration = uint64(math.Round(1e9 / w.opts.frameRate))
	}
	if w.opts.compress {
		video.ContentEncodings = zlibEncodings()
	}

	entries := []trackEntry{video}
	for _, t := range w.schema.Metadata {
		entries = append(entries, trackEntry{
			TrackNumber: t.Number,
			TrackUID:    t.UID,
			TrackType:   trackTypeSubtitle,
			Name:        t.Name,
			CodecID:     t.CodecID,
		})
	}
	return entries
}

// writeFrame returns a metrics skip reason with frame errors.
func (w *Writer) writeFrame(f *frame.Frame) (string, error) {
	img := f.Image()
	if img.Width != w.schema.Width || img.Height != w.schema.Height {
		return metrics.ReasonDimensions, fmt.Errorf("%w: %w: %dx%d, expected %dx%d",
			ErrFrame, ErrDimensions, img.Width, img.Height, w.schema.Width, w.schema.Height)
	}

	var rgb []byte
	switch img.Components {
	case 3:
		rgb = img.Pix
	case 1:
		rgb = make([]byte, img.Width*img.Height*3)
		if err := pixfmt.GreyToRGB(rgb, img.Pix); err != nil {
			return metrics.ReasonComponents, fmt.Errorf("%w: %w", ErrFrame, err)
		}
	default:
		return metrics.ReasonComponents, fmt.Errorf("%w: %w: %d",
			ErrFrame, ErrComponents, img.Components)
	}

	if !w.hasFirstTimestamp {
		w.firstTimestamp = f.Timestamp()
		w.hasFirstTimestamp = true
	}
	relative := math.Floor((f.Timestamp() - w.firstTimestamp) * 1e9)
	if relative < 0 || math.IsNaN(relative) {
		return metrics.ReasonTimestamp, fmt.Errorf("%w: %w: %v",
			ErrFrame, ErrNegativeTime, f.Timestamp())
	}
	timecode := uint64(relative) / w.opts.timecodeScale

	bitstream, keyframe, err := w.encoder.Encode(rgb)
	if err != nil {
		return metrics.ReasonEncode, fmt.Errorf("%w: encode: %w", ErrFrame, err)
	}
	if w.opts.compress {
		if bitstream, err = compressZlib(bitstream); err != nil {
			return metrics.ReasonEncode, fmt.Errorf("%w: compress: %w", ErrFrame, err)
		}
	}

	blocks := []ebml.Block{{
		TrackNumber: w.schema.Video.Number,
		Keyframe:    keyframe,
		Data:        [][]byte{bitstream},
	}}
	for _, name := range f.FieldNames() {
		if name == frame.TimestampField {
			continue
		}
		track, exist := w.schema.MetadataTrack(name)
		if !exist {
			w.opts.logger.Debug().
				Src(logSource).
				File(w.path).
				Msgf("could not find metadata track for field %q", name)
			w.opts.metrics.MetadataDropped()
			continue
		}
		value, _ := f.Field(name)
		blocks = append(blocks, ebml.Block{
			TrackNumber: track.Number,
			Keyframe:    true,
			Data:        [][]byte{[]byte(value)},
		})
	}

	c := struct {
		Cluster cluster `ebml:"Cluster"`
	}{cluster{Timecode: timecode, SimpleBlock: blocks}}
	var buf bytes.Buffer
	if err := ebml.Marshal(&c, &buf); err != nil {
		return "", fmt.Errorf("%w: marshal cluster: %w", ErrIO, err)
	}

	position := w.out.n
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return "", fmt.Errorf("%w: write cluster: %w", ErrIO, err)
	}

	w.cues = append(w.cues, cuePoint{
		CueTime: timecode,
		CueTrackPositions: []cueTrackPositions{{
			CueTrack:           w.schema.Video.Number,
			CueClusterPosition: uint64(position),
		}},
	})
	if timecode > w.lastTimecode {
		w.lastTimecode = timecode
	}
	w.opts.metrics.FrameWritten(len(bitstream))
	return "", nil
}

// Close writes the cues, patches the duration and segment
// size and closes the file. Calling Close again does nothing.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finalize()
	if encErr := w.encoder.Close(); encErr != nil && err == nil {
		err = fmt.Errorf("close encoder: %w", encErr)
	}
	if closeErr := w.file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: %w", ErrIO, closeErr)
	}
	return err
}

func (w *Writer) finalize() error {
	if len(w.cues) > 0 {
		c := struct {
			Cues cues `ebml:"Cues"`
		}{cues{CuePoint: w.cues}}
		var buf bytes.Buffer
		if err := ebml.Marshal(&c, &buf); err != nil {
			return fmt.Errorf("%w: marshal cues: %w", ErrIO, err)
		}
		if _, err := w.out.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("%w: write cues: %w", ErrIO, err)
		}
	}

	if w.headerWritten {
		duration := make([]byte, 8)
		binary.BigEndian.PutUint64(duration, math.Float64bits(w.duration()))
		if _, err := w.file.WriteAt(duration, w.durationPos); err != nil {
			return fmt.Errorf("%w: patch duration: %w", ErrIO, err)
		}
	}

	size := make([]byte, 8)
	binary.BigEndian.PutUint64(size, uint64(w.out.n))
	size[0] = 0x01
	sizePos := w.segmentStart - 8
	if _, err := w.file.WriteAt(size, sizePos); err != nil {
		return fmt.Errorf("%w: patch segment size: %w", ErrIO, err)
	}
	return nil
}

// Duration in timecode ticks, the last frame lasts one default duration.
func (w *Writer) duration() float64 {
	if len(w.cues) == 0 {
		return 0
	}
	d := float64(w.lastTimecode)
	if w.opts.frameRate > 0 {
		d += 1e9 / w.opts.frameRate / float64(w.opts.timecodeScale)
	}
	return d
}
