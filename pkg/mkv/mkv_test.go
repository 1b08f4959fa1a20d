// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mkvseq/pkg/codec"
	"mkvseq/pkg/frame"
	"mkvseq/pkg/log"
	"mkvseq/pkg/metrics"

	"github.com/at-wat/ebml-go"
	"github.com/stretchr/testify/require"
)

func flatColor(i int) [3]uint8 {
	return [3]uint8{uint8(i * 40), uint8(255 - i*40), 100}
}

func newColorSequence(n int, start, step float64) *frame.List {
	seq := frame.NewList(n)
	for i := 0; i < n; i++ {
		f := seq.At(i)
		f.SetTimestamp(start + float64(i)*step)
		img := f.AllocateImage(4, 4, 3)
		c := flatColor(i)
		for p := 0; p < len(img.Pix); p += 3 {
			copy(img.Pix[p:], c[:])
		}
	}
	return seq
}

func writeFile(t *testing.T, path string, seq frame.Sequence, opts ...Option) {
	t.Helper()
	opts = append([]Option{WithCodec(codec.Raw{})}, opts...)
	err := WithWriter(path, func(w *Writer) error {
		return w.WriteAll(seq)
	}, opts...)
	require.NoError(t, err)
}

func readFile(t *testing.T, path string, opts ...Option) *frame.List {
	t.Helper()
	dst := frame.NewList(0)
	require.NoError(t, ReadFile(path, dst, opts...))
	return dst
}

func readContainer(t *testing.T, path string) container {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var c container
	err = ebml.Unmarshal(bytes.NewReader(raw), &c, ebml.WithIgnoreUnknown(true))
	if err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	return c
}

func requireColor(t *testing.T, expected [3]uint8, img *frame.Image) {
	t.Helper()
	require.Equal(t, 3, img.Components)
	for p := 0; p < len(img.Pix); p++ {
		diff := int(img.Pix[p]) - int(expected[p%3])
		require.LessOrEqual(t, diff, 3)
		require.GreaterOrEqual(t, diff, -3)
	}
}

// collectLogs returns a logger and a function that returns the entries so far.
func collectLogs(t *testing.T) (*log.Logger, func() []log.Entry) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := log.NewMockLogger()
	logger.Start(ctx)
	feed, cancelFeed := logger.Subscribe()

	var mu sync.Mutex
	var entries []log.Entry
	go func() {
		defer cancelFeed()
		for {
			select {
			case entry, ok := <-feed:
				if !ok {
					return
				}
				mu.Lock()
				entries = append(entries, entry)
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return logger, func() []log.Entry {
		mu.Lock()
		defer mu.Unlock()
		return append([]log.Entry{}, entries...)
	}
}

func hasMsg(entries []log.Entry, level log.Level, substr string) bool {
	for _, e := range entries {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")

	const n = 5
	seq := newColorSequence(n, 2, 0.25)
	for i := 0; i < n; i++ {
		seq.At(i).SetField("A", "1")
		seq.At(i).SetField("B", "2")
		seq.At(i).SetField(frame.TimestampField, "ignored")
	}
	writeFile(t, path, seq, WithFrameRate(4))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	info := r.Info()
	require.Equal(t, DocTypeMatroska, info.DocType)
	require.Equal(t, codec.RawCodecID, info.CodecID)
	require.Equal(t, 4, info.Width)
	require.Equal(t, 4, info.Height)
	require.False(t, info.Greyscale)
	require.Equal(t, float64(4), info.FrameRate)
	require.Equal(t, uint64(DefaultTimecodeScale), info.TimecodeScale)
	require.Equal(t, 1250*time.Millisecond, info.Duration)
	require.Equal(t, n, info.Clusters)
	require.Equal(t, n, info.Cues)
	require.Equal(t, []Track{
		{Number: 2, Kind: TrackMetadata, Name: "A", CodecID: MetadataCodecID},
		{Number: 3, Kind: TrackMetadata, Name: "B", CodecID: MetadataCodecID},
	}, info.MetadataTracks)

	dst := frame.NewList(0)
	require.NoError(t, r.ReadAll(dst))
	require.Equal(t, n, dst.Len())
	for i := 0; i < n; i++ {
		f := dst.At(i)
		require.Equal(t, float64(i)*0.25, f.Timestamp())
		requireColor(t, flatColor(i), f.Image())
		require.Equal(t, []string{"A", "B"}, f.FieldNames())
		a, _ := f.Field("A")
		b, _ := f.Field("B")
		require.Equal(t, "1", a)
		require.Equal(t, "2", b)
	}
}

func TestFileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	seq := newColorSequence(3, 0, 0.1)
	seq.At(0).SetField("A", "x")
	writeFile(t, path, seq)

	c := readContainer(t, path)
	require.Equal(t, newEBMLHeader(), c.Header)

	entries := c.Segment.Tracks[0].TrackEntry
	require.Len(t, entries, 2)
	require.Equal(t, uint64(trackTypeVideo), entries[0].TrackType)
	require.Equal(t, "Video1", entries[0].Name)
	require.Zero(t, entries[0].DefaultDuration)
	require.Equal(t, uint64(trackTypeSubtitle), entries[1].TrackType)
	require.Equal(t, "A", entries[1].Name)
	require.NotEqual(t, entries[0].TrackUID, entries[1].TrackUID)

	require.Equal(t, []simpleTag{{TagName: "IsGreyscale", TagString: "0"}},
		c.Segment.Tags[0].Tag[0].SimpleTag)
	require.Len(t, c.Segment.Info[0].SegmentUID, 16)
	require.Equal(t, "mkvseq", c.Segment.Info[0].MuxingApp)

	require.Len(t, c.Segment.Cluster, 3)
	require.Equal(t, uint64(0), c.Segment.Cluster[0].Timecode)
	require.Equal(t, uint64(100), c.Segment.Cluster[1].Timecode)
	require.Equal(t, uint64(200), c.Segment.Cluster[2].Timecode)
	require.Len(t, c.Segment.Cluster[0].SimpleBlock, 2)
	require.Len(t, c.Segment.Cluster[1].SimpleBlock, 1)
	require.True(t, c.Segment.Cluster[0].SimpleBlock[0].Keyframe)

	// Cue positions point at clusters.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	segmentStart := bytes.Index(raw, segmentID) + segmentHeaderSize
	clusterID := []byte{0x1f, 0x43, 0xb6, 0x75}

	points := c.Segment.Cues[0].CuePoint
	require.Len(t, points, 3)
	for i, p := range points {
		require.Equal(t, c.Segment.Cluster[i].Timecode, p.CueTime)
		pos := segmentStart + int(p.CueTrackPositions[0].CueClusterPosition)
		require.Equal(t, clusterID, raw[pos:pos+4])
	}

	// Segment size is patched.
	size := raw[segmentStart-8 : segmentStart]
	require.Equal(t, byte(0x01), size[0])
	var n int
	for _, b := range size[1:] {
		n = n<<8 | int(b)
	}
	require.Equal(t, len(raw)-segmentStart, n)
}

func TestSchemaFreeze(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	seq := newColorSequence(6, 0, 0.04)
	for i := 0; i < 6; i++ {
		seq.At(i).SetField("A", "a")
	}
	seq.At(5).SetField("B", "b")

	logger, logs := collectLogs(t)
	writeFile(t, path, seq, WithLogger(logger))

	dst := readFile(t, path)
	require.Equal(t, 6, dst.Len())
	for i := 0; i < dst.Len(); i++ {
		require.Equal(t, []string{"A"}, dst.At(i).FieldNames())
	}
	require.Eventually(t, func() bool {
		return hasMsg(logs(), log.LevelDebug, "could not find metadata track")
	}, time.Second, 10*time.Millisecond)
}

func TestGreyscaleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grey.mkv")
	seq := frame.NewList(1)
	img := seq.At(0).AllocateImage(100, 100, 1)
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}
	writeFile(t, path, seq)

	c := readContainer(t, path)
	require.Equal(t, "1", c.Segment.Tags[0].Tag[0].SimpleTag[0].TagString)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.Greyscale())

	dst := frame.NewList(0)
	require.NoError(t, r.ReadAll(dst))
	require.Equal(t, 1, dst.Len())
	out := dst.At(0).Image()
	require.Equal(t, 1, out.Components)
	require.Equal(t, img.Pix, out.Pix)
}

func TestDuplicateTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	seq := newColorSequence(3, 0, 0)
	seq.At(0).SetTimestamp(0)
	seq.At(1).SetTimestamp(0.5)
	seq.At(2).SetTimestamp(0.5)
	seq.At(0).SetField("F", "a")
	seq.At(1).SetField("F", "b")
	seq.At(2).SetField("F", "c")
	writeFile(t, path, seq, WithFrameRate(30))

	dst := readFile(t, path)
	require.Equal(t, 3, dst.Len())
	require.Equal(t, 0.0, dst.At(0).Timestamp())
	require.Equal(t, 0.5, dst.At(1).Timestamp())
	step := 1 / float64(30)
	require.Equal(t, 0.5+step, dst.At(2).Timestamp())

	// Both values at 0.5 match the frame at 0.5, the last one wins.
	v, _ := dst.At(1).Field("F")
	require.Equal(t, "c", v)
	_, ok := dst.At(2).Field("F")
	require.False(t, ok)
}

func TestFrameRate(t *testing.T) {
	t.Run("tag", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		writeFile(t, path, newColorSequence(1, 0, 0), WithFrameRate(30))

		c := readContainer(t, path)
		require.Equal(t, uint64(33333333), c.Segment.Tracks[0].TrackEntry[0].DefaultDuration)
		require.Contains(t, c.Segment.Tags[0].Tag[0].SimpleTag,
			simpleTag{TagName: "FRAME_RATE", TagString: "30"})

		r, err := Open(path)
		require.NoError(t, err)
		defer r.Close()
		require.Equal(t, float64(30), r.FrameRate())
	})
	t.Run("fractional", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		fps := 30000 / float64(1001)
		writeFile(t, path, newColorSequence(1, 0, 0), WithFrameRate(fps))

		r, err := Open(path)
		require.NoError(t, err)
		defer r.Close()
		require.Equal(t, fps, r.FrameRate())
	})
	t.Run("defaultDuration", func(t *testing.T) {
		r := &Reader{video: trackEntry{DefaultDuration: 40000000}}
		require.Equal(t, float64(25), r.FrameRate())
	})
	t.Run("tagWins", func(t *testing.T) {
		r := &Reader{frameRate: 30, video: trackEntry{DefaultDuration: 33333333}}
		require.Equal(t, float64(30), r.FrameRate())
	})
	t.Run("default", func(t *testing.T) {
		require.Equal(t, float64(DefaultFrameRate), (&Reader{}).FrameRate())
	})
}

func TestDuplicateTimestampsDefaultRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	writeFile(t, path, newColorSequence(2, 1, 0))

	dst := readFile(t, path)
	require.Equal(t, 2, dst.Len())
	require.Equal(t, 0.0, dst.At(0).Timestamp())
	require.Equal(t, 1.0/DefaultFrameRate, dst.At(1).Timestamp())
}

func TestWriterResourceSafety(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		errStop := errors.New("stop")
		err := WithWriter(path, func(w *Writer) error {
			if err := w.WriteAll(newColorSequence(2, 0, 1)); err != nil {
				return err
			}
			return errStop
		}, WithCodec(codec.Raw{}))
		require.ErrorIs(t, err, errStop)

		dst := readFile(t, path)
		require.Equal(t, 2, dst.Len())
		require.Len(t, readContainer(t, path).Segment.Cues[0].CuePoint, 2)
	})
	t.Run("panic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		require.Panics(t, func() {
			WithWriter(path, func(w *Writer) error { //nolint:errcheck
				if err := w.WriteAll(newColorSequence(1, 0, 1)); err != nil {
					return err
				}
				panic("boom")
			}, WithCodec(codec.Raw{}))
		})
		require.Equal(t, 1, readFile(t, path).Len())
	})
}

func TestWriterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	w, err := Create(path, WithCodec(codec.Raw{}))
	require.NoError(t, err)
	require.NoError(t, w.WriteAll(newColorSequence(1, 0, 1)))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.WriteAll(newColorSequence(1, 0, 1))
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, ErrClosed)

	require.Equal(t, 1, readFile(t, path).Len())
}

func TestWriterRepeatedWriteAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	err := WithWriter(path, func(w *Writer) error {
		if err := w.WriteAll(newColorSequence(2, 10, 0.5)); err != nil {
			return err
		}
		return w.WriteAll(newColorSequence(2, 11, 0.5))
	}, WithCodec(codec.Raw{}))
	require.NoError(t, err)

	dst := readFile(t, path)
	require.Equal(t, 4, dst.Len())
	for i, expected := range []float64{0, 0.5, 1, 1.5} {
		require.Equal(t, expected, dst.At(i).Timestamp())
	}
}

type flakyCodec struct {
	codec.Raw
	calls  *int
	failOn int
}

var errFlaky = errors.New("flaky")

func (c flakyCodec) CodecID() string { return codec.RawCodecID }

func (c flakyCodec) NewEncoder(width, height int) (codec.Encoder, error) {
	enc, err := c.Raw.NewEncoder(width, height)
	if err != nil {
		return nil, err
	}
	return &flakyEncoder{Encoder: enc, parent: c}, nil
}

type flakyEncoder struct {
	codec.Encoder
	parent flakyCodec
}

func (e *flakyEncoder) Encode(rgb []byte) ([]byte, bool, error) {
	call := *e.parent.calls
	*e.parent.calls++
	if call == e.parent.failOn {
		return nil, false, errFlaky
	}
	return e.Encoder.Encode(rgb)
}

func TestWriterFrameErrors(t *testing.T) {
	t.Run("encode", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		logger, logs := collectLogs(t)
		m := metrics.New()

		calls := 0
		err := WithWriter(path, func(w *Writer) error {
			return w.WriteAll(newColorSequence(3, 0, 1))
		},
			WithCodec(flakyCodec{calls: &calls, failOn: 1}),
			WithLogger(logger),
			WithMetrics(m),
		)
		require.NoError(t, err)

		dst := readFile(t, path)
		require.Equal(t, 2, dst.Len())
		require.Equal(t, 0.0, dst.At(0).Timestamp())
		require.Equal(t, 2.0, dst.At(1).Timestamp())
		requireColor(t, flatColor(2), dst.At(1).Image())

		require.Eventually(t, func() bool {
			return hasMsg(logs(), log.LevelError, "skipping frame 1")
		}, time.Second, 10*time.Millisecond)
		require.Equal(t, 1.0, counterValue(t, m, "mkvseq_frames_skipped_total"))
		require.Equal(t, 2.0, counterValue(t, m, "mkvseq_frames_written_total"))
	})
	t.Run("dimensions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		seq := newColorSequence(3, 0, 1)
		seq.At(1).AllocateImage(2, 2, 3)
		writeFile(t, path, seq)
		require.Equal(t, 2, readFile(t, path).Len())
	})
	t.Run("components", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		seq := newColorSequence(2, 0, 1)
		seq.At(1).AllocateImage(4, 4, 4)
		writeFile(t, path, seq)
		require.Equal(t, 1, readFile(t, path).Len())
	})
	t.Run("negativeTime", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		seq := newColorSequence(3, 5, 1)
		seq.At(1).SetTimestamp(4)
		writeFile(t, path, seq)

		dst := readFile(t, path)
		require.Equal(t, 2, dst.Len())
		require.Equal(t, 2.0, dst.At(1).Timestamp())
	})
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			sum += metric.GetCounter().GetValue()
		}
	}
	return sum
}

func TestWriterConfigurationErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		err := WithWriter(path, func(w *Writer) error {
			return w.WriteAll(frame.NewList(0))
		}, WithCodec(codec.Raw{}))
		require.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("noDimensions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		err := WithWriter(path, func(w *Writer) error {
			return w.WriteAll(frame.NewList(2))
		}, WithCodec(codec.Raw{}))
		require.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("extension", func(t *testing.T) {
		_, err := Create(filepath.Join(t.TempDir(), "clip.webm"))
		require.ErrorIs(t, err, ErrIO)
		require.ErrorIs(t, err, ErrUnsupportedExtension)
	})
	t.Run("path", func(t *testing.T) {
		_, err := Create(filepath.Join(t.TempDir(), "missing", "clip.mkv"))
		require.ErrorIs(t, err, ErrIO)
	})
	t.Run("defaultCodec", func(t *testing.T) {
		w, err := Create(filepath.Join(t.TempDir(), "clip.mkv"))
		require.NoError(t, err)
		defer w.Close()
		require.Equal(t, "V_VP9", w.opts.codec.CodecID())
	})
}

func TestWriterCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	writeFile(t, path, newColorSequence(3, 0, 1), WithCompression(true))

	c := readContainer(t, path)
	video := c.Segment.Tracks[0].TrackEntry[0]
	require.Equal(t, zlibEncodings(), video.ContentEncodings)

	// Zlib is algorithm 0, the element must still be present on disk.
	encoding := video.ContentEncodings[0].ContentEncoding[0]
	require.Len(t, encoding.ContentCompression, 1)
	require.Equal(t, uint64(compAlgoZlib), encoding.ContentCompression[0].ContentCompAlgo)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.Contains(raw, []byte{0x50, 0x34}))

	dst := readFile(t, path)
	require.Equal(t, 3, dst.Len())
	for i := 0; i < 3; i++ {
		requireColor(t, flatColor(i), dst.At(i).Image())
	}
}

type stubCodec struct{ codec.Raw }

func (stubCodec) CodecID() string { return "V_STUB" }

func TestReaderErrors(t *testing.T) {
	t.Run("unknownCodec", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		err := WithWriter(path, func(w *Writer) error {
			return w.WriteAll(newColorSequence(1, 0, 1))
		}, WithCodec(stubCodec{}))
		require.NoError(t, err)

		_, err = Open(path)
		require.ErrorIs(t, err, ErrFormat)
		require.ErrorIs(t, err, codec.ErrUnknownCodec)

		// Unregistered codecs can be passed explicitly.
		dst := frame.NewList(0)
		require.NoError(t, ReadFile(path, dst, WithCodec(stubCodec{})))
		require.Equal(t, 1, dst.Len())
	})
	t.Run("noVideoTrack", func(t *testing.T) {
		path := writeContainer(t, "clip.mkv", container{
			Header: newEBMLHeader(),
			Segment: segment{
				Tracks: []tracks{{TrackEntry: []trackEntry{{
					TrackNumber: 1,
					TrackUID:    1,
					TrackType:   trackTypeSubtitle,
					Name:        "A",
					CodecID:     MetadataCodecID,
				}}}},
			},
		})
		_, err := Open(path)
		require.ErrorIs(t, err, ErrFormat)
		require.ErrorIs(t, err, ErrNoVideoTrack)
	})
	t.Run("zeroSize", func(t *testing.T) {
		path := writeContainer(t, "clip.mkv", container{
			Header: newEBMLHeader(),
			Segment: segment{
				Tracks: []tracks{{TrackEntry: []trackEntry{{
					TrackNumber: 1,
					TrackUID:    1,
					TrackType:   trackTypeVideo,
					CodecID:     codec.RawCodecID,
				}}}},
			},
		})
		_, err := Open(path)
		require.ErrorIs(t, err, ErrFormat)
	})
	t.Run("contentEncoding", func(t *testing.T) {
		path := writeContainer(t, "clip.mkv", container{
			Header: newEBMLHeader(),
			Segment: segment{
				Tracks: []tracks{{TrackEntry: []trackEntry{{
					TrackNumber: 1,
					TrackUID:    1,
					TrackType:   trackTypeVideo,
					CodecID:     codec.RawCodecID,
					Video:       []trackVideo{{PixelWidth: 2, PixelHeight: 2}},
					ContentEncodings: []contentEncodings{{
						ContentEncoding: []contentEncoding{{
							ContentEncodingScope: encodingScopeFrames,
							ContentEncodingType:  1, // Encryption.
						}},
					}},
				}}}},
			},
		})
		_, err := Open(path)
		require.ErrorIs(t, err, ErrFormat)
		require.ErrorIs(t, err, ErrContentEncoding)
	})
	t.Run("docType", func(t *testing.T) {
		header := newEBMLHeader()
		header.EBMLDocType = "avi"
		path := writeContainer(t, "clip.mkv", container{Header: header})
		_, err := Open(path)
		require.ErrorIs(t, err, ErrFormat)
		require.ErrorIs(t, err, ErrDocType)
	})
	t.Run("extension", func(t *testing.T) {
		_, err := Open("clip.avi")
		require.ErrorIs(t, err, ErrFormat)
		require.ErrorIs(t, err, ErrUnsupportedExtension)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "clip.mkv"))
		require.ErrorIs(t, err, ErrIO)
	})
	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mkv")
		require.NoError(t, os.WriteFile(path, []byte("not a matroska file"), 0o600))
		_, err := Open(path)
		require.ErrorIs(t, err, ErrFormat)
	})
}

func writeContainer(t *testing.T, name string, c container) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	var buf bytes.Buffer
	require.NoError(t, ebml.Marshal(&c, &buf))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestReaderWebM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mkv")
	writeFile(t, path, newColorSequence(2, 0, 1))

	webm := filepath.Join(dir, "clip.webm")
	require.NoError(t, os.Rename(path, webm))
	require.Equal(t, 2, readFile(t, webm).Len())
}

func TestReaderBlockGroups(t *testing.T) {
	seq := newColorSequence(1, 0, 1)
	enc, err := codec.Raw{}.NewEncoder(4, 4)
	require.NoError(t, err)
	payload, _, err := enc.Encode(seq.At(0).Image().Pix)
	require.NoError(t, err)

	path := writeContainer(t, "clip.mkv", container{
		Header: newEBMLHeader(),
		Segment: segment{
			Info: []info{{TimecodeScale: DefaultTimecodeScale}},
			Tracks: []tracks{{TrackEntry: []trackEntry{
				{
					TrackNumber: 1,
					TrackUID:    1,
					TrackType:   trackTypeVideo,
					CodecID:     codec.RawCodecID,
					Video:       []trackVideo{{PixelWidth: 4, PixelHeight: 4}},
				},
				{
					TrackNumber: 2,
					TrackUID:    2,
					TrackType:   trackTypeSubtitle,
					Name:        "A",
					CodecID:     MetadataCodecID,
				},
			}}},
			// Out of order, read in timecode order.
			Cluster: []cluster{
				{
					Timecode: 200,
					BlockGroup: []blockGroup{{Block: []ebml.Block{
						{TrackNumber: 1, Data: [][]byte{payload}},
					}}},
					SimpleBlock: []ebml.Block{
						{TrackNumber: 2, Timecode: 0, Data: [][]byte{[]byte("late")}},
						{TrackNumber: 2, Timecode: 5, Data: [][]byte{[]byte("unmatched")}},
						{TrackNumber: 9, Data: [][]byte{[]byte("other")}},
					},
				},
				{
					Timecode: 100,
					SimpleBlock: []ebml.Block{
						{TrackNumber: 1, Keyframe: true, Data: [][]byte{payload}},
						{TrackNumber: 1, Keyframe: true, Data: [][]byte{[]byte("corrupt")}},
						{TrackNumber: 2, Data: [][]byte{[]byte("early")}},
					},
				},
			},
		},
	})

	logger, logs := collectLogs(t)
	m := metrics.New()
	dst := readFile(t, path, WithLogger(logger), WithMetrics(m))

	require.Equal(t, 2, dst.Len())
	require.Equal(t, 0.1, dst.At(0).Timestamp())
	require.Equal(t, 0.2, dst.At(1).Timestamp())
	a0, _ := dst.At(0).Field("A")
	a1, _ := dst.At(1).Field("A")
	require.Equal(t, "early", a0)
	require.Equal(t, "late", a1)

	require.Eventually(t, func() bool {
		return hasMsg(logs(), log.LevelError, "skipping video block")
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 1.0, counterValue(t, m, "mkvseq_metadata_dropped_total"))
	require.Equal(t, 2.0, counterValue(t, m, "mkvseq_frames_read_total"))
	require.Equal(t, 7.0, counterValue(t, m, "mkvseq_blocks_read_total"))
}

func TestReaderClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mkv")
	writeFile(t, path, newColorSequence(1, 0, 1))

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	err = r.ReadAll(frame.NewList(0))
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, codec.RawCodecID, r.Info().CodecID)
}

func TestContentDecoder(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		dec, err := newContentDecoder(trackEntry{})
		require.NoError(t, err)
		out, err := dec([]byte{1})
		require.NoError(t, err)
		require.Equal(t, []byte{1}, out)
	})
	t.Run("zlib", func(t *testing.T) {
		dec, err := newContentDecoder(trackEntry{ContentEncodings: zlibEncodings()})
		require.NoError(t, err)

		compressed, err := compressZlib([]byte("hello hello hello"))
		require.NoError(t, err)
		out, err := dec(compressed)
		require.NoError(t, err)
		require.Equal(t, "hello hello hello", string(out))

		_, err = dec([]byte("not zlib"))
		require.Error(t, err)
	})
	t.Run("headerStrip", func(t *testing.T) {
		dec, err := newContentDecoder(trackEntry{
			ContentEncodings: []contentEncodings{{
				ContentEncoding: []contentEncoding{{
					ContentEncodingScope: encodingScopeFrames,
					ContentCompression: []contentCompression{{
						ContentCompAlgo:     compAlgoHeaderStrip,
						ContentCompSettings: []byte{0x82, 0x49},
					}},
				}},
			}},
		})
		require.NoError(t, err)
		out, err := dec([]byte{0x83})
		require.NoError(t, err)
		require.Equal(t, []byte{0x82, 0x49, 0x83}, out)
	})
	t.Run("unsupportedAlgo", func(t *testing.T) {
		_, err := newContentDecoder(trackEntry{
			ContentEncodings: []contentEncodings{{
				ContentEncoding: []contentEncoding{{
					ContentCompression: []contentCompression{{ContentCompAlgo: 2}},
				}},
			}},
		})
		require.ErrorIs(t, err, ErrContentEncoding)
	})
}
