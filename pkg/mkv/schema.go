// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"mkvseq/pkg/frame"
	"mkvseq/pkg/pixfmt"

	"github.com/google/uuid"
)

// MetadataCodecID codec ID of metadata tracks.
const MetadataCodecID = "S_TEXT/UTF8"

// VideoTrackPrefix video track name prefix, the track number is appended.
const VideoTrackPrefix = "Video"

// TrackKind video or metadata.
type TrackKind int

// Track kinds.
const (
	TrackVideo TrackKind = iota
	TrackMetadata
)

func (k TrackKind) String() string {
	if k == TrackVideo {
		return "video"
	}
	return "metadata"
}

// Track container track.
type Track struct {
	Number  uint64
	UID     uint64
	Kind    TrackKind
	Name    string
	CodecID string
}

// Schema is the track layout of one container. It is derived
// from the first frame and never changes after that.
type Schema struct {
	Video    Track
	Metadata []Track // Sorted by name.

	Width      int
	Height     int
	Components int
	Greyscale  bool

	byName map[string]int
}

// Derive creates the video track and one metadata track per field of
// frame 0, excluding "Timestamp". Fields that first appear on a later
// frame do not get a track. Calling Derive on a derived schema is a no-op.
func (s *Schema) Derive(seq frame.Sequence, codecID string) error {
	if s.Video.Number > 0 {
		return nil
	}
	if seq == nil || seq.Len() == 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, ErrEmptySequence)
	}

	img := seq.At(0).Image()
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: first frame has no pixel dimensions: %dx%d",
			ErrConfiguration, img.Width, img.Height)
	}
	if img.Components != 1 && img.Components != 3 {
		return fmt.Errorf("%w: %w: %d",
			ErrConfiguration, ErrComponents, img.Components)
	}

	var names []string
	for _, name := range seq.At(0).FieldNames() {
		if name != frame.TimestampField {
			names = append(names, name)
		}
	}

	const videoNumber = 1
	s.Video = Track{
		Number:  videoNumber,
		UID:     newUID(),
		Kind:    TrackVideo,
		Name:    VideoTrackPrefix + strconv.Itoa(videoNumber),
		CodecID: codecID,
	}
	s.Metadata = make([]Track, 0, len(names))
	s.byName = make(map[string]int, len(names))
	for i, name := range names {
		s.byName[name] = i
		s.Metadata = append(s.Metadata, Track{
			Number:  uint64(videoNumber + 1 + i),
			UID:     newUID(),
			Kind:    TrackMetadata,
			Name:    name,
			CodecID: MetadataCodecID,
		})
	}

	s.Width = img.Width
	s.Height = img.Height
	s.Components = img.Components
	s.Greyscale = pixfmt.IsGreyscale(img.Components)
	return nil
}

// Derived returns true after a successful Derive.
func (s *Schema) Derived() bool {
	return s.Video.Number > 0
}

// MetadataTrack returns the metadata track of field name.
func (s *Schema) MetadataTrack(name string) (Track, bool) {
	i, exist := s.byName[name]
	if !exist {
		return Track{}, false
	}
	return s.Metadata[i], true
}

// Tracks returns all tracks, video first.
func (s *Schema) Tracks() []Track {
	if !s.Derived() {
		return nil
	}
	return append([]Track{s.Video}, s.Metadata...)
}

// Track UIDs must be non-zero.
func newUID() uint64 {
	for {
		id := uuid.New()
		if uid := binary.BigEndian.Uint64(id[:8]); uid != 0 {
			return uid
		}
	}
}
