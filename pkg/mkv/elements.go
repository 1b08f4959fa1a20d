// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import "github.com/at-wat/ebml-go"

// Optional master elements are slices so they can be omitted.

type ebmlHeader struct {
	EBMLVersion            uint64
	EBMLReadVersion        uint64
	EBMLMaxIDLength        uint64
	EBMLMaxSizeLength      uint64
	EBMLDocType            string
	EBMLDocTypeVersion     uint64
	EBMLDocTypeReadVersion uint64
}

func newEBMLHeader() ebmlHeader {
	return ebmlHeader{
		EBMLVersion:            1,
		EBMLReadVersion:        1,
		EBMLMaxIDLength:        4,
		EBMLMaxSizeLength:      8,
		EBMLDocType:            DocTypeMatroska,
		EBMLDocTypeVersion:     4,
		EBMLDocTypeReadVersion: 2,
	}
}

type info struct {
	TimecodeScale uint64
	MuxingApp     string
	WritingApp    string
	SegmentUID    []byte `ebml:",omitempty"`

	// Must be the last element, it is patched on close.
	Duration float64
}

type trackVideo struct {
	PixelWidth  uint64
	PixelHeight uint64
}

type contentCompression struct {
	ContentCompAlgo     uint64
	ContentCompSettings []byte `ebml:",omitempty"`
}

type contentEncoding struct {
	ContentEncodingOrder uint64
	ContentEncodingScope uint64
	ContentEncodingType  uint64
	ContentCompression   []contentCompression
}

type contentEncodings struct {
	ContentEncoding []contentEncoding
}

type trackEntry struct {
	TrackNumber      uint64
	TrackUID         uint64
	TrackType        uint64
	Name             string `ebml:",omitempty"`
	CodecID          string
	DefaultDuration  uint64             `ebml:",omitempty"`
	Video            []trackVideo       `ebml:",omitempty"`
	ContentEncodings []contentEncodings `ebml:",omitempty"`
}

type tracks struct {
	TrackEntry []trackEntry
}

type blockGroup struct {
	Block []ebml.Block
}

type cluster struct {
	Timecode    uint64
	SimpleBlock []ebml.Block `ebml:",omitempty"`
	BlockGroup  []blockGroup `ebml:",omitempty"`
}

type cueTrackPositions struct {
	CueTrack           uint64
	CueClusterPosition uint64
}

type cuePoint struct {
	CueTime           uint64
	CueTrackPositions []cueTrackPositions
}

type cues struct {
	CuePoint []cuePoint
}

type targets struct{}

type simpleTag struct {
	TagName   string
	TagString string
}

type tag struct {
	Targets   targets
	SimpleTag []simpleTag
}

type tags struct {
	Tag []tag
}

type segment struct {
	Info    []info `ebml:",omitempty"`
	Tracks  []tracks
	Cluster []cluster
	Cues    []cues `ebml:",omitempty"`
	Tags    []tags `ebml:",omitempty"`
}

type container struct {
	Header  ebmlHeader `ebml:"EBML"`
	Segment segment
}

// Track types.
const (
	trackTypeVideo    = 0x01
	trackTypeSubtitle = 0x11
)

// Content encodings.
const (
	encodingTypeCompression = 0
	encodingScopeFrames     = 1

	compAlgoZlib        = 0
	compAlgoHeaderStrip = 3
)

// Segment element ID.
var segmentID = []byte{0x18, 0x53, 0x80, 0x67}
