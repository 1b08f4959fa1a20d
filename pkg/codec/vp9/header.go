// SPDX-License-Identifier: GPL-2.0-or-later

package vp9

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

// FrameHeader is the start of the VP9 uncompressed header.
type FrameHeader struct {
	Profile           uint8
	ShowExistingFrame bool
	Keyframe          bool
	ShowFrame         bool
	ErrorResilient    bool

	// Only set for keyframes.
	Width  int
	Height int
}

// Header errors.
var (
	ErrFrameMarker = errors.New("invalid VP9 frame marker")
	ErrSyncCode    = errors.New("invalid VP9 sync code")
	ErrShortHeader = errors.New("VP9 header too short")
)

const (
	syncCode = 0x498342
	csRGB    = 7
)

// ParseFrameHeader parses the uncompressed header up to the frame size.
func ParseFrameHeader(frame []byte) (*FrameHeader, error) {
	r := bitio.NewReader(bytes.NewReader(frame))

	if r.TryReadBits(2) != 2 {
		if r.TryError != nil {
			return nil, ErrShortHeader
		}
		return nil, ErrFrameMarker
	}

	var h FrameHeader
	profileLow := r.TryReadBits(1)
	profileHigh := r.TryReadBits(1)
	h.Profile = uint8(profileHigh<<1 | profileLow)
	if h.Profile == 3 {
		r.TryReadBits(1) // reserved_zero
	}

	h.ShowExistingFrame = r.TryReadBool()
	if h.ShowExistingFrame {
		r.TryReadBits(3) // frame_to_show_map_idx
		if r.TryError != nil {
			return nil, ErrShortHeader
		}
		return &h, nil
	}

	h.Keyframe = !r.TryReadBool() // frame_type, 0 is KEY_FRAME.
	h.ShowFrame = r.TryReadBool()
	h.ErrorResilient = r.TryReadBool()
	if r.TryError != nil {
		return nil, ErrShortHeader
	}
	if !h.Keyframe {
		return &h, nil
	}

	if code := r.TryReadBits(24); code != syncCode {
		if r.TryError != nil {
			return nil, ErrShortHeader
		}
		return nil, fmt.Errorf("%w: %06x", ErrSyncCode, code)
	}

	// color_config
	if h.Profile >= 2 {
		r.TryReadBits(1) // ten_or_twelve_bit
	}
	if r.TryReadBits(3) != csRGB {
		r.TryReadBits(1) // color_range
		if h.Profile == 1 || h.Profile == 3 {
			r.TryReadBits(3) // subsampling_x, subsampling_y, reserved_zero
		}
	} else if h.Profile == 1 || h.Profile == 3 {
		r.TryReadBits(1) // reserved_zero
	}

	// frame_size
	h.Width = int(r.TryReadBits(16)) + 1
	h.Height = int(r.TryReadBits(16)) + 1
	if r.TryError != nil {
		return nil, ErrShortHeader
	}
	return &h, nil
}
