// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"fmt"

	"mkvseq/pkg/pixfmt"
)

// RawCodecID Matroska ID for uncompressed video.
const RawCodecID = "V_UNCOMPRESSED"

// Raw stores frames as planar 4:2:0 without compression.
// Every frame is a keyframe.
type Raw struct{}

func init() {
	Register(Raw{})
}

// CodecID implements Factory.
func (Raw) CodecID() string { return RawCodecID }

// NewEncoder implements Factory.
func (Raw) NewEncoder(width, height int) (Encoder, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	return &rawCoder{width: width, height: height}, nil
}

// NewDecoder implements Factory.
func (Raw) NewDecoder(width, height int) (Decoder, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	return &rawCoder{width: width, height: height}, nil
}

type rawCoder struct {
	width  int
	height int
}

func (c *rawCoder) Encode(rgb []byte) ([]byte, bool, error) {
	out := make([]byte, pixfmt.I420Size(c.width, c.height))
	if err := pixfmt.RGBToI420(out, rgb, c.width, c.height); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *rawCoder) Decode(bitstream []byte) ([]byte, error) {
	if len(bitstream) != pixfmt.I420Size(c.width, c.height) {
		return nil, fmt.Errorf("%w: frame %d bytes, expected %d",
			ErrDimensionMismatch, len(bitstream), pixfmt.I420Size(c.width, c.height))
	}
	out := make([]byte, len(bitstream))
	copy(out, bitstream)
	return out, nil
}

func (c *rawCoder) Close() error { return nil }
