// SPDX-License-Identifier: GPL-2.0-or-later

package vp9

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// IVF is the minimal container ffmpeg and libvpx use for raw VP8/VP9 frames.
//
// header { // 32 bytes, little endian.
//   signature  [4]byte "DKIF"
//   version    uint16  0
//   headerSize uint16  32
//   fourcc     [4]byte "VP90"
//   width      uint16
//   height     uint16
//   rate       uint32
//   scale      uint32
//   frameCount uint32
//   unused     uint32
// }
//
// frame { // 12 byte header.
//   size uint32
//   pts  uint64
//   data [size]byte
// }

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
)

// IVFHeader ivf file header.
type IVFHeader struct {
	Signature  [4]byte
	Version    uint16
	HeaderSize uint16
	FourCC     [4]byte
	Width      uint16
	Height     uint16
	Rate       uint32
	Scale      uint32
	FrameCount uint32
	Unused     uint32
}

// NewIVFHeader returns a VP9 header.
func NewIVFHeader(width, height int, frameCount int) IVFHeader {
	return IVFHeader{
		Signature:  [4]byte{'D', 'K', 'I', 'F'},
		HeaderSize: ivfHeaderSize,
		FourCC:     [4]byte{'V', 'P', '9', '0'},
		Width:      uint16(width),
		Height:     uint16(height),
		Rate:       25,
		Scale:      1,
		FrameCount: uint32(frameCount),
	}
}

// IVF errors.
var (
	ErrInvalidIVF         = errors.New("not a valid IVF stream")
	ErrUnsupportedVersion = errors.New("unsupported IVF version")
	ErrNoFrames           = errors.New("IVF stream contains no frames")
)

// WriteIVF writes a complete IVF stream.
func WriteIVF(w io.Writer, header IVFHeader, frames ...[]byte) error {
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, frame := range frames {
		frameHeader := make([]byte, ivfFrameHeaderSize)
		binary.LittleEndian.PutUint32(frameHeader[:4], uint32(len(frame)))
		binary.LittleEndian.PutUint64(frameHeader[4:], uint64(i))
		if _, err := w.Write(frameHeader); err != nil {
			return fmt.Errorf("write frame header: %w", err)
		}
		if _, err := w.Write(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

// MarshalIVF returns a single frame IVF stream.
func MarshalIVF(width, height int, frame []byte) []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	WriteIVF(&buf, NewIVFHeader(width, height, 1), frame) //nolint:errcheck
	return buf.Bytes()
}

// ReadIVF parses a complete IVF stream.
func ReadIVF(r io.Reader) (*IVFHeader, [][]byte, error) {
	var header IVFHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("%w: read header: %v", ErrInvalidIVF, err)
	}
	if string(header.Signature[:]) != "DKIF" {
		return nil, nil, ErrInvalidIVF
	}
	if header.Version != 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}
	if header.HeaderSize > ivfHeaderSize {
		skip := int64(header.HeaderSize) - ivfHeaderSize
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, nil, fmt.Errorf("%w: skip header: %v", ErrInvalidIVF, err)
		}
	}

	var frames [][]byte
	frameHeader := make([]byte, ivfFrameHeaderSize)
	for {
		_, err := io.ReadFull(r, frameHeader)
		if errors.Is(err, io.EOF) {
			return &header, frames, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read frame header: %v", ErrInvalidIVF, err)
		}

		frame := make([]byte, binary.LittleEndian.Uint32(frameHeader[:4]))
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, nil, fmt.Errorf("%w: read frame: %v", ErrInvalidIVF, err)
		}
		frames = append(frames, frame)
	}
}
