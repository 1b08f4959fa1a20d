// SPDX-License-Identifier: GPL-2.0-or-later

// Package pixfmt converts between packed RGB, single channel greyscale
// and planar 4:2:0 buffers.
package pixfmt

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrBufferSize buffer does not match the image dimensions.
var ErrBufferSize = errors.New("invalid buffer size")

// IsGreyscale returns true for any component count other than 3.
func IsGreyscale(components int) bool {
	return components != 3
}

// greyTable maps every grey level to an RGB triple with zero hue and
// zero saturation, the value ramps linearly over the full byte range.
var greyTable = func() (t [256][3]uint8) {
	for i := range t {
		v := uint8(i)
		t[i] = [3]uint8{v, v, v}
	}
	return t
}()

// GreyLevel returns the table entry for level.
func GreyLevel(level uint8) [3]uint8 {
	return greyTable[level]
}

// GreyToRGB expands a single channel image through the grey table.
func GreyToRGB(dst, src []byte) error {
	if len(dst) != len(src)*3 {
		return fmt.Errorf("%w: rgb %d, grey %d", ErrBufferSize, len(dst), len(src))
	}
	for i, v := range src {
		copy(dst[i*3:i*3+3], greyTable[v][:])
	}
	return nil
}

// RGBToGrey reduces RGB to a single luma channel. Every grey
// table entry (i, i, i) is reduced to exactly i.
func RGBToGrey(dst, src []byte) error {
	if len(src) != len(dst)*3 {
		return fmt.Errorf("%w: rgb %d, grey %d", ErrBufferSize, len(src), len(dst))
	}
	for i := range dst {
		y, _, _ := color.RGBToYCbCr(src[i*3], src[i*3+1], src[i*3+2])
		dst[i] = y
	}
	return nil
}

// I420Size returns the size of a planar 4:2:0 buffer.
// Chroma planes are rounded up for odd dimensions.
func I420Size(width, height int) int {
	cw, ch := chromaSize(width, height)
	return width*height + 2*cw*ch
}

func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// newI420 wraps buf without copying.
func newI420(buf []byte, width, height int) *image.YCbCr {
	cw, ch := chromaSize(width, height)
	ySize := width * height
	cSize := cw * ch
	return &image.YCbCr{
		Y:              buf[:ySize],
		Cb:             buf[ySize : ySize+cSize],
		Cr:             buf[ySize+cSize : ySize+2*cSize],
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}
}

// I420ToRGB converts a planar full range BT.601 4:2:0 buffer to packed RGB.
func I420ToRGB(dst, src []byte, width, height int) error {
	if len(src) != I420Size(width, height) {
		return fmt.Errorf("%w: i420 %d, expected %d",
			ErrBufferSize, len(src), I420Size(width, height))
	}
	if len(dst) != width*height*3 {
		return fmt.Errorf("%w: rgb %d, expected %d",
			ErrBufferSize, len(dst), width*height*3)
	}

	img := newI420(src, width, height)
	pos := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ci := img.COffset(x, y)
			r, g, b := color.YCbCrToRGB(img.Y[img.YOffset(x, y)], img.Cb[ci], img.Cr[ci])
			dst[pos] = r
			dst[pos+1] = g
			dst[pos+2] = b
			pos += 3
		}
	}
	return nil
}

// RGBToI420 converts packed RGB to a planar full range BT.601 4:2:0 buffer.
// Chroma is the rounded mean of each 2x2 block.
func RGBToI420(dst, src []byte, width, height int) error {
	if len(src) != width*height*3 {
		return fmt.Errorf("%w: rgb %d, expected %d",
			ErrBufferSize, len(src), width*height*3)
	}
	if len(dst) != I420Size(width, height) {
		return fmt.Errorf("%w: i420 %d, expected %d",
			ErrBufferSize, len(dst), I420Size(width, height))
	}

	img := newI420(dst, width, height)
	cw, ch := chromaSize(width, height)
	cbSum := make([]int, cw*ch)
	crSum := make([]int, cw*ch)
	count := make([]int, cw*ch)

	pos := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			yy, cb, cr := color.RGBToYCbCr(src[pos], src[pos+1], src[pos+2])
			pos += 3

			img.Y[img.YOffset(x, y)] = yy
			ci := img.COffset(x, y)
			cbSum[ci] += int(cb)
			crSum[ci] += int(cr)
			count[ci]++
		}
	}
	for i := range count {
		n := count[i]
		img.Cb[i] = uint8((cbSum[i] + n/2) / n)
		img.Cr[i] = uint8((crSum[i] + n/2) / n)
	}
	return nil
}
