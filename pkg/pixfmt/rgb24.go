// SPDX-License-Identifier: GPL-2.0-or-later

package pixfmt

import (
	"image"
	"image/color"

	"mkvseq/pkg/frame"
)

// RGB Color.
type RGB struct {
	R, G, B uint8
}

// RGBA implements color.Color.
func (c RGB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8

	g = uint32(c.G)
	g |= g << 8

	b = uint32(c.B)
	b |= b << 8

	a = 0xffff
	return
}

// RGBModel converts any color to RGB, alpha is dropped.
var RGBModel color.Model = color.ModelFunc(func(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
})

// RGB24 wraps a packed RGB frame image as an image.Image.
type RGB24 struct {
	img frame.Image
}

// ColorModel implements image.Image.
func (p *RGB24) ColorModel() color.Model { return RGBModel }

// Bounds implements image.Image.
func (p *RGB24) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.img.Width, p.img.Height)
}

// At implements image.Image.
func (p *RGB24) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= p.img.Width || y >= p.img.Height {
		return RGB{}
	}
	i := (y*p.img.Width + x) * 3
	return RGB{p.img.Pix[i], p.img.Pix[i+1], p.img.Pix[i+2]}
}

// ToImage wraps a frame image without copying. Single component
// images become *image.Gray, everything else *RGB24.
func ToImage(img frame.Image) image.Image {
	if img.Components == 1 {
		rect := image.Rect(0, 0, img.Width, img.Height)
		return &image.Gray{Pix: img.Pix, Stride: img.Width, Rect: rect}
	}
	return &RGB24{img: img}
}

// FromImage copies src into a frame image. *image.Gray keeps a
// single component, every other image is converted to RGB.
func FromImage(src image.Image) frame.Image {
	b := src.Bounds()
	if gray, ok := src.(*image.Gray); ok {
		out := frame.Image{Width: b.Dx(), Height: b.Dy(), Components: 1}
		out.Pix = make([]byte, out.Size())
		for y := 0; y < b.Dy(); y++ {
			row := gray.Pix[gray.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(out.Pix[y*b.Dx():(y+1)*b.Dx()], row[:b.Dx()])
		}
		return out
	}

	out := frame.Image{Width: b.Dx(), Height: b.Dy(), Components: 3}
	out.Pix = make([]byte, out.Size())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := RGBModel.Convert(src.At(x, y)).(RGB)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return out
}
