// SPDX-License-Identifier: GPL-2.0-or-later

// Package frame is an in-memory store of timestamped images with
// named string fields.
package frame

import (
	"sort"
)

// TimestampField is reserved, the timestamp is stored on the frame itself.
const TimestampField = "Timestamp"

// Image unsigned 8 bit image with interleaved components.
type Image struct {
	Width      int
	Height     int
	Components int
	Pix        []byte
}

// Size returns the number of bytes a full buffer requires.
func (i Image) Size() int {
	return i.Width * i.Height * i.Components
}

// Empty returns true if the image has no pixel dimensions.
func (i Image) Empty() bool {
	return i.Width <= 0 || i.Height <= 0
}

// Frame timestamped image.
type Frame struct {
	timestamp float64 // Seconds.
	image     Image
	fields    map[string]string
}

// New returns a frame with an empty field set.
func New() *Frame {
	return &Frame{fields: make(map[string]string)}
}

// Timestamp in seconds.
func (f *Frame) Timestamp() float64 {
	return f.timestamp
}

// SetTimestamp sets the timestamp in seconds.
func (f *Frame) SetTimestamp(ts float64) {
	f.timestamp = ts
}

// Image returns the frame image.
func (f *Frame) Image() *Image {
	return &f.image
}

// AllocateImage replaces the image with a zeroed buffer.
func (f *Frame) AllocateImage(width, height, components int) *Image {
	f.image = Image{
		Width:      width,
		Height:     height,
		Components: components,
		Pix:        make([]byte, width*height*components),
	}
	return &f.image
}

// Field returns the value of a named field.
func (f *Frame) Field(name string) (string, bool) {
	v, ok := f.fields[name]
	return v, ok
}

// SetField sets a named field.
func (f *Frame) SetField(name, value string) {
	if f.fields == nil {
		f.fields = make(map[string]string)
	}
	f.fields[name] = value
}

// FieldNames returns the populated field names in sorted order.
func (f *Frame) FieldNames() []string {
	names := make([]string, 0, len(f.fields))
	for name := range f.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sequence ordered and mutable collection of frames.
// Implementations are not required to be safe for concurrent use.
type Sequence interface {
	Len() int

	// SetLen grows or truncates the sequence, new frames are empty.
	SetLen(n int)

	At(i int) *Frame
}

// List slice backed Sequence.
type List struct {
	frames []*Frame
}

// NewList returns a list of n empty frames.
func NewList(n int) *List {
	l := &List{}
	l.SetLen(n)
	return l
}

// Len implements Sequence.
func (l *List) Len() int {
	return len(l.frames)
}

// SetLen implements Sequence.
func (l *List) SetLen(n int) {
	if n < len(l.frames) {
		l.frames = l.frames[:n]
		return
	}
	for len(l.frames) < n {
		l.frames = append(l.frames, New())
	}
}

// At implements Sequence.
func (l *List) At(i int) *Frame {
	return l.frames[i]
}

// Append adds a frame to the end of the list.
func (l *List) Append(f *Frame) {
	l.frames = append(l.frames, f)
}

// Add appends a new empty frame to s and returns it.
func Add(s Sequence) *Frame {
	n := s.Len()
	s.SetLen(n + 1)
	return s.At(n)
}
