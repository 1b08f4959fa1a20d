// SPDX-License-Identifier: GPL-2.0-or-later

// Package codec is the boundary between the container engine and
// the video compression implementations.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"mkvseq/pkg/pixfmt"
)

// Encoder compresses packed RGB images of fixed dimensions.
type Encoder interface {
	Encode(rgb []byte) (bitstream []byte, keyframe bool, err error)
	Close() error
}

// Decoder decompresses a bitstream into a planar 4:2:0 buffer of
// pixfmt.I420Size bytes.
type Decoder interface {
	Decode(bitstream []byte) ([]byte, error)
	Close() error
}

// Factory creates encoders and decoders for one codec.
type Factory interface {
	// CodecID returns the Matroska codec ID, "V_VP9" for example.
	CodecID() string
	NewEncoder(width, height int) (Encoder, error)
	NewDecoder(width, height int) (Decoder, error)
}

// Errors.
var (
	ErrNotConfigured     = errors.New("codec not configured")
	ErrAlreadyConfigured = errors.New("codec already configured")
	ErrDimensionMismatch = errors.New("input does not match configured dimensions")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrUnknownCodec      = errors.New("unknown codec")
)

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return nil
}

// EncoderHandle is an encoder whose dimensions are bound exactly once.
type EncoderHandle struct {
	factory Factory
	width   int
	height  int
	enc     Encoder
}

// NewEncoderHandle returns an unconfigured handle.
func NewEncoderHandle(factory Factory) *EncoderHandle {
	return &EncoderHandle{factory: factory}
}

// Configure creates the underlying encoder. It can only succeed once.
func (h *EncoderHandle) Configure(width, height int) error {
	if h.enc != nil {
		return fmt.Errorf("%w: %dx%d, requested %dx%d",
			ErrAlreadyConfigured, h.width, h.height, width, height)
	}
	if err := checkDimensions(width, height); err != nil {
		return err
	}
	enc, err := h.factory.NewEncoder(width, height)
	if err != nil {
		return fmt.Errorf("new %v encoder: %w", h.factory.CodecID(), err)
	}
	h.enc, h.width, h.height = enc, width, height
	return nil
}

// Configured returns true after a successful Configure.
func (h *EncoderHandle) Configured() bool {
	return h.enc != nil
}

// Encode compresses rgb, which must be width*height*3 bytes.
func (h *EncoderHandle) Encode(rgb []byte) ([]byte, bool, error) {
	if h.enc == nil {
		return nil, false, ErrNotConfigured
	}
	if len(rgb) != h.width*h.height*3 {
		return nil, false, fmt.Errorf("%w: got %d bytes, expected %d",
			ErrDimensionMismatch, len(rgb), h.width*h.height*3)
	}
	return h.enc.Encode(rgb)
}

// Close releases the encoder, safe to call multiple times.
func (h *EncoderHandle) Close() error {
	if h.enc == nil {
		return nil
	}
	err := h.enc.Close()
	h.enc = nil
	return err
}

// DecoderHandle is a decoder whose dimensions are bound exactly once.
type DecoderHandle struct {
	factory Factory
	width   int
	height  int
	dec     Decoder
}

// NewDecoderHandle returns an unconfigured handle.
func NewDecoderHandle(factory Factory) *DecoderHandle {
	return &DecoderHandle{factory: factory}
}

// Configure creates the underlying decoder. It can only succeed once.
func (h *DecoderHandle) Configure(width, height int) error {
	if h.dec != nil {
		return fmt.Errorf("%w: %dx%d, requested %dx%d",
			ErrAlreadyConfigured, h.width, h.height, width, height)
	}
	if err := checkDimensions(width, height); err != nil {
		return err
	}
	dec, err := h.factory.NewDecoder(width, height)
	if err != nil {
		return fmt.Errorf("new %v decoder: %w", h.factory.CodecID(), err)
	}
	h.dec, h.width, h.height = dec, width, height
	return nil
}

// Decode returns a planar 4:2:0 buffer.
func (h *DecoderHandle) Decode(bitstream []byte) ([]byte, error) {
	if h.dec == nil {
		return nil, ErrNotConfigured
	}
	out, err := h.dec.Decode(bitstream)
	if err != nil {
		return nil, err
	}
	if len(out) != pixfmt.I420Size(h.width, h.height) {
		return nil, fmt.Errorf("%w: decoded %d bytes, expected %d",
			ErrDimensionMismatch, len(out), pixfmt.I420Size(h.width, h.height))
	}
	return out, nil
}

// Close releases the decoder, safe to call multiple times.
func (h *DecoderHandle) Close() error {
	if h.dec == nil {
		return nil
	}
	err := h.dec.Close()
	h.dec = nil
	return err
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a factory available by its codec ID,
// registering the same ID twice replaces the first factory.
func Register(f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f.CodecID()] = f
}

// Lookup returns the factory registered for codecID.
func Lookup(codecID string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, exist := registry[codecID]
	if !exist {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, codecID)
	}
	return f, nil
}

// Registered returns the sorted IDs of all registered codecs.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
