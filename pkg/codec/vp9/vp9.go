// SPDX-License-Identifier: GPL-2.0-or-later

// Package vp9 encodes and decodes VP9 frames through ffmpeg.
package vp9

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mkvseq/pkg/codec"
	"mkvseq/pkg/ffmpeg"
	"mkvseq/pkg/pixfmt"
)

// CodecID Matroska ID for VP9.
const CodecID = "V_VP9"

// Each frame is a separate process.
const defaultTimeout = 30 * time.Second

// Factory creates VP9 encoders and decoders.
type Factory struct {
	ffmpeg  ffmpeg.Piper
	timeout time.Duration
}

// NewFactory returns a factory that runs ffmpeg through piper.
func NewFactory(piper ffmpeg.Piper) *Factory {
	return &Factory{ffmpeg: piper, timeout: defaultTimeout}
}

func init() {
	codec.Register(NewFactory(ffmpeg.New("ffmpeg")))
}

// CodecID implements codec.Factory.
func (f *Factory) CodecID() string { return CodecID }

// NewEncoder implements codec.Factory.
func (f *Factory) NewEncoder(width, height int) (codec.Encoder, error) {
	if err := f.ffmpeg.Available(); err != nil {
		return nil, err
	}
	return &encoder{factory: f, width: width, height: height}, nil
}

// NewDecoder implements codec.Factory.
func (f *Factory) NewDecoder(width, height int) (codec.Decoder, error) {
	if err := f.ffmpeg.Available(); err != nil {
		return nil, err
	}
	return &decoder{factory: f, width: width, height: height}, nil
}

func size(width, height int) string {
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}

// EncodeArgs returns the ffmpeg arguments used to encode one full range
// yuv420p frame. Color conversion happens in pixfmt on both sides, ffmpeg
// must pass the samples through unchanged.
func EncodeArgs(width, height int) []string {
	return ffmpeg.ParseArgs("-hide_banner -loglevel error" +
		" -f rawvideo -pix_fmt yuv420p -color_range pc -s " + size(width, height) + " -i pipe:0" +
		" -frames:v 1 -c:v libvpx-vp9 -lossless 1 -pix_fmt yuv420p -color_range pc" +
		" -f ivf pipe:1")
}

// DecodeArgs returns the ffmpeg arguments used to decode one frame.
func DecodeArgs() []string {
	return ffmpeg.ParseArgs("-hide_banner -loglevel error" +
		" -f ivf -i pipe:0" +
		" -f rawvideo -pix_fmt yuv420p -color_range pc pipe:1")
}

// Errors.
var (
	ErrEncoderOutput = errors.New("unexpected encoder output")
	ErrDecoderOutput = errors.New("unexpected decoder output")
)

type encoder struct {
	factory *Factory
	width   int
	height  int
}

func (e *encoder) Encode(rgb []byte) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.factory.timeout)
	defer cancel()

	i420 := make([]byte, pixfmt.I420Size(e.width, e.height))
	if err := pixfmt.RGBToI420(i420, rgb, e.width, e.height); err != nil {
		return nil, false, err
	}

	out, err := e.factory.ffmpeg.Pipe(ctx, i420, EncodeArgs(e.width, e.height)...)
	if err != nil {
		return nil, false, fmt.Errorf("encode: %w", err)
	}

	_, frames, err := ReadIVF(bytes.NewReader(out))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrEncoderOutput, err)
	}
	if len(frames) == 0 {
		return nil, false, fmt.Errorf("%w: %w", ErrEncoderOutput, ErrNoFrames)
	}
	// A superframe or multiple packets are not expected from a single intra frame.
	bitstream := frames[0]

	header, err := ParseFrameHeader(bitstream)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrEncoderOutput, err)
	}
	return bitstream, header.Keyframe, nil
}

func (e *encoder) Close() error { return nil }

type decoder struct {
	factory *Factory
	width   int
	height  int
}

func (d *decoder) Decode(bitstream []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.factory.timeout)
	defer cancel()

	stream := MarshalIVF(d.width, d.height, bitstream)
	out, err := d.factory.ffmpeg.Pipe(ctx, stream, DecodeArgs()...)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(out) != pixfmt.I420Size(d.width, d.height) {
		return nil, fmt.Errorf("%w: %d bytes, expected %d",
			ErrDecoderOutput, len(out), pixfmt.I420Size(d.width, d.height))
	}
	return out, nil
}

func (d *decoder) Close() error { return nil }
