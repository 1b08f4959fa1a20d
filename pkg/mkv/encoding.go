// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressZlib(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func zlibEncodings() []contentEncodings {
	return []contentEncodings{{
		ContentEncoding: []contentEncoding{{
			ContentEncodingOrder: 0,
			ContentEncodingScope: encodingScopeFrames,
			ContentEncodingType:  encodingTypeCompression,
			ContentCompression: []contentCompression{{
				ContentCompAlgo: compAlgoZlib,
			}},
		}},
	}}
}

type contentDecoder func([]byte) ([]byte, error)

func nopDecoder(data []byte) ([]byte, error) { return data, nil }

// newContentDecoder returns a function that reverses the content
// encodings of a track. Only frame compression is supported.
func newContentDecoder(entry trackEntry) (contentDecoder, error) {
	var encodings []contentEncoding
	for _, e := range entry.ContentEncodings {
		encodings = append(encodings, e.ContentEncoding...)
	}
	if len(encodings) == 0 {
		return nopDecoder, nil
	}
	if len(encodings) > 1 {
		return nil, fmt.Errorf("%w: %d encodings on track %d",
			ErrContentEncoding, len(encodings), entry.TrackNumber)
	}

	e := encodings[0]
	if e.ContentEncodingType != encodingTypeCompression {
		return nil, fmt.Errorf("%w: type %d", ErrContentEncoding, e.ContentEncodingType)
	}
	// Scope defaults to frames when absent.
	if e.ContentEncodingScope != 0 && e.ContentEncodingScope&encodingScopeFrames == 0 {
		return nopDecoder, nil
	}

	var comp contentCompression
	if len(e.ContentCompression) > 0 {
		comp = e.ContentCompression[0]
	}
	switch comp.ContentCompAlgo {
	case compAlgoZlib:
		return decompressZlib, nil
	case compAlgoHeaderStrip:
		header := comp.ContentCompSettings
		return func(data []byte) ([]byte, error) {
			out := make([]byte, 0, len(header)+len(data))
			return append(append(out, header...), data...), nil
		}, nil
	}
	return nil, fmt.Errorf("%w: compression algorithm %d",
		ErrContentEncoding, comp.ContentCompAlgo)
}
