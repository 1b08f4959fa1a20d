// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import "errors"

// Error categories, match them with errors.Is.
var (
	// ErrIO file could not be created, opened or written.
	ErrIO = errors.New("io error")

	// ErrFormat missing track, unknown codec or malformed segment.
	ErrFormat = errors.New("format error")

	// ErrConfiguration empty sequence or unusable first frame.
	ErrConfiguration = errors.New("configuration error")

	// ErrFrame a single frame could not be encoded or decoded.
	// Frame errors are logged and the frame is skipped.
	ErrFrame = errors.New("frame error")
)

// Detailed errors, always wrapped in one of the categories above.
var (
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrClosed               = errors.New("closed")
	ErrDocType              = errors.New("unsupported doc type")
	ErrNoVideoTrack         = errors.New("no video track")
	ErrContentEncoding      = errors.New("unsupported content encoding")
	ErrEmptySequence        = errors.New("empty frame sequence")
	ErrComponents           = errors.New("unsupported component count")
	ErrDimensions           = errors.New("frame dimensions changed")
	ErrNegativeTime         = errors.New("frame precedes first frame")
)
