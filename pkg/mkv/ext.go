// SPDX-License-Identifier: GPL-2.0-or-later

package mkv

import (
	"path/filepath"
	"strings"
)

// Doc types.
const (
	DocTypeMatroska = "matroska"
	DocTypeWebM     = "webm"
)

// CanRead returns true if the file extension is readable.
func CanRead(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mkv", ".webm":
		return true
	}
	return false
}

// CanWrite returns true if the file extension is writable.
// WebM only allows VP8/VP9 and WebVTT, so only ".mkv" is written.
func CanWrite(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".mkv"
}
