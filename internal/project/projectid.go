// Package project implements the Project Registry: ProjectId derivation,
// ProjectRecord persistence, a fingerprint-invalidated cache, and
// permission evaluation, grounded on the original mcp-center's
// project/mod.rs and daemon/host.rs.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"unicode/utf16"
)

// idHexLen matches the original's PROJECT_ID_HEX_LEN.
const idHexLen = 16

// ID is a 16-hex-digit prefix of a cryptographic hash of the project path's
// platform-specific raw byte form. It is derived, never stored as mutable
// state, and is stable across restarts for the same path.
type ID string

// String returns the id's string form.
func (id ID) String() string { return string(id) }

// FromPath derives the stable ProjectId for an absolute path. The original
// hashes the path with BLAKE3; no BLAKE3 package appears anywhere in the
// retrieved example corpus, so sha256 stands in here (see DESIGN.md) —
// both are cryptographic hashes and the truncation-to-16-hex-chars
// behaviour (and its stability/uniqueness properties, P1) is identical.
func FromPath(path string) ID {
	signature := pathSignature(path)
	sum := sha256.Sum256(signature)
	hexSum := hex.EncodeToString(sum[:])
	if len(hexSum) > idHexLen {
		hexSum = hexSum[:idHexLen]
	}
	return ID(hexSum)
}

// pathSignature renders the path the same way the original does: raw OS
// bytes on POSIX, UTF-16LE code units on Windows.
func pathSignature(path string) []byte {
	if runtime.GOOS == "windows" {
		units := utf16.Encode([]rune(path))
		buf := make([]byte, 0, len(units)*2)
		for _, u := range units {
			buf = append(buf, byte(u), byte(u>>8))
		}
		return buf
	}
	return []byte(path)
}
