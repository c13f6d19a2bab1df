// Copyright 2016 CoreOS, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package payload implements the streaming consumer of a downloaded
// update payload: framed header parse, signature verification, and
// application of full or delta operations to the target block devices
// (spec.md §4.4). Framing is bit-exact per spec.md §6:
//
//	offset 0:       magic "CrAU" (4 bytes)
//	offset 4:       version, uint64 big-endian
//	offset 12:      manifest length L, uint64 big-endian
//	offset 20:      manifest (L bytes)
//	offset 20+L:    data blob region
//	manifest.SignaturesOffset: trailing signature blob
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the first four bytes of any update payload.
const Magic = "CrAU"

// Version is the only payload format version this processor accepts.
const Version uint64 = 1

var (
	// ErrInvalidMagic is returned when the payload does not start with Magic.
	ErrInvalidMagic = errors.New("payload: missing magic prefix")
	// ErrInvalidVersion is returned for a version other than Version.
	ErrInvalidVersion = errors.New("payload: unsupported version")
	// ErrMissingManifest is returned when the header declares a zero-length manifest.
	ErrMissingManifest = errors.New("payload: missing manifest")
)

// Header is the fixed-size prefix of every payload.
type Header struct {
	Magic        [4]byte
	Version      uint64
	ManifestSize uint64
}

// ReadHeader parses and validates the 20-byte fixed header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return Header{}, fmt.Errorf("payload: reading header: %w", err)
	}
	if string(h.Magic[:]) != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, ErrInvalidVersion
	}
	if h.ManifestSize == 0 {
		return Header{}, ErrMissingManifest
	}
	return h, nil
}

// WriteHeader serializes h to w.
func WriteHeader(w io.Writer, h Header) error {
	copy(h.Magic[:], []byte(Magic))
	return binary.Write(w, binary.BigEndian, &h)
}
