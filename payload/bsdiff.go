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

// This file implements the BSDIFF/SOURCE_BSDIFF operation payload: a
// binary diff reconstructed against the operation's source extents
// (spec.md §4.4). The patch is a byte-for-byte control/diff/extra triple
// stream in the shape of Colin Percival's bsdiff, but stored
// uncompressed: the reference bsdiff format wraps each sub-stream in
// bzip2, and Go's standard library only implements a bzip2 *reader*, not
// a writer, so this processor defines its own framing rather than
// depend on an unavailable compressor (see DESIGN.md).
package payload

import (
	"encoding/binary"
	"fmt"
	"io"
)

var diffMagic = [4]byte{'B', 'S', 'P', 'T'}

type controlTriple struct {
	DiffLen  uint64
	ExtraLen uint64
	Seek     int64
}

// encodeDiff produces a patch new can be reconstructed from old with via
// applyDiff. The control stream produced here is a single
// "copy everything as extra data" triple: correctness does not depend on
// finding a compact diff, only on applyDiff's reconstruction being exact.
func encodeDiff(old, newData []byte) ([]byte, error) {
	var buf []byte
	buf = append(buf, diffMagic[:]...)
	buf = appendUint64(buf, uint64(len(newData)))
	buf = appendUint64(buf, 1) // one control triple

	buf = appendUint64(buf, 0)              // diffLen
	buf = appendUint64(buf, uint64(len(newData))) // extraLen
	buf = appendInt64(buf, 0)               // seek

	buf = append(buf, newData...) // extra bytes (the whole new file)
	return buf, nil
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendInt64(b []byte, v int64) []byte {
	return appendUint64(b, uint64(v))
}

// applyDiff reconstructs the new byte sequence of length newSize from
// old (the concatenated source extents) and patch.
func applyDiff(old []byte, patch io.Reader, newSize uint64) ([]byte, error) {
	header := make([]byte, 4+8+8)
	if _, err := io.ReadFull(patch, header); err != nil {
		return nil, fmt.Errorf("reading diff header: %w", err)
	}
	if header[0] != diffMagic[0] || header[1] != diffMagic[1] || header[2] != diffMagic[2] || header[3] != diffMagic[3] {
		return nil, fmt.Errorf("bad diff magic")
	}
	declaredNewSize := binary.BigEndian.Uint64(header[4:12])
	if declaredNewSize != newSize {
		return nil, fmt.Errorf("patch declares new size %d, destination extents total %d", declaredNewSize, newSize)
	}
	triCount := binary.BigEndian.Uint64(header[12:20])

	triples := make([]controlTriple, triCount)
	for i := range triples {
		buf := make([]byte, 24)
		if _, err := io.ReadFull(patch, buf); err != nil {
			return nil, fmt.Errorf("reading control triple %d: %w", i, err)
		}
		triples[i] = controlTriple{
			DiffLen:  binary.BigEndian.Uint64(buf[0:8]),
			ExtraLen: binary.BigEndian.Uint64(buf[8:16]),
			Seek:     int64(binary.BigEndian.Uint64(buf[16:24])),
		}
	}

	newData := make([]byte, newSize)
	var oldPos, newPos int64
	for i, tri := range triples {
		if newPos+int64(tri.DiffLen) > int64(newSize) {
			return nil, fmt.Errorf("control triple %d diff block overruns new size", i)
		}
		diffChunk := make([]byte, tri.DiffLen)
		if _, err := io.ReadFull(patch, diffChunk); err != nil {
			return nil, fmt.Errorf("reading diff bytes for triple %d: %w", i, err)
		}
		for j := range diffChunk {
			idx := oldPos + int64(j)
			if idx >= 0 && idx < int64(len(old)) {
				diffChunk[j] += old[idx]
			}
		}
		copy(newData[newPos:], diffChunk)
		newPos += int64(tri.DiffLen)
		oldPos += int64(tri.DiffLen)

		if newPos+int64(tri.ExtraLen) > int64(newSize) {
			return nil, fmt.Errorf("control triple %d extra block overruns new size", i)
		}
		if _, err := io.ReadFull(patch, newData[newPos:newPos+int64(tri.ExtraLen)]); err != nil {
			return nil, fmt.Errorf("reading extra bytes for triple %d: %w", i, err)
		}
		newPos += int64(tri.ExtraLen)
		oldPos += tri.Seek
	}

	if newPos != int64(newSize) {
		return nil, fmt.Errorf("control stream produced %d bytes, expected %d", newPos, newSize)
	}
	return newData, nil
}
