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

package payload

import "io"

// extentReader sequences reads across a list of byte-range extents of a
// single io.ReaderAt, presenting them as one continuous io.Reader.
type extentReader struct {
	r       io.ReaderAt
	extents []Extent
	idx     int
	pos     uint64 // offset within extents[idx] already consumed
}

func newExtentReader(r io.ReaderAt, extents []Extent) *extentReader {
	return &extentReader{r: r, extents: extents}
}

func (e *extentReader) Read(p []byte) (int, error) {
	for {
		if e.idx >= len(e.extents) {
			return 0, io.EOF
		}
		ext := e.extents[e.idx]
		remaining := ext.Length - e.pos
		if remaining == 0 {
			e.idx++
			e.pos = 0
			continue
		}
		n := uint64(len(p))
		if n > remaining {
			n = remaining
		}
		read, err := e.r.ReadAt(p[:n], int64(ext.Offset+e.pos))
		e.pos += uint64(read)
		if err != nil && err != io.EOF {
			return read, err
		}
		return read, nil
	}
}

// extentWriter sequences writes across a list of byte-range extents of a
// single io.WriterAt, presenting them as one continuous io.Writer. It is
// an error to write more bytes than the sum of the extents' lengths.
type extentWriter struct {
	w       io.WriterAt
	extents []Extent
	idx     int
	pos     uint64
}

func newExtentWriter(w io.WriterAt, extents []Extent) *extentWriter {
	return &extentWriter{w: w, extents: extents}
}

func (e *extentWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if e.idx >= len(e.extents) {
			return total, io.ErrShortWrite
		}
		ext := e.extents[e.idx]
		remaining := ext.Length - e.pos
		if remaining == 0 {
			e.idx++
			e.pos = 0
			continue
		}
		n := uint64(len(p))
		if n > remaining {
			n = remaining
		}
		written, err := e.w.WriteAt(p[:n], int64(ext.Offset+e.pos))
		total += written
		e.pos += uint64(written)
		p = p[written:]
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// extentsLen sums the total byte length described by extents.
func extentsLen(extents []Extent) uint64 {
	var total uint64
	for _, e := range extents {
		total += e.Length
	}
	return total
}
