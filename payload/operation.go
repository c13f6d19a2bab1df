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

import (
	"compress/bzip2"
	"fmt"
	"io"
)

// Apply performs op against dst, using src to resolve SrcExtents and
// data to supply the operation's own bytes (REPLACE, REPLACE_BZ,
// BSDIFF, SOURCE_BSDIFF). MOVE and SOURCE_COPY carry no data of their
// own and read only from src.
//
// Callers choose what src means per spec.md §4.4's "legacy vs. source"
// distinction: MOVE and BSDIFF read from the partition already being
// written (bytes an earlier operation placed there), so src should be
// the destination file itself; SOURCE_COPY and SOURCE_BSDIFF always
// read from the old partition or kernel image, so src should be that
// file.
func Apply(op Operation, dst io.WriterAt, src io.ReaderAt, data io.Reader) error {
	switch op.Type {
	case OpReplace:
		return applyReplace(dst, op.DstExtents, io.LimitReader(data, int64(op.DataLength)))
	case OpReplaceBZ:
		return applyReplace(dst, op.DstExtents, bzip2.NewReader(io.LimitReader(data, int64(op.DataLength))))
	case OpMove, OpSourceCopy:
		return applyCopy(dst, op.DstExtents, src, op.SrcExtents)
	case OpBSDiff, OpSourceBSDiff:
		return applyBSDiff(dst, op.DstExtents, src, op.SrcExtents, io.LimitReader(data, int64(op.DataLength)))
	default:
		return fmt.Errorf("payload: unknown operation type %s", op.Type)
	}
}

func applyReplace(dst io.WriterAt, dstExtents []Extent, r io.Reader) error {
	w := newExtentWriter(dst, dstExtents)
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("payload: replace: %w", err)
	}
	return nil
}

func applyCopy(dst io.WriterAt, dstExtents []Extent, src io.ReaderAt, srcExtents []Extent) error {
	w := newExtentWriter(dst, dstExtents)
	r := newExtentReader(src, srcExtents)
	if _, err := io.CopyN(w, r, int64(extentsLen(dstExtents))); err != nil {
		return fmt.Errorf("payload: copy: %w", err)
	}
	return nil
}

func applyBSDiff(dst io.WriterAt, dstExtents []Extent, src io.ReaderAt, srcExtents []Extent, patch io.Reader) error {
	oldData := make([]byte, extentsLen(srcExtents))
	if _, err := io.ReadFull(newExtentReader(src, srcExtents), oldData); err != nil && err != io.EOF {
		return fmt.Errorf("payload: bsdiff: reading source extents: %w", err)
	}
	newData, err := applyDiff(oldData, patch, extentsLen(dstExtents))
	if err != nil {
		return fmt.Errorf("payload: bsdiff: %w", err)
	}
	w := newExtentWriter(dst, dstExtents)
	if _, err := w.Write(newData); err != nil {
		return fmt.Errorf("payload: bsdiff: writing result: %w", err)
	}
	return nil
}
