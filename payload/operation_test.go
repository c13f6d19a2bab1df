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
	"bytes"
	"strings"
	"testing"
)

// memDevice is an in-memory io.ReaderAt/io.WriterAt standing in for a
// block device file during tests.
type memDevice struct {
	buf []byte
}

func newMemDevice(size int) *memDevice {
	return &memDevice{buf: make([]byte, size)}
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, d.buf[off:])
	if n < len(p) {
		return n, bytes.ErrTooLarge
	}
	return n, nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	n := copy(d.buf[off:], p)
	return n, nil
}

func TestApplyReplaceWritesLiteralBytes(t *testing.T) {
	dst := newMemDevice(16)
	op := Operation{
		Type:       OpReplace,
		DstExtents: []Extent{{Offset: 4, Length: 5}},
		DataLength: 5,
	}
	if err := Apply(op, dst, nil, strings.NewReader("hello")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := string(dst.buf[4:9]); got != "hello" {
		t.Errorf("dst[4:9] = %q, want %q", got, "hello")
	}
}

func TestApplyReplaceAcrossMultipleExtents(t *testing.T) {
	dst := newMemDevice(16)
	op := Operation{
		Type: OpReplace,
		DstExtents: []Extent{
			{Offset: 0, Length: 3},
			{Offset: 10, Length: 3},
		},
		DataLength: 6,
	}
	if err := Apply(op, dst, nil, strings.NewReader("abcdef")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := string(dst.buf[0:3]); got != "abc" {
		t.Errorf("dst[0:3] = %q", got)
	}
	if got := string(dst.buf[10:13]); got != "def" {
		t.Errorf("dst[10:13] = %q", got)
	}
}

func TestApplyMoveCopiesFromSource(t *testing.T) {
	src := newMemDevice(16)
	copy(src.buf[0:6], "source")
	dst := newMemDevice(16)

	op := Operation{
		Type:       OpMove,
		SrcExtents: []Extent{{Offset: 0, Length: 6}},
		DstExtents: []Extent{{Offset: 8, Length: 6}},
	}
	if err := Apply(op, dst, src, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := string(dst.buf[8:14]); got != "source" {
		t.Errorf("dst[8:14] = %q", got)
	}
}

func TestApplySourceCopySameAsMove(t *testing.T) {
	src := newMemDevice(8)
	copy(src.buf, "origdata")
	dst := newMemDevice(8)

	op := Operation{
		Type:       OpSourceCopy,
		SrcExtents: []Extent{{Offset: 0, Length: 8}},
		DstExtents: []Extent{{Offset: 0, Length: 8}},
	}
	if err := Apply(op, dst, src, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := string(dst.buf); got != "origdata" {
		t.Errorf("dst = %q", got)
	}
}

func TestApplyBSDiffReconstructsNewData(t *testing.T) {
	old := []byte("the quick brown fox")
	want := []byte("the slow brown ox!!")

	patch, err := encodeDiff(old, want)
	if err != nil {
		t.Fatalf("encodeDiff: %v", err)
	}

	src := newMemDevice(len(old))
	copy(src.buf, old)
	dst := newMemDevice(len(want))

	op := Operation{
		Type:       OpSourceBSDiff,
		SrcExtents: []Extent{{Offset: 0, Length: uint64(len(old))}},
		DstExtents: []Extent{{Offset: 0, Length: uint64(len(want))}},
		DataLength: uint64(len(patch)),
	}
	if err := Apply(op, dst, src, bytes.NewReader(patch)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := string(dst.buf); got != string(want) {
		t.Errorf("dst = %q, want %q", got, want)
	}
}

func TestApplyUnknownOperationTypeErrors(t *testing.T) {
	dst := newMemDevice(4)
	op := Operation{Type: OpType(99), DstExtents: []Extent{{Offset: 0, Length: 4}}}
	if err := Apply(op, dst, nil, bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for unknown operation type")
	}
}

func TestApplyReplaceBZRejectsNonBzip2Data(t *testing.T) {
	dst := newMemDevice(8)
	op := Operation{
		Type:       OpReplaceBZ,
		DstExtents: []Extent{{Offset: 0, Length: 8}},
		DataLength: 4,
	}
	if err := Apply(op, dst, nil, strings.NewReader("junk")); err == nil {
		t.Fatal("expected error decompressing non-bzip2 data")
	}
}
