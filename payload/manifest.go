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
	"encoding/gob"
	"fmt"
)

// OpType is the closed enumeration of operation kinds spec.md §4.4 names.
type OpType int32

const (
	OpReplace OpType = iota
	OpReplaceBZ
	OpMove
	OpBSDiff
	OpSourceCopy
	OpSourceBSDiff
)

func (t OpType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBZ:
		return "REPLACE_BZ"
	case OpMove:
		return "MOVE"
	case OpBSDiff:
		return "BSDIFF"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpSourceBSDiff:
		return "SOURCE_BSDIFF"
	default:
		return "UNKNOWN"
	}
}

// Extent is a byte range within a partition or kernel image.
type Extent struct {
	Offset uint64
	Length uint64
}

// Operation is one unit of apply work (spec.md §4.4).
type Operation struct {
	Type       OpType
	SrcExtents []Extent
	DstExtents []Extent

	// DataLength/DataOffset locate this operation's bytes within the
	// payload's data blob region (§4.4 point 5). Zero length means the
	// operation (MOVE, SOURCE_COPY) carries no data of its own.
	DataLength uint64
	DataOffset uint64

	// DataSHA256 is the optional per-operation data hash; when present,
	// a mismatch is fatal for this URL but soft at the attempter level
	// (spec.md §4.4 "Failure semantics").
	DataSHA256 []byte
}

// PartitionInfo carries the expected size and whole-image hash of a
// partition or kernel image before or after an apply.
type PartitionInfo struct {
	Size uint64
	Hash []byte
}

// Manifest is the structured metadata at the head of the payload,
// declaring the operation list, partition info, signature offset, and
// optional metadata signature (spec.md §4.4 point 4). It carries two
// parallel operation streams, one per spec.md §4.4 "Partition-kernel
// coordination": PartitionOperations target the root partition,
// KernelOperations target the kernel.
type Manifest struct {
	BlockSize uint32

	OldPartitionInfo PartitionInfo
	NewPartitionInfo PartitionInfo
	OldKernelInfo    PartitionInfo
	NewKernelInfo    PartitionInfo

	PartitionOperations []Operation
	KernelOperations    []Operation

	SignaturesOffset uint64
	SignaturesSize   uint64

	// MetadataSignature is optional and, per spec.md §4.4, is not
	// separately verified by this processor: only the final payload
	// signature gates trust.
	MetadataSignature []byte
}

// MarshalManifest encodes m. The wire encoding is a private detail of
// this processor (spec.md §6 only requires the outer framing to be
// bit-exact); it uses encoding/gob rather than a protobuf-generated
// format because no protoc invocation is available to this build (see
// DESIGN.md).
func MarshalManifest(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("payload: encoding manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalManifest decodes b into a Manifest.
func UnmarshalManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return nil, fmt.Errorf("payload: decoding manifest: %w", err)
	}
	if m.BlockSize != 0 && m.BlockSize != blockSize {
		return nil, fmt.Errorf("payload: unexpected block size %d", m.BlockSize)
	}
	return &m, nil
}

// blockSize is the block size this generator/processor pair always uses.
const blockSize = 4096
