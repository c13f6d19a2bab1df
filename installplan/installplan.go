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

// Package installplan defines InstallPlan, the sole contract between
// "decide what to install" (the response handler) and "apply it" (the
// downloader and payload processor) — spec.md §3.
package installplan

import "fmt"

// Plan is the fully resolved description of one apply attempt.
type Plan struct {
	DownloadURL    string
	PayloadSize    uint64
	PayloadHash    []byte
	DisplayVersion string
	IsResume       bool

	OldPartitionPath string
	NewPartitionPath string
	OldKernelPath    string
	NewKernelPath    string
	PCRPolicyPath    string
}

// Validate checks the invariants spec.md §3 states for a non-empty plan:
// the two partition paths denote the two root slots and must differ, and
// (per spec.md §3) a resumed plan only makes sense once a prior run's
// progress has already been tied to PayloadHash by the caller.
func (p *Plan) Validate() error {
	if p.OldPartitionPath == "" || p.NewPartitionPath == "" {
		return nil // empty plan, e.g. the no-update case; nothing to check
	}
	if p.OldPartitionPath == p.NewPartitionPath {
		return fmt.Errorf("installplan: old and new partition paths are identical (%s)", p.OldPartitionPath)
	}
	return nil
}
