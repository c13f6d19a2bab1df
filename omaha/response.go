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

// Package omaha holds the parsed server-response shape the response
// handler consumes. The concrete wire format (an Omaha-protocol XML
// request/response, as served by e.g. github.com/coreos/mantle's
// network/omaha test server) is an external collaborator per spec.md §1;
// this package only names the fields the core pipeline reads.
package omaha

// UpdateResponse is the parsed server reply (spec.md §3). When
// UpdateExists is true, PayloadURLs, Size, and Hash are all required to
// be non-empty/non-zero.
type UpdateResponse struct {
	UpdateExists   bool
	PayloadURLs    []string
	Size           uint64
	Hash           []byte
	DisplayVersion string
}

// Validate reports the one invariant spec.md §3 states explicitly: when
// an update is offered, size/hash/urls must all be present.
func (r *UpdateResponse) Validate() error {
	if !r.UpdateExists {
		return nil
	}
	if len(r.PayloadURLs) == 0 {
		return errMissing{"payload_urls"}
	}
	if r.Size == 0 {
		return errMissing{"size"}
	}
	if len(r.Hash) == 0 {
		return errMissing{"hash"}
	}
	return nil
}

type errMissing struct{ field string }

func (e errMissing) Error() string {
	return "omaha: update_exists response missing required field " + e.field
}
