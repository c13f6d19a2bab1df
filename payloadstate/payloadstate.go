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

// Package payloadstate tracks the current candidate payload across the
// lifetime of one response: which URL in the rotation is active, how
// many times that URL has failed, and which response the state belongs
// to (spec.md §3 PayloadState).
package payloadstate

import (
	"sync"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "payloadstate")

// State is the in-memory record of one candidate payload's download
// progress across retries. It is owned by the system-state aggregate and
// outlives a single action-graph run.
type State struct {
	mu sync.Mutex

	currentURLIndex int
	urlFailureCount int
	responseHash    string
	urlCount        int
}

// New creates a State for a response offering urlCount candidate URLs and
// identified by responseHash.
func New(responseHash string, urlCount int) *State {
	return &State{responseHash: responseHash, urlCount: urlCount}
}

// ResponseHash is the hash any persisted progress belongs to.
func (s *State) ResponseHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseHash
}

// URLIndex is the 0-based index into the response's url list to use for
// the next download attempt.
func (s *State) URLIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURLIndex
}

// URLFailureCount is the number of consecutive transport failures on the
// current URL.
func (s *State) URLFailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlFailureCount
}

// ErrURLsExhausted is returned by AdvanceURL once every URL in the
// rotation has been tried and failed. The open question in spec.md §9
// requires this be treated as a soft "network, exhausted" condition by
// the attempter, not an internal error.
var ErrURLsExhausted = errURLsExhausted{}

type errURLsExhausted struct{}

func (errURLsExhausted) Error() string { return "payloadstate: all URLs exhausted" }

// AdvanceURL is called by the downloader on transport failure: it moves
// to the next URL in the rotation and resets the per-URL failure count.
// If the rotation wraps past the end, it increments the failure count
// instead of resetting it and returns ErrURLsExhausted, so a caller that
// ignores the error still gets a (wrapped) valid index.
func (s *State) AdvanceURL() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentURLIndex++
	s.urlFailureCount = 0
	if s.currentURLIndex >= s.urlCount {
		s.currentURLIndex = 0
		s.urlFailureCount++
		plog.Warningf("url rotation exhausted, wrapping (failure count now %d)", s.urlFailureCount)
		return ErrURLsExhausted
	}
	return nil
}

// IncrementFailureCount records a transport failure on the current URL
// without advancing it (used for retryable failures the downloader
// itself already retried internally but ultimately gave up on).
func (s *State) IncrementFailureCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urlFailureCount++
}

// ResetProgress is called by the payload processor on verification
// failure: progress on the current URL is invalidated and the rotation
// advances, matching spec.md §4.4 "bad per-operation data-hash ... soft
// at the attempter level (advance URL)".
func (s *State) ResetProgress() error {
	return s.AdvanceURL()
}

// Clear is called once apply succeeds; the payload state no longer
// describes a pending attempt.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURLIndex = 0
	s.urlFailureCount = 0
	s.responseHash = ""
	s.urlCount = 0
}
