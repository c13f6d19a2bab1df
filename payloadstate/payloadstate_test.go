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

package payloadstate

import (
	"errors"
	"testing"
)

func TestAdvanceURLCyclesAndReportsExhaustion(t *testing.T) {
	s := New("H", 2)

	if err := s.AdvanceURL(); err != nil {
		t.Fatalf("first advance should succeed, got %v", err)
	}
	if s.URLIndex() != 1 {
		t.Fatalf("expected index 1, got %d", s.URLIndex())
	}

	err := s.AdvanceURL()
	if !errors.Is(err, ErrURLsExhausted) {
		t.Fatalf("expected ErrURLsExhausted wrapping past the end, got %v", err)
	}
	if s.URLIndex() != 0 {
		t.Fatalf("expected index to wrap to 0, got %d", s.URLIndex())
	}
	if s.URLFailureCount() != 1 {
		t.Fatalf("expected failure count 1 after wrap, got %d", s.URLFailureCount())
	}
}

func TestClearResetsState(t *testing.T) {
	s := New("H", 3)
	_ = s.AdvanceURL()
	s.Clear()
	if s.URLIndex() != 0 || s.URLFailureCount() != 0 || s.ResponseHash() != "" {
		t.Fatal("expected Clear to zero all fields")
	}
}
