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

package scheduler

import (
	"testing"
	"time"
)

func TestNextIntervalResetsAfterSuccess(t *testing.T) {
	s := New(time.Second, 0, time.Minute)
	s.endAttempt(ResultFailure)
	s.endAttempt(ResultFailure)
	if s.failureCount != 2 {
		t.Fatalf("failureCount = %d, want 2", s.failureCount)
	}
	s.endAttempt(ResultSuccess)
	if s.failureCount != 0 {
		t.Fatalf("failureCount after success = %d, want 0", s.failureCount)
	}
	if got := s.nextInterval(); got != time.Second {
		t.Errorf("nextInterval after reset = %s, want BaseInterval exactly (no jitter configured)", got)
	}
}

func TestNextIntervalBacksOffAndCaps(t *testing.T) {
	s := New(time.Second, 0, 4*time.Second)
	for i := 0; i < 10; i++ {
		s.endAttempt(ResultFailure)
	}
	got := s.nextInterval()
	if got > 4*time.Second {
		t.Fatalf("nextInterval = %s, want capped at MaxBackoff (4s)", got)
	}
}

func TestTryBeginAttemptRefusesConcurrentRuns(t *testing.T) {
	s := New(time.Second, 0, time.Minute)
	if !s.TryAttempt() {
		t.Fatal("expected first TryAttempt to succeed")
	}
	if s.TryAttempt() {
		t.Fatal("expected second concurrent TryAttempt to be refused")
	}
	s.EndAttempt(ResultSuccess)
	if !s.TryAttempt() {
		t.Fatal("expected TryAttempt to succeed again after EndAttempt")
	}
}
