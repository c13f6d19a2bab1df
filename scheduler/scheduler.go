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

// Package scheduler emits periodic "check for update" signals at a
// jittered interval, backing off exponentially (full jitter, capped)
// after consecutive attempt failures (spec.md §4.7).
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "scheduler")

// Result is what the owner of a scheduled attempt reports back so the
// scheduler knows whether to grow or reset its backoff.
type Result int

const (
	// ResultSuccess covers both "update applied" and "no update
	// available": either resets the failure counter.
	ResultSuccess Result = iota
	// ResultFailure covers network or server errors.
	ResultFailure
)

// Scheduler emits a tick on C whenever an attempt should be made. The
// caller is responsible for calling ReportResult once the attempt
// finishes, and must not call Tick's channel concurrently with an
// attempt in progress — the scheduler itself refuses to start a new
// timer while one attempt is outstanding.
type Scheduler struct {
	// BaseInterval is the nominal check interval; actual ticks are
	// BaseInterval plus up to Jitter.
	BaseInterval time.Duration
	// Jitter bounds the uniform random addition to BaseInterval.
	Jitter time.Duration
	// MaxBackoff caps the exponential backoff interval.
	MaxBackoff time.Duration

	rand *rand.Rand

	mu           sync.Mutex
	running      bool
	failureCount int
}

// New creates a Scheduler with the given parameters.
func New(baseInterval, jitter, maxBackoff time.Duration) *Scheduler {
	return &Scheduler{
		BaseInterval: baseInterval,
		Jitter:       jitter,
		MaxBackoff:   maxBackoff,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks, invoking attempt at each scheduled tick, until ctx is
// canceled. attempt's Result return drives the next interval. Run
// never invokes attempt concurrently with itself.
func (s *Scheduler) Run(ctx context.Context, attempt func(context.Context) Result) {
	for {
		wait := s.nextInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if !s.tryBeginAttempt() {
			// Another attempt is already running (should not happen
			// given Run's single-goroutine loop, but matches spec.md
			// §4.7's "ignores signals while an attempt is in
			// progress" for any externally-triggered manual check).
			continue
		}
		result := attempt(ctx)
		s.endAttempt(result)
	}
}

// TryAttempt reports whether a manually-triggered check (e.g. a D-Bus
// "check now" request) may proceed immediately. It returns false, and
// leaves the scheduler state untouched, if an attempt is already in
// flight.
func (s *Scheduler) TryAttempt() bool {
	return s.tryBeginAttempt()
}

// EndAttempt records the outcome of a manually-triggered attempt
// started via TryAttempt.
func (s *Scheduler) EndAttempt(result Result) {
	s.endAttempt(result)
}

func (s *Scheduler) tryBeginAttempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) endAttempt(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if result == ResultSuccess {
		s.failureCount = 0
	} else {
		s.failureCount++
	}
}

func (s *Scheduler) nextInterval() time.Duration {
	s.mu.Lock()
	failures := s.failureCount
	s.mu.Unlock()

	if failures == 0 {
		jitter := time.Duration(0)
		if s.Jitter > 0 {
			jitter = time.Duration(s.rand.Int63n(int64(s.Jitter)))
		}
		return s.BaseInterval + jitter
	}

	backoff := s.BaseInterval * time.Duration(1<<uint(minInt(failures, 32)))
	if s.MaxBackoff > 0 && backoff > s.MaxBackoff {
		backoff = s.MaxBackoff
	}
	// Full jitter: a uniform value in [0, backoff), not backoff plus a
	// little noise, so retries actually spread out under load.
	full := time.Duration(s.rand.Int63n(int64(backoff) + 1))
	plog.Infof("backing off %s after %d consecutive failures", full, failures)
	return full
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
