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

package action

import "sync"

// Pipe is a single-use typed capability connecting one action's output to
// the next action's input. It is not a queue: a value set by the upstream
// action is read exactly once by the downstream action.
type Pipe[T any] struct {
	mu  sync.Mutex
	val T
	has bool
}

// NewPipe creates an empty pipe of type T.
func NewPipe[T any]() *Pipe[T] {
	return &Pipe[T]{}
}

// Set stores v for the next Take. Overwrites any value not yet taken.
func (p *Pipe[T]) Set(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.val = v
	p.has = true
}

// Take removes and returns the stored value, if any.
func (p *Pipe[T]) Take() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.val
	ok := p.has
	var zero T
	p.val = zero
	p.has = false
	return v, ok
}

// Peek reports whether a value is waiting, without consuming it.
func (p *Pipe[T]) Peek() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.has
}
