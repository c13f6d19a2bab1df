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

import (
	"context"
	"sync"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "action")

// Delegate observes a Processor's progress. Implementations must not
// block for long: ActionCompleted and ProcessingDone run on whatever
// goroutine completed the action.
type Delegate interface {
	// ActionCompleted is called after every action, success or failure.
	ActionCompleted(p *Processor, a Action, code Code)
	// ProcessingDone is called once, when the graph finishes (all
	// actions succeeded) or aborts (one action reported a non-success
	// code).
	ProcessingDone(p *Processor, code Code)
}

// Processor runs a fixed sequence of actions to completion, one at a
// time, advancing on success and flushing the rest with Terminate on
// the first failure.
type Processor struct {
	mu      sync.Mutex
	actions []Action
	idx     int
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	delegate Delegate
}

// NewProcessor creates an empty Processor reporting to delegate, which
// may be nil.
func NewProcessor(delegate Delegate) *Processor {
	return &Processor{delegate: delegate}
}

// Enqueue appends action to the run sequence. Must be called before
// Start; the processor does not support adding actions to a running
// graph.
func (p *Processor) Enqueue(a Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
}

// Len reports the number of enqueued actions.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions)
}

// IsRunning reports whether the processor has an in-flight action.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins running the graph from its first action. It is a no-op if
// already running.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.idx = 0
	p.ctx, p.cancel = context.WithCancel(ctx)
	runCtx := p.ctx
	p.mu.Unlock()

	p.runCurrent(runCtx)
}

// Stop cancels the currently running action (if any) and prevents
// further actions from starting. The in-flight action still reports its
// own completion code (typically CodeErrorAborted) through the normal
// path; Stop does not synthesize one.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	idx := p.idx
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if idx < len(p.actions) {
		p.actions[idx].Terminate()
	}
}

func (p *Processor) runCurrent(ctx context.Context) {
	p.mu.Lock()
	if p.idx >= len(p.actions) {
		p.running = false
		p.mu.Unlock()
		if p.delegate != nil {
			p.delegate.ProcessingDone(p, CodeSuccess)
		}
		return
	}
	a := p.actions[p.idx]
	p.mu.Unlock()

	plog.Infof("starting action %q", a.Name())
	a.Perform(ctx, func(code Code) { p.onActionComplete(a, code) })
}

func (p *Processor) onActionComplete(a Action, code Code) {
	p.mu.Lock()
	if !p.running {
		// Terminal transitions are one-shot; ignore a completion that
		// arrives after Stop already tore the run down.
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	plog.Infof("action %q completed with code %s", a.Name(), code)
	if p.delegate != nil {
		p.delegate.ActionCompleted(p, a, code)
	}

	if code != CodeSuccess {
		p.abort(code)
		return
	}

	p.mu.Lock()
	p.idx++
	ctx := p.ctx
	p.mu.Unlock()
	p.runCurrent(ctx)
}

// abort flushes every not-yet-run action with Terminate and reports
// ProcessingDone with code.
func (p *Processor) abort(code Code) {
	p.mu.Lock()
	p.running = false
	remaining := append([]Action(nil), p.actions[p.idx+1:]...)
	p.mu.Unlock()

	for _, a := range remaining {
		a.Terminate()
	}
	if p.delegate != nil {
		p.delegate.ProcessingDone(p, code)
	}
}
