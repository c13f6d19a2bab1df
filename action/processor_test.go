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
	"testing"
)

type addOne struct{}

func (addOne) Perform(ctx context.Context, in int) (int, Code, error) {
	return in + 1, CodeSuccess, nil
}

type alwaysFail struct{ code Code }

func (a alwaysFail) Perform(ctx context.Context, in int) (int, Code, error) {
	return 0, a.code, nil
}

type recordingDelegate struct {
	completed []Code
	done      Code
	doneCalls int
}

func (r *recordingDelegate) ActionCompleted(p *Processor, a Action, code Code) {
	r.completed = append(r.completed, code)
}

func (r *recordingDelegate) ProcessingDone(p *Processor, code Code) {
	r.done = code
	r.doneCalls++
}

func TestProcessorRunsChainInOrder(t *testing.T) {
	start := NewPipe[int]()
	mid := NewPipe[int]()
	end := NewPipe[int]()
	start.Set(1)

	delegate := &recordingDelegate{}
	p := NewProcessor(delegate)
	p.Enqueue(New("step1", addOne{}, start, mid))
	p.Enqueue(New("step2", addOne{}, mid, end))
	p.Start(context.Background())

	if delegate.doneCalls != 1 {
		t.Fatalf("expected ProcessingDone once, got %d", delegate.doneCalls)
	}
	if delegate.done != CodeSuccess {
		t.Fatalf("expected success, got %s", delegate.done)
	}
	v, ok := end.Take()
	if !ok || v != 3 {
		t.Fatalf("expected final value 3, got %d (ok=%v)", v, ok)
	}
}

func TestProcessorAbortsOnFailureAndTerminatesRest(t *testing.T) {
	start := NewPipe[int]()
	mid := NewPipe[int]()
	end := NewPipe[int]()
	start.Set(1)

	terminated := false
	terminal := New("step2", addOne{}, mid, end)
	wrapped := &terminateObserver{Action: terminal, onTerminate: func() { terminated = true }}

	delegate := &recordingDelegate{}
	p := NewProcessor(delegate)
	p.Enqueue(New("step1", alwaysFail{code: CodeErrorNetwork}, start, mid))
	p.Enqueue(wrapped)
	p.Start(context.Background())

	if delegate.done != CodeErrorNetwork {
		t.Fatalf("expected network error, got %s", delegate.done)
	}
	if !terminated {
		t.Fatal("expected unreached action to be Terminate()d")
	}
	if end.Peek() {
		t.Fatal("terminal pipe should never have been written")
	}
}

func TestProcessorRequiresInputPipeValue(t *testing.T) {
	in := NewPipe[int]() // never Set
	out := NewPipe[int]()

	delegate := &recordingDelegate{}
	p := NewProcessor(delegate)
	p.Enqueue(New("needs-input", addOne{}, in, out))
	p.Start(context.Background())

	if delegate.done != CodeErrorInternal {
		t.Fatalf("expected internal error for missing input, got %s", delegate.done)
	}
}

type terminateObserver struct {
	Action
	onTerminate func()
}

func (t *terminateObserver) Terminate() {
	t.onTerminate()
	t.Action.Terminate()
}
