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

import "context"

// Action is the type-erased interface the Processor drives. Concrete
// steps are written against Step[In, Out] and adapted with New; Action
// itself only needs to be started, observed for completion, and
// cancelled.
type Action interface {
	// Name identifies the action for logging.
	Name() string

	// Perform begins the action's work. complete must be called exactly
	// once, from any goroutine, when the action reaches a terminal state.
	Perform(ctx context.Context, complete func(Code))

	// Terminate requests early cancellation of a running action, or is a
	// no-op if the action never started. It does not itself call
	// complete; the in-flight Perform (if any) is responsible for that.
	Terminate()
}

// Step is the typed contract an individual pipeline stage implements:
// one input value in, one output value out, one result code. Step
// authors never see pipes or the processor.
type Step[In, Out any] interface {
	Perform(ctx context.Context, in In) (Out, Code, error)
}

// typedAction adapts a Step[In, Out] into an Action, wiring its input and
// output through Pipes. in may be nil for a head action (no predecessor);
// out may be nil for a terminal action (no successor).
type typedAction[In, Out any] struct {
	name string
	step Step[In, Out]
	in   *Pipe[In]
	out  *Pipe[Out]

	cancel context.CancelFunc
}

// New adapts step into an Action named name, reading from in (if non-nil)
// and writing to out (if non-nil).
func New[In, Out any](name string, step Step[In, Out], in *Pipe[In], out *Pipe[Out]) Action {
	return &typedAction[In, Out]{name: name, step: step, in: in, out: out}
}

func (t *typedAction[In, Out]) Name() string { return t.name }

func (t *typedAction[In, Out]) Perform(ctx context.Context, complete func(Code)) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	var in In
	if t.in != nil {
		v, ok := t.in.Take()
		if !ok {
			// Internal invariant: an action that declares an input pipe
			// must not be started before its predecessor produced one.
			complete(CodeErrorInternal)
			return
		}
		in = v
	}

	out, code, err := t.step.Perform(ctx, in)
	if err != nil && code == CodeSuccess {
		code = CodeErrorInternal
	}
	if code == CodeSuccess && t.out != nil {
		t.out.Set(out)
	}
	complete(code)
}

func (t *typedAction[In, Out]) Terminate() {
	if t.cancel != nil {
		t.cancel()
	}
}

// None is the sentinel type used for pipes carrying no meaningful value:
// the head of a graph that takes no input, or the tail that produces no
// output.
type None struct{}
