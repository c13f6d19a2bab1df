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

package terminator

import (
	"context"
	"testing"
)

type recordingKillable struct {
	killed bool
}

func (k *recordingKillable) Kill() error {
	k.killed = true
	return nil
}

func TestShutdownCancelsContextAndKillsChildren(t *testing.T) {
	ctx, term := New(context.Background())
	child := &recordingKillable{}
	term.Register(child)

	term.Shutdown()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be canceled after Shutdown")
	}
	if !child.killed {
		t.Fatal("expected registered child to be killed")
	}
}

func TestUnregisterSkipsKillOnShutdown(t *testing.T) {
	_, term := New(context.Background())
	child := &recordingKillable{}
	id := term.Register(child)
	term.Unregister(id)

	term.Shutdown()

	if child.killed {
		t.Fatal("expected unregistered child to not be killed")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	_, term := New(context.Background())
	term.Shutdown()
	term.Shutdown()
}
