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

// Package terminator coordinates signal-safe process shutdown: it
// cancels the root context on SIGTERM/SIGINT, gives every registered
// child process a chance to exit gracefully, and notifies systemd of
// readiness and stop transitions (spec.md §5, §9).
package terminator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "terminator")

// Killable is anything the terminator can ask to shut down: every
// procexec.Cmd in flight implements this.
type Killable interface {
	Kill() error
}

// Terminator owns the process's root cancellation and a registry of
// in-flight child processes that must be signaled before exit.
type Terminator struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	children map[int]Killable
	nextID   int
}

// New derives a cancellable context from parent and returns it along
// with the Terminator that cancels it.
func New(parent context.Context) (context.Context, *Terminator) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &Terminator{cancel: cancel, children: make(map[int]Killable)}
}

// Watch installs signal handlers for SIGTERM and SIGINT that cancel
// the terminator's context and kill every registered child. It returns
// immediately; call Wait or select on ctx.Done to block for shutdown.
func (t *Terminator) Watch() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigs
		plog.Infof("received %s, shutting down", sig)
		t.Shutdown()
	}()
}

// Shutdown cancels the root context and kills every registered child,
// in registration order. Safe to call more than once.
func (t *Terminator) Shutdown() {
	if err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		plog.Debugf("systemd notify (stopping) failed: %v", err)
	}
	t.cancel()

	t.mu.Lock()
	children := make([]Killable, 0, len(t.children))
	for _, c := range t.children {
		children = append(children, c)
	}
	t.mu.Unlock()

	for _, c := range children {
		if err := c.Kill(); err != nil {
			plog.Warningf("killing child process during shutdown: %v", err)
		}
	}
}

// Register adds k to the set of children Shutdown will kill, returning
// a token to pass to Unregister once k has exited on its own.
func (t *Terminator) Register(k Killable) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.children[id] = k
	return id
}

// Unregister removes a child that exited without being killed.
func (t *Terminator) Unregister(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.children, id)
}

// Ready tells systemd the core has finished initializing (boot-flag
// state restored, action graph primed) and is ready to serve.
func Ready() error {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return err
	}
	if !sent {
		plog.Debug("systemd notification socket not present; not running under systemd")
	}
	return nil
}
