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

// Package bootctl delegates the two boot-flag operations spec.md §6
// names — "set next-boot slot = X" and "mark slot X as successful" —
// to the external GPT priority-flag tool. Both operations are
// idempotent: running either twice in a row leaves the partition table
// in the same state as running it once.
package bootctl

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/pkg/capnslog"

	"github.com/flatcar/update-engine/internal/procexec"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "bootctl")

// DefaultTool is the external binary that manipulates GPT priority,
// tries, and successful flags on this platform.
const DefaultTool = "cgpt"

// DefaultTimeout bounds each invocation of Tool.
const DefaultTimeout = 30 * time.Second

// Setter performs boot-flag operations against a single partition
// device (e.g. "/dev/sda4") via an external command-line tool.
type Setter struct {
	// Tool overrides DefaultTool, mainly for tests.
	Tool string
	// Timeout overrides DefaultTimeout.
	Timeout time.Duration
}

func (s *Setter) tool() string {
	if s.Tool != "" {
		return s.Tool
	}
	return DefaultTool
}

func (s *Setter) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func (s *Setter) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	cmd := procexec.CommandContext(ctx, 0, s.tool(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("bootctl: %s %v: %w: %s", s.tool(), args, err, out)
	}
	return nil
}

// SetNextBootSlot sets partition as the highest-priority, one-try boot
// target: "priority > current" per spec.md §4.5. It does not mark the
// slot permanently successful; that is SetSlotSuccessful's job after a
// verified boot.
func (s *Setter) SetNextBootSlot(ctx context.Context, partition string) error {
	if err := s.run(ctx, "add", "-i", partition, "-S", "0", "-T", "1", "-P", "2"); err != nil {
		return err
	}
	plog.Infof("set %s as next boot target", partition)
	return nil
}

// SetSlotSuccessful marks partition as permanently bootable, clearing
// its remaining try count. Called once per boot, after the attempter
// has observed the new slot actually came up (spec.md §4.5's deferred
// UpdateBootFlags).
func (s *Setter) SetSlotSuccessful(ctx context.Context, partition string) error {
	if err := s.run(ctx, "add", "-i", partition, "-S", "1", "-T", "0"); err != nil {
		return err
	}
	plog.Infof("marked %s successful", partition)
	return nil
}
