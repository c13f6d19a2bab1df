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

// Package postinstall runs the postinstall tool staged on the
// newly-written partition, under subprocess supervision with a hard
// timeout (spec.md §4.5).
package postinstall

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/coreos/pkg/capnslog"

	"github.com/flatcar/update-engine/action"
	"github.com/flatcar/update-engine/installplan"
	"github.com/flatcar/update-engine/internal/procexec"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "postinstall")

// DefaultTimeout bounds how long the postinstall tool may run before
// it is killed and treated as a failure.
const DefaultTimeout = 4 * time.Minute

// DefaultToolPath is where the postinstall tool is staged relative to
// the new partition's mount point, following this processor's naming
// convention for the root-fs postinstall entry point.
const DefaultToolPath = "/usr/share/update_engine/postinst"

// Runner executes the postinstall tool and reports success/failure.
type Runner struct {
	// Timeout bounds the subprocess; DefaultTimeout is used if zero.
	Timeout time.Duration
	// ToolPath overrides DefaultToolPath, mainly for tests.
	ToolPath string
}

// Perform implements action.Step[installplan.Plan, installplan.Plan]:
// it runs ToolPath with the new partition device as its sole argument
// and passes the plan through unchanged on success.
func (r *Runner) Perform(ctx context.Context, plan installplan.Plan) (installplan.Plan, action.Code, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tool := r.ToolPath
	if tool == "" {
		tool = DefaultToolPath
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := procexec.CommandContext(runCtx, 0, tool, plan.NewPartitionPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return plan, action.CodeErrorIO, fmt.Errorf("postinstall: starting %s: %w", tool, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		if err != nil {
			plog.Errorf("postinstall tool failed: %v\n%s", err, out.String())
			return plan, action.CodeErrorIO, fmt.Errorf("postinstall: %s: %w", tool, err)
		}
		return plan, action.CodeSuccess, nil
	case <-runCtx.Done():
		_ = cmd.Kill()
		<-waitErr
		plog.Errorf("postinstall tool timed out after %s:\n%s", timeout, out.String())
		return plan, action.CodeErrorIO, fmt.Errorf("postinstall: %s: timed out after %s", tool, timeout)
	}
}

func (r *Runner) Terminate() {}
