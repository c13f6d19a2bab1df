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

package postinstall

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flatcar/update-engine/action"
	"github.com/flatcar/update-engine/installplan"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postinst.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0700); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPerformReturnsPlanOnSuccess(t *testing.T) {
	r := &Runner{ToolPath: writeScript(t, "exit 0\n")}
	plan := installplan.Plan{NewPartitionPath: "/dev/sda4"}
	out, code, err := r.Perform(context.Background(), plan)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if code != action.CodeSuccess {
		t.Fatalf("expected success, got %s", code)
	}
	if out != plan {
		t.Errorf("plan not passed through unchanged: got %+v", out)
	}
}

func TestPerformFailsOnNonZeroExit(t *testing.T) {
	r := &Runner{ToolPath: writeScript(t, "exit 1\n")}
	_, code, err := r.Perform(context.Background(), installplan.Plan{NewPartitionPath: "/dev/sda4"})
	if err == nil {
		t.Fatal("expected error on non-zero exit")
	}
	if code != action.CodeErrorIO {
		t.Fatalf("expected CodeErrorIO, got %s", code)
	}
}

func TestPerformKillsOnTimeout(t *testing.T) {
	r := &Runner{ToolPath: writeScript(t, "sleep 30\n"), Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, code, err := r.Perform(context.Background(), installplan.Plan{NewPartitionPath: "/dev/sda4"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if code != action.CodeErrorIO {
		t.Fatalf("expected CodeErrorIO, got %s", code)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("Perform took too long to return after timeout: %s", time.Since(start))
	}
}
