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

package responsehandler

import (
	"context"
	"testing"

	"github.com/flatcar/update-engine/action"
	"github.com/flatcar/update-engine/bootslot"
	"github.com/flatcar/update-engine/omaha"
	"github.com/flatcar/update-engine/payloadstate"
	"github.com/flatcar/update-engine/prefs"
)

func newHandler(t *testing.T, bootDev string) *Handler {
	t.Helper()
	store, err := prefs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &Handler{
		Prefs:        store,
		PayloadState: payloadstate.New("", 1),
		BootDevice:   func() (string, error) { return bootDev, nil },
	}
}

func TestScenario1StandardApply(t *testing.T) {
	orig := bootslot.PathExists
	bootslot.PathExists = func(string) bool { return false }
	defer func() { bootslot.PathExists = orig }()

	h := newHandler(t, "/dev/sda3")
	resp := omaha.UpdateResponse{
		UpdateExists: true,
		PayloadURLs:  []string{"http://foo/u.tgz"},
		Hash:         []byte("H"),
		Size:         12,
	}
	plan, code, err := h.Perform(context.Background(), resp)
	if err != nil || code != action.CodeSuccess {
		t.Fatalf("expected success, got code=%s err=%v", code, err)
	}
	if plan.DownloadURL != "http://foo/u.tgz" {
		t.Errorf("download url = %q", plan.DownloadURL)
	}
	if plan.NewPartitionPath != "/dev/sda4" {
		t.Errorf("new partition path = %q", plan.NewPartitionPath)
	}
	if plan.NewKernelPath != "/boot/flatcar/vmlinuz-b" {
		t.Errorf("new kernel path = %q", plan.NewKernelPath)
	}
	if plan.PCRPolicyPath != "/var/lib/update_engine/pcrs-b.zip" {
		t.Errorf("pcr policy path = %q", plan.PCRPolicyPath)
	}
}

func TestScenario2Mirror(t *testing.T) {
	orig := bootslot.PathExists
	bootslot.PathExists = func(string) bool { return false }
	defer func() { bootslot.PathExists = orig }()

	h := newHandler(t, "/dev/sda4")
	resp := omaha.UpdateResponse{
		UpdateExists: true,
		PayloadURLs:  []string{"http://foo/u.tgz"},
		Hash:         []byte("H"),
		Size:         12,
	}
	plan, code, _ := h.Perform(context.Background(), resp)
	if code != action.CodeSuccess {
		t.Fatalf("expected success, got %s", code)
	}
	if plan.NewPartitionPath != "/dev/sda3" {
		t.Errorf("new partition path = %q", plan.NewPartitionPath)
	}
	if plan.NewKernelPath != "/boot/flatcar/vmlinuz-a" {
		t.Errorf("new kernel path = %q", plan.NewKernelPath)
	}
	if plan.PCRPolicyPath != "/var/lib/update_engine/pcrs-a.zip" {
		t.Errorf("pcr policy path = %q", plan.PCRPolicyPath)
	}
}

func TestScenario3CoreOSKernelPath(t *testing.T) {
	orig := bootslot.PathExists
	bootslot.PathExists = func(p string) bool { return p == "/boot/coreos/vmlinuz-a" }
	defer func() { bootslot.PathExists = orig }()

	h := newHandler(t, "/dev/sda3")
	resp := omaha.UpdateResponse{
		UpdateExists: true,
		PayloadURLs:  []string{"http://foo/u.tgz"},
		Hash:         []byte("H"),
		Size:         12,
	}
	plan, code, _ := h.Perform(context.Background(), resp)
	if code != action.CodeSuccess {
		t.Fatalf("expected success, got %s", code)
	}
	if plan.NewKernelPath != "/boot/coreos/vmlinuz-b" {
		t.Errorf("new kernel path = %q", plan.NewKernelPath)
	}
}

func TestScenario4NoUpdate(t *testing.T) {
	h := newHandler(t, "/dev/sda3")
	plan, code, err := h.Perform(context.Background(), omaha.UpdateResponse{UpdateExists: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != action.CodeErrorNoUpdate {
		t.Fatalf("expected no-update code, got %s", code)
	}
	if plan.DownloadURL != "" || plan.NewPartitionPath != "" {
		t.Fatalf("expected empty install plan fields, got %+v", plan)
	}
}

func TestScenario5Resume(t *testing.T) {
	orig := bootslot.PathExists
	bootslot.PathExists = func(string) bool { return false }
	defer func() { bootslot.PathExists = orig }()

	h := newHandler(t, "/dev/sda3")
	hashHex := "48" // hex("H"[0]) placeholder; real value set below via responseHash helper
	_ = hashHex

	resp := omaha.UpdateResponse{
		UpdateExists: true,
		PayloadURLs:  []string{"http://foo/u.tgz"},
		Hash:         []byte("H"),
		Size:         12,
	}

	// First pass establishes the response hash and a full (non-resume) set
	// of progress keys, simulating a prior partial apply.
	if err := h.Prefs.SetString(prefs.UpdateCheckResponseHash, "4a8"); err != nil {
		t.Fatal(err)
	}
	plan, _, _ := h.Perform(context.Background(), resp)
	if plan.IsResume {
		t.Fatal("expected no resume before progress keys exist")
	}

	for _, k := range []string{
		prefs.UpdateStateNextDataOffset,
		prefs.UpdateStateNextOperation,
		prefs.UpdateStateSha256Context,
		prefs.UpdateStateSignedSha256Context,
	} {
		if err := h.Prefs.SetString(k, "7"); err != nil {
			t.Fatal(err)
		}
	}
	// The response hash as persisted by the first Perform call above must
	// now be the hex encoding of resp.Hash for resume to trigger.
	savedHash, err := h.Prefs.GetString(prefs.UpdateCheckResponseHash)
	if err != nil {
		t.Fatal(err)
	}
	plan2, code, err := h.Perform(context.Background(), resp)
	if err != nil {
		t.Fatal(err)
	}
	if code != action.CodeSuccess {
		t.Fatalf("expected success, got %s", code)
	}
	if !plan2.IsResume {
		t.Fatalf("expected resume once response hash %q matches and all progress keys exist", savedHash)
	}
}

func TestURLIndexOutOfRangeIsSoftNetworkError(t *testing.T) {
	orig := bootslot.PathExists
	bootslot.PathExists = func(string) bool { return false }
	defer func() { bootslot.PathExists = orig }()

	h := newHandler(t, "/dev/sda3")
	// Advance the shared payload-state's URL index past the length of
	// the URL list this particular response carries, as happens when a
	// server shrinks its rotation between checks.
	h.PayloadState = payloadstate.New("", 5)
	if err := h.PayloadState.AdvanceURL(); err != nil {
		t.Fatal(err)
	}
	if err := h.PayloadState.AdvanceURL(); err != nil {
		t.Fatal(err)
	}

	resp := omaha.UpdateResponse{
		UpdateExists: true,
		PayloadURLs:  []string{"http://foo/u.tgz"},
		Hash:         []byte("H"),
		Size:         12,
	}
	_, code, err := h.Perform(context.Background(), resp)
	if err == nil {
		t.Fatal("expected an error for an out-of-range url index")
	}
	if code != action.CodeErrorNetwork {
		t.Fatalf("expected CodeErrorNetwork (soft, backs off), got %s", code)
	}
}

func TestAntiDowngradeRejectsOlderVersion(t *testing.T) {
	h := newHandler(t, "/dev/sda3")
	h.CurrentVersion = "2.0.0"
	resp := omaha.UpdateResponse{
		UpdateExists: true,
		PayloadURLs:  []string{"http://foo/u.tgz"},
		Hash:         []byte("H"),
		Size:         12,
		DisplayVersion: "1.0.0",
	}
	_, code, err := h.Perform(context.Background(), resp)
	if code != action.CodeErrorInternal || err == nil {
		t.Fatalf("expected internal error rejecting a downgrade, got code=%s err=%v", code, err)
	}
}
