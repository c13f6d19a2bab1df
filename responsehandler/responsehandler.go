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

// Package responsehandler implements the pure transformation from an
// omaha.UpdateResponse to an installplan.Plan (spec.md §4.2).
package responsehandler

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/coreos/pkg/capnslog"

	"github.com/flatcar/update-engine/action"
	"github.com/flatcar/update-engine/bootslot"
	"github.com/flatcar/update-engine/installplan"
	"github.com/flatcar/update-engine/omaha"
	"github.com/flatcar/update-engine/payloadstate"
	"github.com/flatcar/update-engine/prefs"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "responsehandler")

// BootDeviceReader reports the device path the system is currently
// booted from, e.g. by resolving the symlink backing "/" to its root
// partition block device.
type BootDeviceReader func() (string, error)

// Handler adapts UpdateResponse -> InstallPlan. It implements
// action.Step[omaha.UpdateResponse, installplan.Plan].
type Handler struct {
	Prefs        prefs.Store
	PayloadState *payloadstate.State
	BootDevice   BootDeviceReader

	// CurrentVersion, if non-empty, is compared against the response's
	// DisplayVersion with semver; an offered version that is not
	// strictly newer is rejected (anti-downgrade, see SPEC_FULL.md §6).
	CurrentVersion string
}

// Perform implements action.Step.
func (h *Handler) Perform(_ context.Context, resp omaha.UpdateResponse) (installplan.Plan, action.Code, error) {
	if err := resp.Validate(); err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, err
	}

	if !resp.UpdateExists {
		plog.Info("no update available; aborting")
		return installplan.Plan{}, action.CodeErrorNoUpdate, nil
	}

	if err := h.checkNotDowngrade(resp.DisplayVersion); err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, err
	}

	urlIndex := h.PayloadState.URLIndex()
	if urlIndex < 0 || urlIndex >= len(resp.PayloadURLs) {
		// An index already advanced past the end of the response's URL
		// list is treated as the URL list being exhausted, not an
		// internal error: it must back off like any other network
		// failure, not halt the process (spec.md §9).
		return installplan.Plan{}, action.CodeErrorNetwork,
			fmt.Errorf("responsehandler: url index %d out of range for %d urls", urlIndex, len(resp.PayloadURLs))
	}
	plog.Infof("using url%d as the download url this time", urlIndex)

	plan := installplan.Plan{
		DownloadURL:    resp.PayloadURLs[urlIndex],
		PayloadSize:    resp.Size,
		PayloadHash:    resp.Hash,
		DisplayVersion: resp.DisplayVersion,
	}

	hashHex := hex.EncodeToString(resp.Hash)
	plan.IsResume = prefs.CanResumeUpdate(h.Prefs, hashHex)
	if !plan.IsResume {
		if err := prefs.ResetUpdateProgress(h.Prefs); err != nil {
			plog.Warningf("unable to reset update progress: %v", err)
		}
		if err := h.Prefs.SetString(prefs.UpdateCheckResponseHash, hashHex); err != nil {
			plog.Warningf("unable to save update check response hash: %v", err)
		}
	}

	oldPartition, err := h.BootDevice()
	if err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, fmt.Errorf("responsehandler: reading boot device: %w", err)
	}
	plan.OldPartitionPath = oldPartition

	plan.NewPartitionPath, err = bootslot.InstallDevice(oldPartition)
	if err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, err
	}

	plan.OldKernelPath, err = bootslot.KernelPath(oldPartition)
	if err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, err
	}
	plan.NewKernelPath, err = bootslot.KernelPath(plan.NewPartitionPath)
	if err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, err
	}
	plan.PCRPolicyPath, err = bootslot.PCRPolicyPath(plan.NewPartitionPath)
	if err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, err
	}

	if err := plan.Validate(); err != nil {
		return installplan.Plan{}, action.CodeErrorInternal, err
	}

	plog.Infof("install plan: %+v", plan)
	return plan, action.CodeSuccess, nil
}

func (h *Handler) checkNotDowngrade(offeredVersion string) error {
	if h.CurrentVersion == "" || offeredVersion == "" {
		return nil
	}
	cur, err := semver.NewVersion(h.CurrentVersion)
	if err != nil {
		plog.Warningf("current version %q is not valid semver, skipping downgrade check", h.CurrentVersion)
		return nil
	}
	offered, err := semver.NewVersion(offeredVersion)
	if err != nil {
		plog.Warningf("offered version %q is not valid semver, skipping downgrade check", offeredVersion)
		return nil
	}
	if !cur.LessThan(*offered) {
		return fmt.Errorf("responsehandler: offered version %s is not newer than current %s", offered, cur)
	}
	return nil
}
