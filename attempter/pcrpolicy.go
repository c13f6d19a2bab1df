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

package attempter

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flatcar/update-engine/installplan"
)

// WritePCRPolicy is the default PCRPolicyWriter, installed into
// plan.PCRPolicyPath once postinstall succeeds (spec.md §4.5).
//
// Predicting the actual TPM PCR values a measured-boot verifier would
// extend for the new kernel is out of scope here (see DESIGN.md); this
// binds the installed policy file to the new kernel path and the
// payload's hash instead, so a policy file left over from the other
// slot can never be mistaken for the one that belongs with what was
// just installed.
func WritePCRPolicy(_ context.Context, plan installplan.Plan) error {
	if plan.PCRPolicyPath == "" {
		return fmt.Errorf("attempter: empty PCR policy path for %s", plan.NewPartitionPath)
	}

	h := sha256.New()
	h.Write([]byte(plan.NewKernelPath))
	h.Write(plan.PayloadHash)
	policy := h.Sum(nil)

	dir := filepath.Dir(plan.PCRPolicyPath)
	tmp, err := os.CreateTemp(dir, ".pcr-policy.tmp-*")
	if err != nil {
		return fmt.Errorf("attempter: creating temp PCR policy file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(policy); err != nil {
		tmp.Close()
		return fmt.Errorf("attempter: writing PCR policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("attempter: closing PCR policy temp file: %w", err)
	}
	if err := os.Rename(tmpName, plan.PCRPolicyPath); err != nil {
		return fmt.Errorf("attempter: installing PCR policy file: %w", err)
	}
	return nil
}
