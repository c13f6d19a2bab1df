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

// Package bootslot implements the pure mapping from "current boot
// device" to "install device + new kernel path + PCR policy path"
// (spec.md §4.6). Every function here is deterministic and
// side-effect-free except for the two filesystem existence checks the
// kernel-path rule requires.
package bootslot

import (
	"fmt"
	"os"
	"strings"
)

// PathExists is overridable in tests; it defaults to os.Stat.
var PathExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

const (
	coreosKernelA = "/boot/coreos/vmlinuz-a"
	coreosKernelB = "/boot/coreos/vmlinuz-b"

	flatcarKernelA = "/boot/flatcar/vmlinuz-a"
	flatcarKernelB = "/boot/flatcar/vmlinuz-b"

	pcrPolicyA = "/var/lib/update_engine/pcrs-a.zip"
	pcrPolicyB = "/var/lib/update_engine/pcrs-b.zip"
)

// InstallDevice returns the inactive slot's device path for the running
// boot device bootDev, swapping a trailing '3' for '4' or vice versa.
// Any other trailing character is a fatal configuration error.
func InstallDevice(bootDev string) (string, error) {
	if !strings.HasPrefix(bootDev, "/dev/") {
		return "", fmt.Errorf("bootslot: %q does not start with /dev/", bootDev)
	}
	last := bootDev[len(bootDev)-1]
	switch last {
	case '3':
		return bootDev[:len(bootDev)-1] + "4", nil
	case '4':
		return bootDev[:len(bootDev)-1] + "3", nil
	default:
		return "", fmt.Errorf("bootslot: %q does not end in 3 or 4", bootDev)
	}
}

// KernelPath returns the kernel image path for the root partition at
// partPath. CoreOS-named kernels take precedence over Flatcar-named ones
// if either vmlinuz-a or vmlinuz-b already exists on the (running)
// filesystem, matching the original implementation's existence probe.
func KernelPath(partPath string) (string, error) {
	slot, err := slotLetter(partPath)
	if err != nil {
		return "", err
	}
	coreos := PathExists(coreosKernelA) || PathExists(coreosKernelB)
	if slot == 'a' {
		if coreos {
			return coreosKernelA, nil
		}
		return flatcarKernelA, nil
	}
	if coreos {
		return coreosKernelB, nil
	}
	return flatcarKernelB, nil
}

// PCRPolicyPath returns the measured-boot PCR policy file path for the
// root partition at partPath.
func PCRPolicyPath(partPath string) (string, error) {
	slot, err := slotLetter(partPath)
	if err != nil {
		return "", err
	}
	if slot == 'a' {
		return pcrPolicyA, nil
	}
	return pcrPolicyB, nil
}

// slotLetter maps a partition path's trailing '3'/'4' to the 'a'/'b'
// slot letter convention used by kernel and PCR policy paths.
func slotLetter(partPath string) (byte, error) {
	if partPath == "" {
		return 0, fmt.Errorf("bootslot: empty partition path")
	}
	switch partPath[len(partPath)-1] {
	case '3':
		return 'a', nil
	case '4':
		return 'b', nil
	default:
		return 0, fmt.Errorf("bootslot: %q does not end in 3 or 4", partPath)
	}
}
