/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package extract

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/provlab/provscan/pkg/models"
)

// Providers recognized by the virtualization extractor.
const (
	ProviderVirtualBox = "virtualbox"
	ProviderVMware     = "vmware"
	ProviderKVM        = "kvm"
	ProviderHyperV     = "hyperv"
	ProviderUnknown    = "unknown"
)

// Virtualization detects hypervisor presence, provider and guest tooling.
func Virtualization(ctx context.Context) *models.VirtualizationRecord {
	record := &models.VirtualizationRecord{}

	switch goos {
	case "linux":
		linuxVirtualization(ctx, record)
	case "windows":
		windowsVirtualization(ctx, record)
	case "darwin":
		darwinVirtualization(ctx, record)
	}

	return record
}

// ProviderFromHypervisor maps a detected hypervisor name to a provider tag.
func ProviderFromHypervisor(hypervisor string) string {
	switch strings.ToLower(hypervisor) {
	case "oracle", "virtualbox", "vbox":
		return ProviderVirtualBox
	case "kvm", "qemu":
		return ProviderKVM
	case "vmware":
		return ProviderVMware
	case "microsoft", "hyperv", "hyper-v":
		return ProviderHyperV
	default:
		return ProviderUnknown
	}
}

func linuxVirtualization(ctx context.Context, record *models.VirtualizationRecord) {
	virt := runCommand(ctx, "systemd-detect-virt")
	if virt != "" && virt != "none" {
		record.Virtualized = true
		record.Hypervisor = virt
		record.Provider = ProviderFromHypervisor(virt)
	}

	if uuid, err := os.ReadFile("/sys/class/dmi/id/product_uuid"); err == nil {
		record.VMUUID = strings.TrimSpace(string(uuid))
	}

	if _, err := exec.LookPath("VBoxControl"); err == nil {
		record.GuestTools.Installed = true
		record.GuestTools.Details = "virtualbox-guest-utils"
	} else if _, err := exec.LookPath("vmware-toolbox-cmd"); err == nil {
		record.GuestTools.Installed = true
		record.GuestTools.Details = "open-vm-tools"
	}
}

func windowsVirtualization(ctx context.Context, record *models.VirtualizationRecord) {
	model := runCommand(ctx, "powershell", "-Command", "(Get-CimInstance Win32_ComputerSystem).Model")

	lower := strings.ToLower(model)

	switch {
	case strings.Contains(lower, "virtualbox"):
		record.Virtualized = true
		record.Provider = ProviderVirtualBox
	case strings.Contains(lower, "vmware"):
		record.Virtualized = true
		record.Provider = ProviderVMware
	case strings.Contains(lower, "virtual"):
		record.Virtualized = true
		record.Provider = ProviderHyperV
	}

	if record.Virtualized {
		record.Hypervisor = model
	}

	if uuid := runCommand(ctx, "powershell", "-Command",
		"(Get-CimInstance Win32_ComputerSystemProduct).UUID"); uuid != "" {
		record.VMUUID = uuid
	}
}

func darwinVirtualization(ctx context.Context, record *models.VirtualizationRecord) {
	// hw.optional is unreliable; the VMM feature flag is authoritative.
	vmm := runCommand(ctx, "sysctl", "-n", "kern.hv_vmm_present")
	if vmm == "1" {
		record.Virtualized = true
		record.Hypervisor = ProviderUnknown
		record.Provider = ProviderUnknown
	}
}
