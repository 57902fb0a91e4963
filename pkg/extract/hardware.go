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

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/provlab/provscan/pkg/models"
)

// Hardware collects CPU topology, memory, per-mount disk usage and boot time.
func Hardware(ctx context.Context) *models.HardwareInfo {
	hw := &models.HardwareInfo{}

	physical, err := cpu.CountsWithContext(ctx, false)
	if err == nil {
		hw.CPU.PhysicalCores = physical
	}

	logical, err := cpu.CountsWithContext(ctx, true)
	if err == nil {
		hw.CPU.LogicalCores = logical
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		hw.CPU.Model = infos[0].ModelName
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		hw.Error = err.Error()
	} else {
		hw.Memory = models.MemoryInfo{
			Total:     vm.Total,
			Available: vm.Available,
			Used:      vm.Used,
			Percent:   vm.UsedPercent,
		}
	}

	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
		for _, p := range parts {
			if p.Mountpoint == "" {
				continue
			}

			usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
			if err != nil {
				continue
			}

			hw.Disks = append(hw.Disks, models.DiskInfo{
				Device:     p.Device,
				Mountpoint: p.Mountpoint,
				Fstype:     p.Fstype,
				Total:      usage.Total,
				Used:       usage.Used,
				Percent:    usage.UsedPercent,
			})
		}
	}

	if stat, err := host.InfoWithContext(ctx); err == nil {
		hw.BootTime = int64(stat.BootTime)
		hw.CPU.Architecture = stat.KernelArch
		hw.Virtualized = stat.VirtualizationRole == "guest" && stat.VirtualizationSystem != ""
	}

	return hw
}
