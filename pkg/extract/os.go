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
	"net"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/provlab/provscan/pkg/models"
)

// OS collects hostname, FQDN, system name, release and architecture.
func OS(ctx context.Context) *models.OSInfo {
	info := &models.OSInfo{}

	hostname, err := os.Hostname()
	if err == nil {
		info.Hostname = hostname
		info.FQDN = lookupFQDN(hostname)
	}

	stat, err := host.InfoWithContext(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}

	info.System = stat.OS
	info.Release = stat.KernelVersion
	info.Version = stat.PlatformVersion
	info.Architecture = stat.KernelArch

	if goos == "linux" {
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			info.OSReleaseFile = string(data)
		}
	}

	if goos == "windows" {
		info.Edition = stat.Platform
	}

	return info
}

// lookupFQDN resolves the canonical name of the host, falling back to the
// bare hostname when reverse resolution fails.
func lookupFQDN(hostname string) string {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname
	}

	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return hostname
	}

	return strings.TrimSuffix(names[0], ".")
}
