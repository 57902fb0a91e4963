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
	"strings"

	"github.com/provlab/provscan/pkg/models"
)

// Routing collects forwarding state, routes and NAT configuration.
func Routing(ctx context.Context) *models.RoutingRecord {
	record := &models.RoutingRecord{
		DefaultRoutes: []string{},
		RoutingTable:  []string{},
	}

	switch goos {
	case "linux":
		linuxRouting(ctx, record)
	case "windows":
		windowsRouting(ctx, record)
	}

	return record
}

func linuxRouting(ctx context.Context, record *models.RoutingRecord) {
	if fwd := runCommand(ctx, "sysctl", "-n", "net.ipv4.ip_forward"); fwd != "" {
		enabled := fwd == "1"
		record.IPForwarding = &enabled
	}

	if routes := runCommand(ctx, "ip", "route"); routes != "" {
		for _, line := range strings.Split(routes, "\n") {
			record.RoutingTable = append(record.RoutingTable, line)

			if strings.HasPrefix(line, "default") {
				record.DefaultRoutes = append(record.DefaultRoutes, line)
			}
		}
	}

	if nat := runCommand(ctx, "iptables", "-t", "nat", "-L", "-n"); nat != "" {
		record.NAT.Enabled = true
		record.NAT.Rules = strings.Split(nat, "\n")
	}
}

func windowsRouting(ctx context.Context, record *models.RoutingRecord) {
	if fwd := runCommand(ctx, "powershell", "-Command",
		"(Get-NetIPInterface -AddressFamily IPv4 | Where-Object Forwarding -eq 'Enabled' | Measure-Object).Count"); fwd != "" {
		enabled := fwd != "0"
		record.IPForwarding = &enabled
	}

	if routes := runCommand(ctx, "route", "print"); routes != "" {
		for _, line := range strings.Split(routes, "\n") {
			record.RoutingTable = append(record.RoutingTable, line)

			if strings.Contains(line, "0.0.0.0") {
				record.DefaultRoutes = append(record.DefaultRoutes, line)
			}
		}
	}

	// WinNAT or Internet Connection Sharing indicates host NAT.
	if nat := runCommand(ctx, "powershell", "-Command", "Get-NetNat | ConvertTo-Json"); nat != "" && nat != "null" {
		record.NAT.Enabled = true
		record.NAT.Rules = strings.Split(nat, "\n")
	} else if ics := runCommand(ctx, "powershell", "-Command",
		"(Get-Service SharedAccess).Status"); strings.EqualFold(ics, "Running") {
		record.NAT.Enabled = true
	}
}
