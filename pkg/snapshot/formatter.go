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

// Package snapshot assembles phase outputs into the immutable run snapshot
// and persists phase artifacts to disk.
package snapshot

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provlab/provscan/pkg/models"
)

// The VirtualBox NAT network is plumbing, not discovered topology.
const (
	vboxNATCIDR    = "10.0.2.0/24"
	vboxNATGateway = "10.0.2.2"
	natHostPrefix  = "10.0.2."
)

// Build assembles the run snapshot from the three phase outputs. The NAT
// network, if scanned, is collapsed into an infrastructure record and its
// pseudo-hosts are dropped from discovery.
func Build(inv *models.SelfInventory, report *models.Phase1Report, phase2 map[string]*models.HostRecord) *models.Snapshot {
	snap := &models.Snapshot{
		SnapshotID:  uuid.NewString(),
		CollectedAt: time.Now().UTC(),
		ScannerHost: models.ScannerHost{
			Hostname:          inv.Hostname,
			Domain:            inv.Domain,
			Network:           inv.Network,
			Interfaces:        inv.Interfaces,
			ActiveConnections: inv.ActiveConnections,
			ARPCacheRaw:       inv.ARPCacheRaw,
			ARPEntries:        inv.ARPEntries,
		},
		Phase2: phase2,
	}

	if report != nil {
		collapsed, nat := CollapseNAT(report)
		snap.LocalNetworkDiscovery = *collapsed

		if nat != nil {
			snap.Infrastructure = &models.Infrastructure{NAT: nat}
		}
	}

	return snap
}

// CollapseNAT strips the VirtualBox NAT network and any 10.0.2.* hosts from
// the report and returns them as a single infrastructure summary. The input
// report is not modified.
func CollapseNAT(report *models.Phase1Report) (*models.Phase1Report, *models.NATSummary) {
	out := &models.Phase1Report{
		InterfacesScanned: report.InterfacesScanned,
		Results:           make(map[string]*models.DiscoveryResult, len(report.Results)),
	}

	var nat *models.NATSummary

	markNAT := func(host string) {
		if nat == nil {
			nat = &models.NATSummary{Present: true, CIDR: vboxNATCIDR, Role: "egress"}
		}

		if host == vboxNATGateway {
			nat.Gateway = vboxNATGateway
		}
	}

	for iface, result := range report.Results {
		if result.Network == vboxNATCIDR {
			markNAT("")

			for _, host := range result.DiscoveredHosts {
				markNAT(host)
			}

			continue
		}

		cleaned := &models.DiscoveryResult{
			Network:   result.Network,
			Details:   make(map[string]*models.HostDetail, len(result.Details)),
			Methods:   result.Methods,
			ScannerIP: result.ScannerIP,
		}

		for _, host := range result.DiscoveredHosts {
			if strings.HasPrefix(host, natHostPrefix) {
				markNAT(host)

				continue
			}

			cleaned.DiscoveredHosts = append(cleaned.DiscoveredHosts, host)

			if detail, ok := result.Details[host]; ok {
				cleaned.Details[host] = detail
			}
		}

		out.Results[iface] = cleaned
	}

	out.OverallSummary = recomputeSummary(out)

	return out, nat
}

func recomputeSummary(report *models.Phase1Report) models.DiscoverySummary {
	seen := make(map[string]struct{})
	networks := make(map[string]struct{})

	for _, result := range report.Results {
		networks[result.Network] = struct{}{}

		for _, host := range result.DiscoveredHosts {
			seen[host] = struct{}{}
		}
	}

	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}

	sort.Strings(hosts)

	nets := make([]string, 0, len(networks))
	for n := range networks {
		nets = append(nets, n)
	}

	sort.Strings(nets)

	return models.DiscoverySummary{
		TotalInterfacesScanned: len(report.InterfacesScanned),
		TotalUniqueHosts:       len(hosts),
		UniqueHosts:            hosts,
		NetworksDiscovered:     nets,
	}
}
