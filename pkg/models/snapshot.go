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

package models

import "time"

// ScannerHost is the Phase 0 view of the scanner node embedded in a snapshot.
type ScannerHost struct {
	Hostname          string              `json:"hostname"`
	Domain            string              `json:"domain"`
	Network           NetworkInfo         `json:"network"`
	Interfaces        []InterfaceInfo     `json:"interfaces"`
	ActiveConnections []ConnectionPreview `json:"active_connections,omitempty"`
	ARPCacheRaw       string              `json:"arp_cache_raw,omitempty"`
	ARPEntries        []ARPEntry          `json:"arp_parsed,omitempty"`
}

// NATSummary is the collapsed NAT infrastructure record.
type NATSummary struct {
	Present bool   `json:"present"`
	CIDR    string `json:"cidr"`
	Gateway string `json:"gateway,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Infrastructure carries network infrastructure derived from phase outputs.
type Infrastructure struct {
	NAT *NATSummary `json:"nat,omitempty"`
}

// Snapshot is the immutable union of all phase outputs for one scanner run.
// Field names and nesting are part of the wire format; new fields must be
// additive.
type Snapshot struct {
	SnapshotID            string                 `json:"snapshot_id"`
	CollectedAt           time.Time              `json:"collected_at"`
	ScannerHost           ScannerHost            `json:"scanner_host"`
	LocalNetworkDiscovery Phase1Report           `json:"local_network_discovery"`
	Phase2                map[string]*HostRecord `json:"phase2,omitempty"`
	Infrastructure        *Infrastructure        `json:"infrastructure,omitempty"`
}
