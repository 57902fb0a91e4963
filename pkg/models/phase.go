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

// NetworkInfo is the scanner's primary network configuration (Phase 0).
type NetworkInfo struct {
	IP               string   `json:"ip"`
	Netmask          string   `json:"netmask"`
	Gateway          string   `json:"gateway"`
	DNS              []string `json:"dns"`
	PrimaryInterface string   `json:"primary_interface,omitempty"`
}

// InterfaceInfo describes one local interface inventoried by Phase 0.
type InterfaceInfo struct {
	Name    string `json:"name"`
	IP      string `json:"ip,omitempty"`
	Netmask string `json:"netmask,omitempty"`
	MAC     string `json:"mac,omitempty"`
	Type    string `json:"type"`
}

// Interface type classification used by Phase 0.
const (
	InterfaceVirtual  = "Virtual"
	InterfaceWireless = "Wireless"
	InterfaceBridge   = "Bridge"
	InterfacePhysical = "Physical"
)

// ARPEntry is one parsed line of the kernel ARP cache.
type ARPEntry struct {
	IP    string `json:"ip"`
	MAC   string `json:"mac"`
	Iface string `json:"iface"`
}

// ConnectionPreview is a short view of one active socket.
type ConnectionPreview struct {
	LAddr  string `json:"laddr"`
	RAddr  string `json:"raddr"`
	Status string `json:"status"`
}

// SelfInventory is the complete Phase 0 output.
type SelfInventory struct {
	Hostname          string              `json:"hostname"`
	Domain            string              `json:"domain"`
	Network           NetworkInfo         `json:"network"`
	Interfaces        []InterfaceInfo     `json:"interfaces"`
	ActiveConnections []ConnectionPreview `json:"active_connections"`
	ARPCacheRaw       string              `json:"arp_cache_raw,omitempty"`
	ARPEntries        []ARPEntry          `json:"arp_parsed"`
}

// InterfaceCandidate is one interface ranked by the selector.
type InterfaceCandidate struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Netmask string `json:"netmask"`
	MAC     string `json:"mac,omitempty"`
	Score   int    `json:"score"`
	Reason  string `json:"reason"`
}

// OSHint is a coarse TTL-based operating system guess.
type OSHint string

const (
	OSHintLinuxLike         OSHint = "linux_like"
	OSHintWindowsLike       OSHint = "windows_like"
	OSHintNetworkDeviceLike OSHint = "network_device_like"
	OSHintUnknown           OSHint = "unknown"
)

// HostType is the role assigned to a Phase 1 responder.
type HostType string

const (
	HostTypeGateway       HostType = "gateway"
	HostTypeNetworkDevice HostType = "network_device"
	HostTypePrinter       HostType = "printer"
	HostTypeWebService    HostType = "web_service"
	HostTypeSSHService    HostType = "ssh_service"
	HostTypeDNSLike       HostType = "dns_like"
	HostTypeUnknown       HostType = "unknown"
)

// UDPEvidence records a UDP port observation with its supporting evidence.
type UDPEvidence struct {
	Port       int    `json:"port"`
	Evidence   string `json:"evidence"`
	Confidence string `json:"confidence"`
}

// HostDetail is the per-responder classification from Phase 1.
type HostDetail struct {
	TCP      []int         `json:"tcp"`
	UDP      []UDPEvidence `json:"udp,omitempty"`
	OSHint   OSHint        `json:"os_hint"`
	Type     HostType      `json:"type"`
	Hostname string        `json:"hostname,omitempty"`
}

// DiscoveryResult is the Phase 1 output for one interface.
type DiscoveryResult struct {
	Network         string                 `json:"network"`
	DiscoveredHosts []string               `json:"discovered_hosts"`
	Details         map[string]*HostDetail `json:"details"`
	Methods         []string               `json:"methods"`
	ScannerIP       string                 `json:"scanner_ip"`
}

// ScannedInterface records which interface Phase 1 probed and why.
type ScannedInterface struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
	Netmask   string `json:"netmask"`
	Score     int    `json:"score"`
	Reason    string `json:"reason"`
}

// DiscoverySummary aggregates Phase 1 results across interfaces.
type DiscoverySummary struct {
	TotalInterfacesScanned int      `json:"total_interfaces_scanned"`
	TotalUniqueHosts       int      `json:"total_unique_hosts"`
	UniqueHosts            []string `json:"unique_hosts"`
	NetworksDiscovered     []string `json:"networks_discovered"`
}

// Phase1Report is the complete Phase 1 output across all scanned interfaces.
type Phase1Report struct {
	InterfacesScanned []ScannedInterface          `json:"interfaces_scanned"`
	Results           map[string]*DiscoveryResult `json:"results"`
	OverallSummary    DiscoverySummary            `json:"overall_summary"`
}
