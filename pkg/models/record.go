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

import "encoding/json"

// SchemaVersion is the extractor record wire contract version. The agent
// stamps it into its output; collectors reject higher versions.
const SchemaVersion = 1

// OSInfo is the OS extractor output.
type OSInfo struct {
	Hostname      string `json:"hostname,omitempty"`
	FQDN          string `json:"fqdn,omitempty"`
	System        string `json:"os,omitempty"`
	Release       string `json:"os_release,omitempty"`
	Version       string `json:"os_version,omitempty"`
	Architecture  string `json:"architecture,omitempty"`
	OSReleaseFile string `json:"os_release_file,omitempty"`
	Edition       string `json:"windows_edition,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CPUInfo describes the processor.
type CPUInfo struct {
	PhysicalCores int    `json:"physical_cores"`
	LogicalCores  int    `json:"logical_cores"`
	Architecture  string `json:"cpu_architecture,omitempty"`
	Model         string `json:"model,omitempty"`
}

// MemoryInfo describes physical memory, in bytes.
type MemoryInfo struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
}

// DiskInfo describes one mounted filesystem.
type DiskInfo struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	Fstype     string  `json:"fstype,omitempty"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Percent    float64 `json:"percent"`
}

// HardwareInfo is the hardware extractor output.
type HardwareInfo struct {
	CPU         CPUInfo    `json:"cpu"`
	Memory      MemoryInfo `json:"memory"`
	Disks       []DiskInfo `json:"disk,omitempty"`
	BootTime    int64      `json:"boot_time,omitempty"`
	Virtualized bool       `json:"virtualized"`
	Error       string     `json:"error,omitempty"`
}

// IPNetmask pairs an IPv4 address with its netmask.
type IPNetmask struct {
	IP      string `json:"ip"`
	Netmask string `json:"netmask,omitempty"`
}

// InterfaceAddrs lists the addresses of one interface.
type InterfaceAddrs struct {
	IPv4 []IPNetmask `json:"ipv4,omitempty"`
	IPv6 []string    `json:"ipv6,omitempty"`
	MAC  string      `json:"mac,omitempty"`
}

// Socket direction classification.
type SocketDirection string

const (
	DirectionListening SocketDirection = "listening"
	DirectionOutbound  SocketDirection = "outbound"
	DirectionUnknown   SocketDirection = "unknown"
)

// Bind classification for listening addresses.
type BindClass string

const (
	BindAllInterfaces BindClass = "all_interfaces"
	BindLoopback      BindClass = "loopback"
	BindSpecific      BindClass = "specific"
)

// Exposure classification derived from the bind address.
type Exposure string

const (
	ExposurePublic   Exposure = "public"
	ExposureLocal    Exposure = "local"
	ExposureInternal Exposure = "internal"
)

// SocketAddr is one endpoint of a socket.
type SocketAddr struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ProcessRef is minimal process attribution attached to a socket.
type ProcessRef struct {
	Name     string `json:"name,omitempty"`
	Exe      string `json:"exe,omitempty"`
	Username string `json:"username,omitempty"`
}

// SocketRecord is one enumerated socket with its classification.
type SocketRecord struct {
	LAddr        *SocketAddr     `json:"laddr,omitempty"`
	RAddr        *SocketAddr     `json:"raddr,omitempty"`
	Status       string          `json:"status,omitempty"`
	Protocol     string          `json:"protocol,omitempty"`
	PID          int32           `json:"pid,omitempty"`
	Direction    SocketDirection `json:"direction"`
	Bind         BindClass       `json:"bind,omitempty"`
	Exposure     Exposure        `json:"exposure,omitempty"`
	NATSuspected bool            `json:"nat_suspected,omitempty"`
	Process      *ProcessRef     `json:"process,omitempty"`
}

// NetworkRecord is the network extractor output.
type NetworkRecord struct {
	Interfaces         map[string]*InterfaceAddrs `json:"interfaces,omitempty"`
	ListeningPorts     []SocketRecord             `json:"listening_ports,omitempty"`
	ConnectionsPreview []SocketRecord             `json:"connections_preview,omitempty"`
	Error              string                     `json:"error,omitempty"`
}

// SessionInfo is one logged-in session.
type SessionInfo struct {
	Username string `json:"username"`
	Terminal string `json:"terminal,omitempty"`
	Host     string `json:"host,omitempty"`
	Started  int64  `json:"started,omitempty"`
}

// AccountInfo is one system account with inferred roles.
type AccountInfo struct {
	Username string   `json:"username"`
	UID      int      `json:"uid,omitempty"`
	GID      int      `json:"gid,omitempty"`
	Home     string   `json:"home,omitempty"`
	Shell    string   `json:"shell,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// UsersRecord is the users extractor output.
type UsersRecord struct {
	LoggedUsers []SessionInfo `json:"logged_users"`
	SystemUsers []AccountInfo `json:"system_users"`
	Error       string        `json:"error,omitempty"`
}

// Process classification by owner.
const (
	ProcessTypeSystem  = "system"
	ProcessTypeUser    = "user"
	ProcessTypeUnknown = "unknown"
)

// Process role by cmdline match.
const (
	ProcessRoleScanner = "scanner"
	ProcessRoleShell   = "shell"
)

// ProcessInfo is one enumerated process.
type ProcessInfo struct {
	PID         int32    `json:"pid"`
	PPID        int32    `json:"ppid,omitempty"`
	ParentName  string   `json:"parent_name,omitempty"`
	Name        string   `json:"name,omitempty"`
	Exe         string   `json:"exe,omitempty"`
	Username    string   `json:"username,omitempty"`
	Cmdline     []string `json:"cmdline,omitempty"`
	CreateTime  int64    `json:"create_time,omitempty"`
	ProcessType string   `json:"process_type"`
	ProcessRole string   `json:"process_role,omitempty"`
}

// ServiceInfo is one platform service (systemd unit or Windows service).
type ServiceInfo struct {
	Name       string `json:"service_name"`
	PID        int32  `json:"pid,omitempty"`
	Exec       string `json:"exec,omitempty"`
	Username   string `json:"username,omitempty"`
	State      string `json:"state,omitempty"`
	StartMode  string `json:"start_mode,omitempty"`
	Platform   string `json:"platform"`
	Confidence string `json:"confidence"`
}

// ServicesRecord is the services extractor output.
type ServicesRecord struct {
	Processes      []ProcessInfo  `json:"processes_preview"`
	ListeningPorts []SocketRecord `json:"listening_ports_preview"`
	Services       []ServiceInfo  `json:"services_preview"`
	Error          string         `json:"error,omitempty"`
}

// PackageInfo is one installed software package.
type PackageInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	InstallPath string `json:"install_path,omitempty"`
	Source      string `json:"source"`
	Scope       string `json:"scope,omitempty"`
	Confidence  string `json:"confidence,omitempty"`
}

// SoftwareRecord is the software extractor output.
type SoftwareRecord struct {
	Installed []PackageInfo `json:"installed_software"`
	Error     string        `json:"error,omitempty"`
}

// NATState describes host NAT configuration found by the routing extractor.
type NATState struct {
	Enabled bool     `json:"enabled"`
	Rules   []string `json:"rules,omitempty"`
}

// RoutingRecord is the routing extractor output.
type RoutingRecord struct {
	IPForwarding  *bool    `json:"ip_forwarding"`
	DefaultRoutes []string `json:"default_routes"`
	RoutingTable  []string `json:"routing_table"`
	NAT           NATState `json:"nat"`
	Error         string   `json:"error,omitempty"`
}

// GuestTools reports hypervisor guest tooling presence.
type GuestTools struct {
	Installed bool   `json:"installed"`
	Details   string `json:"details,omitempty"`
}

// VirtualizationRecord is the virtualization extractor output.
type VirtualizationRecord struct {
	Virtualized bool       `json:"virtualized"`
	Hypervisor  string     `json:"hypervisor,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	VMUUID      string     `json:"vm_uuid,omitempty"`
	GuestTools  GuestTools `json:"guest_tools"`
	Error       string     `json:"error,omitempty"`
}

// HostRecord is the complete per-host extractor output — the Phase 2 wire
// contract shared by the scanner and the remote agent. All sections are
// optional; a missing section means the extractor did not run or returned
// nothing usable.
type HostRecord struct {
	SchemaVersion int `json:"schema_version"`

	// ExtractionMethod is stamped by the collector, not the agent.
	ExtractionMethod string `json:"extraction_method,omitempty"`

	OS             *OSInfo               `json:"os,omitempty"`
	Hardware       *HardwareInfo         `json:"hardware,omitempty"`
	Network        *NetworkRecord        `json:"network,omitempty"`
	Users          *UsersRecord          `json:"users,omitempty"`
	Services       *ServicesRecord       `json:"services,omitempty"`
	Software       *SoftwareRecord       `json:"software,omitempty"`
	Routing        *RoutingRecord        `json:"routing,omitempty"`
	Virtualization *VirtualizationRecord `json:"virtualization,omitempty"`

	// Extras retains unknown top-level sections for forward compatibility.
	Extras map[string]json.RawMessage `json:"-"`
}

var knownRecordSections = map[string]struct{}{
	"schema_version":    {},
	"extraction_method": {},
	"os":                {},
	"hardware":          {},
	"network":           {},
	"users":             {},
	"services":          {},
	"software":          {},
	"routing":           {},
	"virtualization":    {},
}

// UnmarshalJSON decodes known sections into typed fields and keeps any
// unknown top-level keys in Extras.
func (r *HostRecord) UnmarshalJSON(data []byte) error {
	type alias HostRecord

	var typed alias
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key := range raw {
		if _, ok := knownRecordSections[key]; ok {
			delete(raw, key)
		}
	}

	*r = HostRecord(typed)

	if len(raw) > 0 {
		r.Extras = raw
	}

	return nil
}
