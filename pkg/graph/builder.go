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

package graph

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

// Builder merges one snapshot into a provenance graph. It is a per-run
// object; build state (host identity indexes) does not survive it.
type Builder struct {
	g   *Graph
	log logger.Logger

	hostByIP   map[string]string
	hostByName map[string]string
}

func NewBuilder(log logger.Logger) *Builder {
	return &Builder{
		g:          New(),
		log:        log,
		hostByIP:   make(map[string]string),
		hostByName: make(map[string]string),
	}
}

// Graph returns the graph under construction.
func (b *Builder) Graph() *Graph { return b.g }

// Build constructs the full graph from a snapshot: scanner host, Phase 0
// interfaces, Phase 1 topology, Phase 2 host interiors, then metrics.
func (b *Builder) Build(snap *models.Snapshot) *Graph {
	snapID := b.addRoot(snap)

	scannerID := b.addScannerHost(snap)
	b.g.AddEdge(snapID, scannerID, RelOnHost)

	b.addPhase0(scannerID, &snap.ScannerHost)
	b.addPhase1(scannerID, &snap.LocalNetworkDiscovery)

	for ip, record := range snap.Phase2 {
		b.addHostRecord(snapID, ip, record)
	}

	if snap.Infrastructure != nil && snap.Infrastructure.NAT != nil {
		b.addNAT(scannerID, snap.Infrastructure.NAT)
	}

	b.attachMetrics(snapID)

	b.log.Info().
		Int("nodes", b.g.NodeCount()).
		Int("edges", b.g.EdgeCount()).
		Msg("graph construction complete")

	return b.g
}

func (b *Builder) addRoot(snap *models.Snapshot) string {
	node := b.g.Ensure(KindSnapshot, snap.SnapshotID, map[string]any{
		"snapshot_id":  snap.SnapshotID,
		"collected_at": snap.CollectedAt.UTC().Format(time.RFC3339),
	})

	return node.ID
}

func (b *Builder) addScannerHost(snap *models.Snapshot) string {
	id := b.GetOrCreateHost(snap.ScannerHost.Network.IP, snap.ScannerHost.Hostname)

	b.g.Ensure(KindHost, hostKeyOf(id), map[string]any{
		"role":       "scanner",
		"is_scanner": true,
		"domain":     snap.ScannerHost.Domain,
	})

	return id
}

// GetOrCreateHost resolves a host node by IP first, hostname second, and
// creates one when neither is known. Repeated calls with the same IP always
// return the same identity.
func (b *Builder) GetOrCreateHost(ip, hostname string) string {
	if ip != "" {
		if id, ok := b.hostByIP[ip]; ok {
			if hostname != "" {
				b.hostByName[hostname] = id
			}

			return id
		}
	}

	if hostname != "" {
		if id, ok := b.hostByName[hostname]; ok {
			if ip != "" {
				b.hostByIP[ip] = id
			}

			return id
		}
	}

	key := ip
	if key == "" {
		key = hostname
	}

	attrs := map[string]any{}
	if ip != "" {
		attrs["ip"] = ip
	}

	if hostname != "" {
		attrs["hostname"] = hostname
	}

	node := b.g.Ensure(KindHost, key, attrs)

	if ip != "" {
		b.hostByIP[ip] = node.ID
	}

	if hostname != "" {
		b.hostByName[hostname] = node.ID
	}

	return node.ID
}

func hostKeyOf(hostID string) string {
	return strings.TrimPrefix(hostID, KindHost+":")
}

func (b *Builder) addPhase0(scannerID string, sh *models.ScannerHost) {
	hostKey := hostKeyOf(scannerID)

	for _, iface := range sh.Interfaces {
		ifNode := b.g.Ensure(KindInterface, hostKey+":"+iface.Name, map[string]any{
			"name": iface.Name,
			"mac":  iface.MAC,
			"type": iface.Type,
		})

		b.g.AddEdge(scannerID, ifNode.ID, RelHasInterface)

		if iface.IP == "" {
			continue
		}

		ipNode := b.g.Ensure(KindIP, iface.IP, map[string]any{
			"addr":    iface.IP,
			"netmask": iface.Netmask,
		})

		b.g.AddEdge(ifNode.ID, ipNode.ID, RelHasIP)
		b.g.AddEdge(scannerID, ipNode.ID, RelHasIP)
	}
}

func (b *Builder) addPhase1(scannerID string, report *models.Phase1Report) {
	for iface, result := range report.Results {
		netNode := b.g.Ensure(KindNetwork, result.Network, map[string]any{
			"cidr": result.Network,
		})

		if result.ScannerIP != "" {
			ipNode := b.g.Ensure(KindIP, result.ScannerIP, map[string]any{"addr": result.ScannerIP})
			b.g.AddEdge(ipNode.ID, netNode.ID, RelInNetwork)
		}

		discNode := b.g.Ensure(KindDiscovery, iface+":"+result.Network, map[string]any{
			"interface":  iface,
			"network":    result.Network,
			"methods":    strings.Join(result.Methods, ","),
			"scanner_ip": result.ScannerIP,
		})

		b.g.AddEdge(scannerID, discNode.ID, RelPerformed)

		for _, ip := range result.DiscoveredHosts {
			detail := result.Details[ip]

			var hostname string
			if detail != nil {
				hostname = detail.Hostname
			}

			hostID := b.GetOrCreateHost(ip, hostname)

			if detail != nil {
				b.g.Ensure(KindHost, hostKeyOf(hostID), map[string]any{
					"type":    string(detail.Type),
					"os_hint": string(detail.OSHint),
				})
			}

			ipNode := b.g.Ensure(KindIP, ip, map[string]any{"addr": ip})

			b.g.AddEdge(hostID, ipNode.ID, RelHasIP)
			b.g.AddEdge(ipNode.ID, netNode.ID, RelInNetwork)
			b.g.AddEdge(discNode.ID, hostID, RelDiscovered)
		}
	}
}

func (b *Builder) addNAT(scannerID string, nat *models.NATSummary) {
	netNode := b.g.Ensure(KindNetwork, nat.CIDR, map[string]any{
		"cidr": nat.CIDR,
		"nat":  true,
		"role": nat.Role,
	})

	if nat.Gateway != "" {
		gwNode := b.g.Ensure(KindIP, nat.Gateway, map[string]any{"addr": nat.Gateway})
		b.g.AddEdge(gwNode.ID, netNode.ID, RelInNetwork)
	}

	b.g.AddEdge(scannerID, netNode.ID, RelObserved)
}

// addHostRecord expands one Phase 2 extractor record into the host's
// interior: OS, hardware, processes, sockets, ports, software and users.
func (b *Builder) addHostRecord(snapID, ip string, rec *models.HostRecord) {
	var hostname string
	if rec.OS != nil {
		hostname = rec.OS.Hostname
	}

	hostID := b.GetOrCreateHost(ip, hostname)
	hostKey := hostKeyOf(hostID)

	if rec.ExtractionMethod != "" {
		b.g.Ensure(KindHost, hostKey, map[string]any{"extraction_method": rec.ExtractionMethod})
	}

	b.g.AddEdge(snapID, hostID, RelObserved)

	b.addOS(hostID, hostKey, rec.OS)
	b.addHardware(hostID, hostKey, rec.Hardware)

	pidIndex := b.addProcesses(hostID, hostKey, rec)
	b.addLineage(pidIndex, rec)
	b.addSockets(hostID, hostKey, pidIndex, rec)
	b.addSoftware(hostID, hostKey, rec.Software)
	b.addExecutables(hostKey, pidIndex, rec)
	b.addUsers(hostID, hostKey, pidIndex, rec)
}

func (b *Builder) addOS(hostID, hostKey string, os *models.OSInfo) {
	if os == nil || os.System == "" {
		return
	}

	family := strings.ToLower(os.System)
	famNode := b.g.Ensure(KindOSFamily, family, map[string]any{"name": family})

	version := os.Release
	if version == "" {
		version = os.Version
	}

	instNode := b.g.Ensure(KindOSInstance, hostKey+":"+os.System+":"+version, map[string]any{
		"name":         os.System,
		"version":      version,
		"architecture": os.Architecture,
		"fqdn":         os.FQDN,
	})

	b.g.AddEdge(hostID, instNode.ID, RelRunsOS)
	b.g.AddEdge(instNode.ID, famNode.ID, RelInstanceOf)
}

func (b *Builder) addHardware(hostID, hostKey string, hw *models.HardwareInfo) {
	if hw == nil {
		return
	}

	cpuNode := b.g.Ensure(KindCPU, hostKey, map[string]any{
		"physical_cores": hw.CPU.PhysicalCores,
		"logical_cores":  hw.CPU.LogicalCores,
		"architecture":   hw.CPU.Architecture,
		"model":          hw.CPU.Model,
	})
	b.g.AddEdge(hostID, cpuNode.ID, RelHasHardware)

	memNode := b.g.Ensure(KindMemory, hostKey, map[string]any{
		"total":     hw.Memory.Total,
		"available": hw.Memory.Available,
		"used":      hw.Memory.Used,
		"percent":   hw.Memory.Percent,
	})
	b.g.AddEdge(hostID, memNode.ID, RelHasHardware)

	for _, disk := range hw.Disks {
		diskNode := b.g.Ensure(KindDisk, hostKey+":"+disk.Mountpoint, map[string]any{
			"device":     disk.Device,
			"mountpoint": disk.Mountpoint,
			"fstype":     disk.Fstype,
			"total":      disk.Total,
			"used":       disk.Used,
			"percent":    disk.Percent,
		})
		b.g.AddEdge(hostID, diskNode.ID, RelHasHardware)
	}

	b.g.Ensure(KindHost, hostKey, map[string]any{
		"boot_time":   hw.BootTime,
		"virtualized": hw.Virtualized,
	})
}

// addProcesses creates Process nodes and returns the pid → node-id index
// used by lineage, socket and user attribution.
func (b *Builder) addProcesses(hostID, hostKey string, rec *models.HostRecord) map[int32]string {
	pidIndex := make(map[int32]string)

	if rec.Services == nil {
		return pidIndex
	}

	for _, proc := range rec.Services.Processes {
		node := b.g.Ensure(KindProcess, fmt.Sprintf("%s:%d", hostKey, proc.PID), map[string]any{
			"pid":          proc.PID,
			"name":         proc.Name,
			"exe":          proc.Exe,
			"username":     proc.Username,
			"cmdline":      strings.Join(proc.Cmdline, " "),
			"create_time":  proc.CreateTime,
			"process_type": proc.ProcessType,
			"process_role": proc.ProcessRole,
		})

		b.g.AddEdge(hostID, node.ID, RelRuns)
		pidIndex[proc.PID] = node.ID
	}

	return pidIndex
}

// addLineage links child processes to parents when both sides exist.
func (b *Builder) addLineage(pidIndex map[int32]string, rec *models.HostRecord) {
	if rec.Services == nil {
		return
	}

	for _, proc := range rec.Services.Processes {
		if proc.PPID == 0 {
			continue
		}

		childID, childOK := pidIndex[proc.PID]
		parentID, parentOK := pidIndex[proc.PPID]

		if childOK && parentOK {
			b.g.AddEdge(childID, parentID, RelSpawnedBy)
		}
	}
}

// addSockets expands listening ports into the Process -> Socket -> Port
// chain and outbound connections into CONNECTS_TO edges.
func (b *Builder) addSockets(hostID, hostKey string, pidIndex map[int32]string, rec *models.HostRecord) {
	listening, preview := socketSections(rec)

	for _, sock := range listening {
		if sock.LAddr == nil {
			continue
		}

		proto := sock.Protocol
		if proto == "" {
			proto = "tcp"
		}

		portKey := fmt.Sprintf("%s:%s:%s:%d", hostKey, proto, sock.LAddr.IP, sock.LAddr.Port)
		portNode := b.g.Ensure(KindPort, portKey, map[string]any{
			"port":     sock.LAddr.Port,
			"proto":    proto,
			"bind_ip":  sock.LAddr.IP,
			"bind":     string(sock.Bind),
			"exposure": string(sock.Exposure),
			"has_pid":  sock.PID != 0,
		})

		b.g.AddEdge(hostID, portNode.ID, RelExposes)

		if sock.Bind == models.BindSpecific {
			ipNode := b.g.Ensure(KindIP, sock.LAddr.IP, map[string]any{"addr": sock.LAddr.IP})
			b.g.AddEdge(portNode.ID, ipNode.ID, RelBindsIP)
		}

		if sock.PID == 0 {
			continue
		}

		procID, ok := pidIndex[sock.PID]
		if !ok {
			procID = b.ensureSocketProcess(hostID, hostKey, sock)
			pidIndex[sock.PID] = procID
		}

		sockNode := b.ensureSocket(hostKey, proto, &sock)

		b.g.AddEdge(procID, sockNode.ID, RelUsesSocket)
		b.g.AddEdge(sockNode.ID, portNode.ID, RelBindsTo)
	}

	for _, sock := range preview {
		if sock.Direction != models.DirectionOutbound || sock.RAddr == nil {
			continue
		}

		proto := sock.Protocol
		if proto == "" {
			proto = "tcp"
		}

		sockNode := b.ensureSocket(hostKey, proto, &sock)

		remoteNode := b.g.Ensure(KindIP, sock.RAddr.IP, map[string]any{"addr": sock.RAddr.IP})
		b.g.AddEdge(sockNode.ID, remoteNode.ID, RelConnectsTo)

		if sock.PID != 0 {
			if procID, ok := pidIndex[sock.PID]; ok {
				b.g.AddEdge(procID, sockNode.ID, RelUsesSocket)
			}
		}
	}
}

// socketSections prefers the network extractor's socket lists, falling back
// to the services extractor's previews.
func socketSections(rec *models.HostRecord) (listening, preview []models.SocketRecord) {
	if rec.Network != nil && (len(rec.Network.ListeningPorts) > 0 || len(rec.Network.ConnectionsPreview) > 0) {
		return rec.Network.ListeningPorts, rec.Network.ConnectionsPreview
	}

	if rec.Services != nil {
		return rec.Services.ListeningPorts, nil
	}

	return nil, nil
}

// ensureSocketProcess creates a minimal Process node from socket
// attribution when the process list missed the pid.
func (b *Builder) ensureSocketProcess(hostID, hostKey string, sock models.SocketRecord) string {
	attrs := map[string]any{"pid": sock.PID}

	if sock.Process != nil {
		attrs["name"] = sock.Process.Name
		attrs["exe"] = sock.Process.Exe
		attrs["username"] = sock.Process.Username
	}

	node := b.g.Ensure(KindProcess, fmt.Sprintf("%s:%d", hostKey, sock.PID), attrs)
	b.g.AddEdge(hostID, node.ID, RelRuns)

	return node.ID
}

func (b *Builder) ensureSocket(hostKey, proto string, sock *models.SocketRecord) *Node {
	laddr := "-"
	if sock.LAddr != nil {
		laddr = fmt.Sprintf("%s:%d", sock.LAddr.IP, sock.LAddr.Port)
	}

	raddr := "-"
	if sock.RAddr != nil {
		raddr = fmt.Sprintf("%s:%d", sock.RAddr.IP, sock.RAddr.Port)
	}

	key := fmt.Sprintf("%s:%d:%s:%s:%s:%s", hostKey, sock.PID, proto, laddr, raddr, sock.Status)

	return b.g.Ensure(KindSocket, key, map[string]any{
		"pid":           sock.PID,
		"proto":         proto,
		"laddr":         laddr,
		"raddr":         raddr,
		"status":        sock.Status,
		"direction":     string(sock.Direction),
		"nat_suspected": sock.NATSuspected,
	})
}

func (b *Builder) addSoftware(hostID, hostKey string, sw *models.SoftwareRecord) {
	if sw == nil {
		return
	}

	for _, pkg := range sw.Installed {
		if pkg.Name == "" {
			continue
		}

		family := NormalizeSoftwareFamily(pkg.Name)
		famNode := b.g.Ensure(KindSoftwareFamily, family, map[string]any{"name": family})

		instNode := b.g.Ensure(KindSoftwareInstance, hostKey+":"+pkg.Name+":"+pkg.Version, map[string]any{
			"name":       pkg.Name,
			"version":    pkg.Version,
			"source":     pkg.Source,
			"scope":      pkg.Scope,
			"confidence": pkg.Confidence,
		})

		b.g.AddEdge(hostID, instNode.ID, RelHasInstalled)
		b.g.AddEdge(instNode.ID, famNode.ID, RelInstanceOf)
	}
}

// addExecutables links processes to their executables and executables to
// the software family the basename normalizes to.
func (b *Builder) addExecutables(hostKey string, pidIndex map[int32]string, rec *models.HostRecord) {
	if rec.Services == nil {
		return
	}

	for _, proc := range rec.Services.Processes {
		if proc.Exe == "" {
			continue
		}

		procID, ok := pidIndex[proc.PID]
		if !ok {
			continue
		}

		base := filepath.Base(strings.ReplaceAll(proc.Exe, `\`, "/"))

		exeNode := b.g.Ensure(KindExecutable, hostKey+":"+base, map[string]any{
			"basename": base,
			"path":     proc.Exe,
		})

		b.g.AddEdge(procID, exeNode.ID, RelExecutes)

		family := NormalizeSoftwareFamily(base)
		famNode := b.g.Ensure(KindSoftwareFamily, family, map[string]any{"name": family})

		b.g.AddEdge(exeNode.ID, famNode.ID, RelPartOf)
	}
}

func (b *Builder) addUsers(hostID, hostKey string, pidIndex map[int32]string, rec *models.HostRecord) {
	if rec.Users == nil {
		return
	}

	accounts := make(map[string]string)

	for _, acct := range rec.Users.SystemUsers {
		if acct.Username == "" {
			continue
		}

		userNode := b.g.Ensure(KindUser, hostKey+":"+acct.Username, map[string]any{
			"username": acct.Username,
			"uid":      acct.UID,
			"home":     acct.Home,
			"shell":    acct.Shell,
			"domain":   acct.Domain,
			"scope":    acct.Scope,
			"source":   acct.Source,
		})

		b.g.AddEdge(hostID, userNode.ID, RelHasAccount)
		accounts[acct.Username] = userNode.ID

		for _, role := range acct.Roles {
			roleNode := b.g.Ensure(KindRole, role, map[string]any{"name": role})
			b.g.AddEdge(userNode.ID, roleNode.ID, RelHasRole)
		}

		for _, group := range acct.Groups {
			groupNode := b.g.Ensure(KindGroup, group, map[string]any{"name": group})
			b.g.AddEdge(userNode.ID, groupNode.ID, RelMemberOf)
		}
	}

	for _, sess := range rec.Users.LoggedUsers {
		key := fmt.Sprintf("%s:%s:%s:%s:%d", hostKey, sess.Username, sess.Terminal, sess.Host, sess.Started)

		sessNode := b.g.Ensure(KindSession, key, map[string]any{
			"username": sess.Username,
			"terminal": sess.Terminal,
			"host":     sess.Host,
			"started":  sess.Started,
		})

		b.g.AddEdge(hostID, sessNode.ID, RelHasSession)

		userID, ok := accounts[sess.Username]
		if !ok {
			userNode := b.g.Ensure(KindUser, hostKey+":"+sess.Username, map[string]any{
				"username": sess.Username,
			})
			b.g.AddEdge(hostID, userNode.ID, RelHasAccount)

			userID = userNode.ID
			accounts[sess.Username] = userID
		}

		b.g.AddEdge(sessNode.ID, userID, RelSessionUser)
	}

	if rec.Services == nil {
		return
	}

	for _, proc := range rec.Services.Processes {
		if proc.Username == "" {
			continue
		}

		username := stripDomain(proc.Username)

		userID, ok := accounts[username]
		if !ok {
			continue
		}

		if procID, ok := pidIndex[proc.PID]; ok {
			b.g.AddEdge(userID, procID, RelRunsProcess)
		}
	}
}

func stripDomain(username string) string {
	if idx := strings.LastIndex(username, `\`); idx >= 0 {
		return username[idx+1:]
	}

	return username
}

// Software family aliases collapsed during normalization.
var softwareAliases = map[string]string{
	"python3": "python",
	"python2": "python",
	"nodejs":  "node",
	"openjdk": "java",
}

// NormalizeSoftwareFamily lowercases a package or executable name, applies
// known aliases and strips trailing version digits and separators, so
// python3 and python share one family.
func NormalizeSoftwareFamily(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))

	if alias, ok := softwareAliases[lower]; ok {
		return alias
	}

	trimmed := strings.TrimRight(lower, "0123456789")
	trimmed = strings.TrimRight(trimmed, "-._")

	if trimmed == "" {
		return lower
	}

	if alias, ok := softwareAliases[trimmed]; ok {
		return alias
	}

	return trimmed
}
