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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

func labSnapshot() *models.Snapshot {
	return &models.Snapshot{
		SnapshotID:  "11111111-2222-3333-4444-555555555555",
		CollectedAt: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		ScannerHost: models.ScannerHost{
			Hostname: "scanner",
			Domain:   "lab.local",
			Network:  models.NetworkInfo{IP: "192.168.56.10"},
			Interfaces: []models.InterfaceInfo{
				{Name: "eth0", IP: "192.168.56.10", Netmask: "255.255.255.0", MAC: "08:00:27:aa:bb:cc", Type: models.InterfacePhysical},
			},
		},
		LocalNetworkDiscovery: models.Phase1Report{
			Results: map[string]*models.DiscoveryResult{
				"eth0": {
					Network:         "192.168.56.0/24",
					ScannerIP:       "192.168.56.10",
					Methods:         []string{"arp", "tcp"},
					DiscoveredHosts: []string{"192.168.56.1", "192.168.56.20"},
					Details: map[string]*models.HostDetail{
						"192.168.56.1":  {Type: models.HostTypeDNSLike},
						"192.168.56.20": {TCP: []int{22}, Type: models.HostTypeSSHService, OSHint: models.OSHintLinuxLike},
					},
				},
			},
		},
	}
}

func buildGraph(t *testing.T, snap *models.Snapshot) *Graph {
	t.Helper()

	return NewBuilder(logger.NewTestLogger()).Build(snap)
}

func TestBuildPhase1Topology(t *testing.T) {
	g := buildGraph(t, labSnapshot())

	assert.Len(t, g.NodesOfKind(KindSnapshot), 1)
	assert.Len(t, g.NodesOfKind(KindHost), 3)
	assert.Len(t, g.NodesOfKind(KindNetwork), 1)
	assert.Len(t, g.NodesOfKind(KindDiscovery), 1)
	assert.Len(t, g.NodesOfKind(KindIP), 3)

	snapID := "Snapshot:11111111-2222-3333-4444-555555555555"
	assert.True(t, g.HasEdge(snapID, "Host:192.168.56.10", RelOnHost))
	assert.True(t, g.HasEdge("Host:192.168.56.10", "Interface:192.168.56.10:eth0", RelHasInterface))
	assert.True(t, g.HasEdge("Host:192.168.56.10", "IP:192.168.56.10", RelHasIP))
	assert.True(t, g.HasEdge("IP:192.168.56.10", "Network:192.168.56.0/24", RelInNetwork))

	discID := "Discovery:eth0:192.168.56.0/24"
	assert.True(t, g.HasEdge("Host:192.168.56.10", discID, RelPerformed))
	assert.True(t, g.HasEdge(discID, "Host:192.168.56.1", RelDiscovered))
	assert.True(t, g.HasEdge(discID, "Host:192.168.56.20", RelDiscovered))

	gw, ok := g.Node("Host:192.168.56.1")
	require.True(t, ok)
	assert.Equal(t, "dns_like", gw.Attrs["type"])

	target, ok := g.Node("Host:192.168.56.20")
	require.True(t, ok)
	assert.Equal(t, "ssh_service", target.Attrs["type"])
	assert.Equal(t, "linux_like", target.Attrs["os_hint"])
}

func TestBuildPublicListenerChain(t *testing.T) {
	snap := labSnapshot()
	snap.Phase2 = map[string]*models.HostRecord{
		"192.168.56.20": {
			SchemaVersion:    models.SchemaVersion,
			ExtractionMethod: "ssh",
			OS:               &models.OSInfo{Hostname: "target", System: "Linux", Release: "6.8"},
			Services: &models.ServicesRecord{
				Processes: []models.ProcessInfo{
					{PID: 1000, Name: "sshd", Exe: "/usr/sbin/sshd", Username: "root", ProcessType: models.ProcessTypeSystem},
				},
			},
			Network: &models.NetworkRecord{
				ListeningPorts: []models.SocketRecord{
					{
						LAddr:     &models.SocketAddr{IP: "0.0.0.0", Port: 22},
						Protocol:  "tcp",
						PID:       1000,
						Direction: models.DirectionListening,
						Bind:      models.BindAllInterfaces,
						Exposure:  models.ExposurePublic,
						Status:    "LISTEN",
					},
				},
			},
		},
	}

	g := buildGraph(t, snap)

	hostID := "Host:192.168.56.20"
	portID := "Port:192.168.56.20:tcp:0.0.0.0:22"
	procID := "Process:192.168.56.20:1000"
	sockID := "Socket:192.168.56.20:1000:tcp:0.0.0.0:22:-:LISTEN"

	assert.True(t, g.HasEdge(hostID, portID, RelExposes))
	assert.True(t, g.HasEdge(hostID, procID, RelRuns))
	assert.True(t, g.HasEdge(procID, sockID, RelUsesSocket))
	assert.True(t, g.HasEdge(sockID, portID, RelBindsTo))

	port, ok := g.Node(portID)
	require.True(t, ok)
	assert.Equal(t, "public", port.Attrs["exposure"])
	assert.Equal(t, true, port.Attrs["has_pid"])

	// An all-interfaces bind has no BINDS_IP edge.
	assert.Empty(t, g.EdgesFrom(portID, RelBindsIP))

	host, ok := g.Node(hostID)
	require.True(t, ok)
	assert.Equal(t, "ssh", host.Attrs["extraction_method"])

	// A root-owned public listener shows up in the metrics node.
	metrics := g.NodesOfKind(KindMetrics)
	require.Len(t, metrics, 1)
	assert.Equal(t, 1, metrics[0].Attrs["privileged_public_listeners"])
}

func TestBuildProcessLineage(t *testing.T) {
	snap := labSnapshot()
	snap.Phase2 = map[string]*models.HostRecord{
		"192.168.56.20": {
			SchemaVersion: models.SchemaVersion,
			Services: &models.ServicesRecord{
				Processes: []models.ProcessInfo{
					{PID: 1, Name: "systemd", ProcessType: models.ProcessTypeSystem},
					{PID: 100, PPID: 1, Name: "sshd", ProcessType: models.ProcessTypeSystem},
					{PID: 500, PPID: 100, Name: "bash", ProcessType: models.ProcessTypeUser},
					{PID: 600, PPID: 999, Name: "orphan", ProcessType: models.ProcessTypeUser},
				},
			},
		},
	}

	g := buildGraph(t, snap)

	prefix := "Process:192.168.56.20:"
	assert.True(t, g.HasEdge(prefix+"100", prefix+"1", RelSpawnedBy))
	assert.True(t, g.HasEdge(prefix+"500", prefix+"100", RelSpawnedBy))

	// PID 600's parent was never enumerated; no dangling edge.
	assert.Empty(t, g.EdgesFrom(prefix+"600", RelSpawnedBy))
	assert.Equal(t, 2, g.EdgeHistogram()[RelSpawnedBy])
}

func TestBuildSoftwareFamilies(t *testing.T) {
	snap := labSnapshot()
	snap.Phase2 = map[string]*models.HostRecord{
		"192.168.56.20": {
			SchemaVersion: models.SchemaVersion,
			Software: &models.SoftwareRecord{
				Installed: []models.PackageInfo{
					{Name: "python3", Version: "3.12.1", Source: "dpkg"},
					{Name: "python", Version: "2.7.18", Source: "dpkg"},
					{Name: "nginx", Version: "1.24.0", Source: "dpkg"},
				},
			},
		},
	}

	g := buildGraph(t, snap)

	families := g.NodesOfKind(KindSoftwareFamily)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.Attrs["name"].(string))
	}

	assert.ElementsMatch(t, []string{"python", "nginx"}, names)

	// Both python editions collapse onto one family.
	assert.True(t, g.HasEdge("SoftwareInstance:192.168.56.20:python3:3.12.1", "SoftwareFamily:python", RelInstanceOf))
	assert.True(t, g.HasEdge("SoftwareInstance:192.168.56.20:python:2.7.18", "SoftwareFamily:python", RelInstanceOf))
}

func TestBuildUsersAndSessions(t *testing.T) {
	snap := labSnapshot()
	snap.Phase2 = map[string]*models.HostRecord{
		"192.168.56.20": {
			SchemaVersion: models.SchemaVersion,
			Users: &models.UsersRecord{
				SystemUsers: []models.AccountInfo{
					{Username: "vagrant", UID: 1000, Roles: []string{"human", "sudo-admin"}, Groups: []string{"sudo"}},
				},
				LoggedUsers: []models.SessionInfo{
					{Username: "vagrant", Terminal: "pts/0", Host: "192.168.56.1", Started: 1700000000},
					{Username: "ghost", Terminal: "pts/1", Started: 1700000100},
				},
			},
			Services: &models.ServicesRecord{
				Processes: []models.ProcessInfo{
					{PID: 2000, Name: "bash", Username: "vagrant", ProcessType: models.ProcessTypeUser},
				},
			},
		},
	}

	g := buildGraph(t, snap)

	hostID := "Host:192.168.56.20"
	userID := "User:192.168.56.20:vagrant"

	assert.True(t, g.HasEdge(hostID, userID, RelHasAccount))
	assert.True(t, g.HasEdge(userID, "Role:sudo-admin", RelHasRole))
	assert.True(t, g.HasEdge(userID, "Group:sudo", RelMemberOf))
	assert.True(t, g.HasEdge(userID, "Process:192.168.56.20:2000", RelRunsProcess))

	sessID := "Session:192.168.56.20:vagrant:pts/0:192.168.56.1:1700000000"
	assert.True(t, g.HasEdge(hostID, sessID, RelHasSession))
	assert.True(t, g.HasEdge(sessID, userID, RelSessionUser))

	// A session whose account was not enumerated still gets a user node.
	ghostID := "User:192.168.56.20:ghost"
	assert.True(t, g.HasEdge(hostID, ghostID, RelHasAccount))
}

func TestGetOrCreateHostMergesIPAndHostname(t *testing.T) {
	b := NewBuilder(logger.NewTestLogger())

	byIP := b.GetOrCreateHost("192.168.56.20", "")
	byBoth := b.GetOrCreateHost("192.168.56.20", "target")
	byName := b.GetOrCreateHost("", "target")

	assert.Equal(t, byIP, byBoth)
	assert.Equal(t, byIP, byName)
	assert.Equal(t, 1, b.Graph().NodeCount())
}

func TestBuildIsDeterministic(t *testing.T) {
	snap := labSnapshot()
	snap.Phase2 = map[string]*models.HostRecord{
		"192.168.56.20": {
			SchemaVersion: models.SchemaVersion,
			OS:            &models.OSInfo{Hostname: "target", System: "Linux", Release: "6.8"},
			Services: &models.ServicesRecord{
				Processes: []models.ProcessInfo{
					{PID: 1, Name: "systemd", ProcessType: models.ProcessTypeSystem},
				},
			},
		},
	}

	first := buildGraph(t, snap)
	second := buildGraph(t, snap)

	assert.Equal(t, first.NodeCount(), second.NodeCount())
	assert.Equal(t, first.EdgeCount(), second.EdgeCount())
	assert.Equal(t, first.EdgeHistogram(), second.EdgeHistogram())
}

func TestBuildEmptyDiscovery(t *testing.T) {
	snap := &models.Snapshot{
		SnapshotID:  "empty-run",
		CollectedAt: time.Now().UTC(),
		ScannerHost: models.ScannerHost{
			Hostname: "scanner",
			Network:  models.NetworkInfo{IP: "192.168.56.10"},
		},
	}

	g := buildGraph(t, snap)

	assert.Len(t, g.NodesOfKind(KindHost), 1)
	assert.Empty(t, g.NodesOfKind(KindNetwork))
	assert.Len(t, g.NodesOfKind(KindMetrics), 1)
}

func TestBuildNATInfrastructure(t *testing.T) {
	snap := labSnapshot()
	snap.Infrastructure = &models.Infrastructure{
		NAT: &models.NATSummary{Present: true, CIDR: "10.0.2.0/24", Gateway: "10.0.2.2", Role: "egress"},
	}

	g := buildGraph(t, snap)

	natID := "Network:10.0.2.0/24"

	nat, ok := g.Node(natID)
	require.True(t, ok)
	assert.Equal(t, true, nat.Attrs["nat"])
	assert.Equal(t, "egress", nat.Attrs["role"])

	assert.True(t, g.HasEdge("Host:192.168.56.10", natID, RelObserved))
	assert.True(t, g.HasEdge("IP:10.0.2.2", natID, RelInNetwork))
}

func TestBuildSocketFallbackProcess(t *testing.T) {
	snap := labSnapshot()
	snap.Phase2 = map[string]*models.HostRecord{
		"192.168.56.20": {
			SchemaVersion: models.SchemaVersion,
			Network: &models.NetworkRecord{
				ListeningPorts: []models.SocketRecord{
					{
						LAddr:     &models.SocketAddr{IP: "127.0.0.1", Port: 631},
						Protocol:  "tcp",
						PID:       777,
						Direction: models.DirectionListening,
						Bind:      models.BindLoopback,
						Exposure:  models.ExposureLocal,
						Status:    "LISTEN",
						Process:   &models.ProcessRef{Name: "cupsd", Username: "root"},
					},
				},
			},
		},
	}

	g := buildGraph(t, snap)

	// The pid was missing from the process list, so the socket attribution
	// seeds a minimal process node.
	proc, ok := g.Node("Process:192.168.56.20:777")
	require.True(t, ok)
	assert.Equal(t, "cupsd", proc.Attrs["name"])
	assert.True(t, g.HasEdge("Host:192.168.56.20", proc.ID, RelRuns))
}
