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
	"math"
	"strings"

	"github.com/provlab/provscan/pkg/models"
)

// Usernames treated as privileged for listener accounting.
var privilegedUsers = map[string]struct{}{
	"root":                 {},
	"system":               {},
	"nt authority\\system": {},
	"local service":        {},
	"network service":      {},
}

// attachMetrics computes run metrics over the finished graph and attaches
// them as a Metrics node on the snapshot root.
func (b *Builder) attachMetrics(snapID string) {
	m := ComputeMetrics(b.g)

	attrs := map[string]any{
		"total_nodes":                 m.TotalNodes,
		"total_edges":                 m.TotalEdges,
		"hosts":                       m.Hosts,
		"ports_total":                 m.PortsTotal,
		"ports_public":                m.PortsPublic,
		"ports_local":                 m.PortsLocal,
		"ports_internal":              m.PortsInternal,
		"ports_with_pid":              m.PortsWithPID,
		"processes_total":             m.ProcessesTotal,
		"system_processes":            m.ProcessesSystem,
		"processes_system_share":      m.ProcessesSystemShare,
		"pid_coverage":                m.PIDCoverage,
		"process_density":             m.ProcessDensity,
		"public_exposure_ratio":       m.PublicExposureRatio,
		"privileged_public_listeners": m.PrivilegedPublicListeners,
		"attack_surface_entropy":      m.AttackSurfaceEntropy,
		"attribution_confidence":      m.AttributionConfidence,
	}

	for rel, count := range m.EdgeHistogram {
		attrs["edges_"+strings.ToLower(rel)] = count
	}

	key := strings.TrimPrefix(snapID, KindSnapshot+":")
	node := b.g.Ensure(KindMetrics, key, attrs)

	b.g.AddEdge(snapID, node.ID, RelHasMetrics)
}

// Metrics is the derived summary of one graph.
type Metrics struct {
	TotalNodes int
	TotalEdges int
	Hosts      int

	PortsTotal    int
	PortsPublic   int
	PortsLocal    int
	PortsInternal int
	PortsWithPID  int

	ProcessesTotal       int
	ProcessesSystem      int
	ProcessesSystemShare float64

	PIDCoverage               float64
	ProcessDensity            float64
	PublicExposureRatio       float64
	PrivilegedPublicListeners int
	AttackSurfaceEntropy      float64
	AttributionConfidence     float64

	EdgeHistogram map[string]int
}

// ComputeMetrics derives run metrics from the graph alone; it does not
// mutate it.
func ComputeMetrics(g *Graph) *Metrics {
	m := &Metrics{
		TotalNodes:    g.NodeCount(),
		TotalEdges:    g.EdgeCount(),
		Hosts:         len(g.NodesOfKind(KindHost)),
		EdgeHistogram: g.EdgeHistogram(),
	}

	for _, port := range g.NodesOfKind(KindPort) {
		m.PortsTotal++

		switch port.Attrs["exposure"] {
		case string(models.ExposurePublic):
			m.PortsPublic++
		case string(models.ExposureLocal):
			m.PortsLocal++
		case string(models.ExposureInternal):
			m.PortsInternal++
		}

		if hasPID, _ := port.Attrs["has_pid"].(bool); hasPID {
			m.PortsWithPID++
		}
	}

	processesWithoutUser := 0

	for _, proc := range g.NodesOfKind(KindProcess) {
		m.ProcessesTotal++

		if proc.Attrs["process_type"] == models.ProcessTypeSystem {
			m.ProcessesSystem++
		}

		if user, _ := proc.Attrs["username"].(string); user == "" {
			processesWithoutUser++
		}
	}

	if m.PortsTotal > 0 {
		m.PIDCoverage = float64(m.PortsWithPID) / float64(m.PortsTotal)
		m.PublicExposureRatio = float64(m.PortsPublic) / float64(m.PortsTotal)
	}

	if m.Hosts > 0 {
		m.ProcessDensity = float64(m.ProcessesTotal) / float64(m.Hosts)
	}

	userAttribution := 0.0

	if m.ProcessesTotal > 0 {
		m.ProcessesSystemShare = float64(m.ProcessesSystem) / float64(m.ProcessesTotal)
		userAttribution = 1 - float64(processesWithoutUser)/float64(m.ProcessesTotal)
	}

	m.AttributionConfidence = (m.PIDCoverage + userAttribution) / 2
	m.AttackSurfaceEntropy = shannonEntropy(m.PortsPublic, m.PortsLocal, m.PortsInternal)
	m.PrivilegedPublicListeners = privilegedPublicListeners(g)

	return m
}

// shannonEntropy over the exposure class distribution, in bits. Maximum is
// log2(3) when all three classes are equally populated.
func shannonEntropy(counts ...int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}

	if total == 0 {
		return 0
	}

	entropy := 0.0

	for _, c := range counts {
		if c == 0 {
			continue
		}

		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// privilegedPublicListeners counts distinct processes owned by a privileged
// user that bind a public port, walking Process -USES_SOCKET-> Socket
// -BINDS_TO-> Port.
func privilegedPublicListeners(g *Graph) int {
	publicPorts := make(map[string]struct{})

	for _, port := range g.NodesOfKind(KindPort) {
		if port.Attrs["exposure"] == string(models.ExposurePublic) {
			publicPorts[port.ID] = struct{}{}
		}
	}

	socketToPublic := make(map[string]struct{})
	socketToProcess := make(map[string][]string)

	for _, e := range g.Edges() {
		switch e.RelType {
		case RelBindsTo:
			if _, ok := publicPorts[e.Dst]; ok {
				socketToPublic[e.Src] = struct{}{}
			}
		case RelUsesSocket:
			socketToProcess[e.Dst] = append(socketToProcess[e.Dst], e.Src)
		}
	}

	counted := make(map[string]struct{})

	for socketID := range socketToPublic {
		for _, procID := range socketToProcess[socketID] {
			proc, ok := g.Node(procID)
			if !ok {
				continue
			}

			user, _ := proc.Attrs["username"].(string)
			if _, priv := privilegedUsers[strings.ToLower(user)]; priv {
				counted[procID] = struct{}{}
			}
		}
	}

	return len(counted)
}
