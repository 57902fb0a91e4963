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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provlab/provscan/pkg/models"
)

func portNode(g *Graph, key string, exposure models.Exposure, hasPID bool) {
	g.Ensure(KindPort, key, map[string]any{
		"exposure": string(exposure),
		"has_pid":  hasPID,
	})
}

func TestComputeMetricsCounts(t *testing.T) {
	g := New()

	g.Ensure(KindHost, "h1", nil)
	g.Ensure(KindHost, "h2", nil)

	portNode(g, "h1:tcp:0.0.0.0:22", models.ExposurePublic, true)
	portNode(g, "h1:tcp:127.0.0.1:631", models.ExposureLocal, true)
	portNode(g, "h2:tcp:10.0.0.5:5432", models.ExposureInternal, false)
	portNode(g, "h2:tcp:0.0.0.0:80", models.ExposurePublic, false)

	g.Ensure(KindProcess, "h1:1", map[string]any{"username": "root", "process_type": models.ProcessTypeSystem})
	g.Ensure(KindProcess, "h1:2", map[string]any{"username": "vagrant", "process_type": models.ProcessTypeUser})
	g.Ensure(KindProcess, "h2:3", map[string]any{"username": "", "process_type": models.ProcessTypeUnknown})

	m := ComputeMetrics(g)

	assert.Equal(t, 2, m.Hosts)
	assert.Equal(t, 4, m.PortsTotal)
	assert.Equal(t, 2, m.PortsPublic)
	assert.Equal(t, 1, m.PortsLocal)
	assert.Equal(t, 1, m.PortsInternal)
	assert.Equal(t, 2, m.PortsWithPID)
	assert.Equal(t, 3, m.ProcessesTotal)
	assert.Equal(t, 1, m.ProcessesSystem)

	assert.InDelta(t, 0.5, m.PIDCoverage, 1e-9)
	assert.InDelta(t, 0.5, m.PublicExposureRatio, 1e-9)
	assert.InDelta(t, 1.5, m.ProcessDensity, 1e-9)
	assert.InDelta(t, 1.0/3, m.ProcessesSystemShare, 1e-9)

	// (0.5 + (1 - 1/3)) / 2
	assert.InDelta(t, 7.0/12, m.AttributionConfidence, 1e-9)

	// Distribution {2,1,1} over 4 ports.
	assert.InDelta(t, 1.5, m.AttackSurfaceEntropy, 1e-9)
}

func TestComputeMetricsBounds(t *testing.T) {
	g := buildGraph(t, labSnapshot())

	m := ComputeMetrics(g)

	assert.GreaterOrEqual(t, m.AttributionConfidence, 0.0)
	assert.LessOrEqual(t, m.AttributionConfidence, 1.0)
	assert.GreaterOrEqual(t, m.PublicExposureRatio, 0.0)
	assert.LessOrEqual(t, m.PublicExposureRatio, 1.0)
	assert.GreaterOrEqual(t, m.AttackSurfaceEntropy, 0.0)
	assert.LessOrEqual(t, m.AttackSurfaceEntropy, math.Log2(3))
}

func TestComputeMetricsEmptyGraph(t *testing.T) {
	m := ComputeMetrics(New())

	assert.Zero(t, m.PIDCoverage)
	assert.Zero(t, m.PublicExposureRatio)
	assert.Zero(t, m.ProcessDensity)
	assert.Zero(t, m.AttackSurfaceEntropy)
	assert.Zero(t, m.AttributionConfidence)
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, shannonEntropy())
	assert.Zero(t, shannonEntropy(0, 0, 0))
	assert.Zero(t, shannonEntropy(5, 0, 0))
	assert.InDelta(t, 1.0, shannonEntropy(3, 3), 1e-9)
	assert.InDelta(t, math.Log2(3), shannonEntropy(2, 2, 2), 1e-9)
}

func TestPrivilegedPublicListeners(t *testing.T) {
	g := New()

	portNode(g, "h:tcp:0.0.0.0:22", models.ExposurePublic, true)
	portNode(g, "h:tcp:127.0.0.1:631", models.ExposureLocal, true)

	g.Ensure(KindProcess, "h:1", map[string]any{"username": "root"})
	g.Ensure(KindProcess, "h:2", map[string]any{"username": "NT AUTHORITY\\SYSTEM"})
	g.Ensure(KindProcess, "h:3", map[string]any{"username": "vagrant"})

	g.Ensure(KindSocket, "s1", nil)
	g.Ensure(KindSocket, "s2", nil)
	g.Ensure(KindSocket, "s3", nil)

	g.AddEdge("Process:h:1", "Socket:s1", RelUsesSocket)
	g.AddEdge("Socket:s1", "Port:h:tcp:0.0.0.0:22", RelBindsTo)

	g.AddEdge("Process:h:2", "Socket:s2", RelUsesSocket)
	g.AddEdge("Socket:s2", "Port:h:tcp:0.0.0.0:22", RelBindsTo)

	// Unprivileged public listener does not count.
	g.AddEdge("Process:h:3", "Socket:s3", RelUsesSocket)
	g.AddEdge("Socket:s3", "Port:h:tcp:0.0.0.0:22", RelBindsTo)

	assert.Equal(t, 2, privilegedPublicListeners(g))
}

func TestPrivilegedLocalListenerNotCounted(t *testing.T) {
	g := New()

	portNode(g, "h:tcp:127.0.0.1:631", models.ExposureLocal, true)
	g.Ensure(KindProcess, "h:1", map[string]any{"username": "root"})
	g.Ensure(KindSocket, "s1", nil)

	g.AddEdge("Process:h:1", "Socket:s1", RelUsesSocket)
	g.AddEdge("Socket:s1", "Port:h:tcp:127.0.0.1:631", RelBindsTo)

	assert.Zero(t, privilegedPublicListeners(g))
}

func TestMetricsNodeAttachedToSnapshot(t *testing.T) {
	g := buildGraph(t, labSnapshot())

	metrics := g.NodesOfKind(KindMetrics)
	require.Len(t, metrics, 1)

	snapID := "Snapshot:11111111-2222-3333-4444-555555555555"
	assert.True(t, g.HasEdge(snapID, metrics[0].ID, RelHasMetrics))

	// The edge histogram is flattened into edges_* attributes.
	assert.Contains(t, metrics[0].Attrs, "edges_discovered")
	assert.Contains(t, metrics[0].Attrs, "total_nodes")
}

func TestNormalizeSoftwareFamily(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"python3", "python"},
		{"Python", "python"},
		{"python3.12", "python"},
		{"nodejs", "node"},
		{"openjdk", "java"},
		{"nginx", "nginx"},
		{"libssl3", "libssl"},
		{"gcc-12", "gcc"},
		{"7zip", "7zip"},
		{"389", "389"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSoftwareFamily(tt.in))
		})
	}
}
