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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureReturnsSameNodeForSameIdentity(t *testing.T) {
	g := New()

	first := g.Ensure(KindHost, "192.168.56.20", map[string]any{"ip": "192.168.56.20"})
	second := g.Ensure(KindHost, "192.168.56.20", nil)

	assert.Same(t, first, second)
	assert.Equal(t, "Host:192.168.56.20", first.ID)
	assert.Equal(t, KindHost, first.Kind)
	assert.Equal(t, 1, g.NodeCount())
}

func TestEnsureDistinguishesKinds(t *testing.T) {
	g := New()

	host := g.Ensure(KindHost, "web-01", nil)
	ip := g.Ensure(KindIP, "web-01", nil)

	assert.NotEqual(t, host.ID, ip.ID)
	assert.Equal(t, 2, g.NodeCount())
}

func TestEnsureFirstObservationWins(t *testing.T) {
	g := New()

	g.Ensure(KindHost, "h", map[string]any{"type": "ssh_service"})
	node := g.Ensure(KindHost, "h", map[string]any{"type": "unknown", "os_hint": "linux_like"})

	assert.Equal(t, "ssh_service", node.Attrs["type"])
	assert.Equal(t, "linux_like", node.Attrs["os_hint"])
}

func TestEnsureDropsNonScalarAttrs(t *testing.T) {
	g := New()

	node := g.Ensure(KindHost, "h", map[string]any{
		"ip":    "10.0.0.1",
		"ports": []int{22, 80},
		"tags":  map[string]string{"env": "lab"},
	})

	assert.Equal(t, "10.0.0.1", node.Attrs["ip"])
	assert.NotContains(t, node.Attrs, "ports")
	assert.NotContains(t, node.Attrs, "tags")
}

func TestAddEdgeDeduplicates(t *testing.T) {
	g := New()

	g.Ensure(KindHost, "a", nil)
	g.Ensure(KindIP, "10.0.0.1", nil)

	assert.True(t, g.AddEdge("Host:a", "IP:10.0.0.1", RelHasIP))
	assert.False(t, g.AddEdge("Host:a", "IP:10.0.0.1", RelHasIP))

	// A different rel type between the same pair is a new edge.
	assert.True(t, g.AddEdge("Host:a", "IP:10.0.0.1", RelObserved))

	assert.Equal(t, 2, g.EdgeCount())
	assert.True(t, g.HasEdge("Host:a", "IP:10.0.0.1", RelHasIP))
	assert.False(t, g.HasEdge("IP:10.0.0.1", "Host:a", RelHasIP))
}

func TestNodesInsertionOrder(t *testing.T) {
	g := New()

	g.Ensure(KindSnapshot, "s1", nil)
	g.Ensure(KindHost, "h1", nil)
	g.Ensure(KindHost, "h2", nil)
	g.Ensure(KindHost, "h1", nil)

	nodes := g.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, "Snapshot:s1", nodes[0].ID)
	assert.Equal(t, "Host:h1", nodes[1].ID)
	assert.Equal(t, "Host:h2", nodes[2].ID)

	hosts := g.NodesOfKind(KindHost)
	require.Len(t, hosts, 2)
	assert.Equal(t, "Host:h1", hosts[0].ID)
}

func TestEdgeHistogram(t *testing.T) {
	g := New()

	g.AddEdge("a", "b", RelRuns)
	g.AddEdge("a", "c", RelRuns)
	g.AddEdge("a", "d", RelExposes)

	hist := g.EdgeHistogram()

	assert.Equal(t, 2, hist[RelRuns])
	assert.Equal(t, 1, hist[RelExposes])
}

func TestEdgesFrom(t *testing.T) {
	g := New()

	g.AddEdge("Host:h", "Process:h:1", RelRuns)
	g.AddEdge("Host:h", "Process:h:2", RelRuns)
	g.AddEdge("Host:h", "Port:h:tcp:0.0.0.0:22", RelExposes)
	g.AddEdge("Host:x", "Process:x:1", RelRuns)

	edges := g.EdgesFrom("Host:h", RelRuns)
	require.Len(t, edges, 2)
	assert.Equal(t, "Process:h:1", edges[0].Dst)
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar(nil))
	assert.True(t, IsScalar("s"))
	assert.True(t, IsScalar(true))
	assert.True(t, IsScalar(int32(7)))
	assert.True(t, IsScalar(uint64(7)))
	assert.True(t, IsScalar(3.14))

	assert.False(t, IsScalar([]int{1}))
	assert.False(t, IsScalar(map[string]any{}))
	assert.False(t, IsScalar(struct{}{}))
}
