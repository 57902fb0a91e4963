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

// Package graph holds the typed provenance graph: an arena of nodes keyed
// by identity string and de-duplicated typed edges between them.
package graph

// Node kinds. The kind is the identity prefix; host-scoped kinds embed the
// host key to prevent cross-host collision.
const (
	KindSnapshot         = "Snapshot"
	KindHost             = "Host"
	KindInterface        = "Interface"
	KindIP               = "IP"
	KindNetwork          = "Network"
	KindDiscovery        = "Discovery"
	KindPort             = "Port"
	KindProcess          = "Process"
	KindSocket           = "Socket"
	KindUser             = "User"
	KindSession          = "Session"
	KindRole             = "Role"
	KindGroup            = "Group"
	KindOSFamily         = "OSFamily"
	KindOSInstance       = "OSInstance"
	KindSoftwareFamily   = "SoftwareFamily"
	KindSoftwareInstance = "SoftwareInstance"
	KindExecutable       = "Executable"
	KindCPU              = "CPU"
	KindMemory           = "Memory"
	KindDisk             = "Disk"
	KindMetrics          = "Metrics"
)

// Relationship types. One edge per (src, dst, rel_type) triple.
const (
	RelOnHost       = "ON_HOST"
	RelHasInterface = "HAS_INTERFACE"
	RelHasIP        = "HAS_IP"
	RelInNetwork    = "IN_NETWORK"
	RelPerformed    = "PERFORMED"
	RelDiscovered   = "DISCOVERED"
	RelRunsOS       = "RUNS_OS"
	RelInstanceOf   = "INSTANCE_OF"
	RelHasHardware  = "HAS_HARDWARE"
	RelRuns         = "RUNS"
	RelExposes      = "EXPOSES"
	RelBindsTo      = "BINDS_TO"
	RelBindsIP      = "BINDS_IP"
	RelUsesSocket   = "USES_SOCKET"
	RelConnectsTo   = "CONNECTS_TO"
	RelSpawnedBy    = "SPAWNED_BY"
	RelHasInstalled = "HAS_INSTALLED"
	RelExecutes     = "EXECUTES"
	RelPartOf       = "PART_OF"
	RelHasAccount   = "HAS_ACCOUNT"
	RelHasSession   = "HAS_SESSION"
	RelSessionUser  = "SESSION_USER"
	RelHasRole      = "HAS_ROLE"
	RelMemberOf     = "MEMBER_OF"
	RelRunsProcess  = "RUNS_PROCESS"
	RelObserved     = "OBSERVED"
	RelHasMetrics   = "HAS_METRICS"
)

// Node is one graph entity. Attrs hold scalars only; complex values are
// flattened or stringified by the builder before they get here.
type Node struct {
	ID    string
	Kind  string
	Attrs map[string]any
}

// Edge is a typed directed edge referencing node identity keys, not
// pointers. The graph is cyclic in general.
type Edge struct {
	Src     string
	Dst     string
	RelType string
}

// Graph is the arena. Not safe for concurrent mutation; the builder is the
// only writer.
type Graph struct {
	nodes   map[string]*Node
	order   []string
	edges   []Edge
	edgeSet map[Edge]struct{}
}

func New() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edgeSet: make(map[Edge]struct{}),
	}
}

// NodeID builds the canonical identity string for a kind and key.
func NodeID(kind, key string) string {
	return kind + ":" + key
}

// Ensure returns the node for (kind, key), creating it if absent. Attrs are
// merged into the existing node; existing values win so the first
// observation is authoritative.
func (g *Graph) Ensure(kind, key string, attrs map[string]any) *Node {
	id := NodeID(kind, key)

	node, ok := g.nodes[id]
	if !ok {
		node = &Node{ID: id, Kind: kind, Attrs: map[string]any{"kind": kind}}
		g.nodes[id] = node
		g.order = append(g.order, id)
	}

	for k, v := range attrs {
		if _, exists := node.Attrs[k]; !exists && IsScalar(v) {
			node.Attrs[k] = v
		}
	}

	return node
}

// Node looks up a node by identity string.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]

	return n, ok
}

// AddEdge inserts a typed edge unless the identical triple already exists.
// Reports whether the edge was added.
func (g *Graph) AddEdge(src, dst, relType string) bool {
	e := Edge{Src: src, Dst: dst, RelType: relType}

	if _, dup := g.edgeSet[e]; dup {
		return false
	}

	g.edgeSet[e] = struct{}{}
	g.edges = append(g.edges, e)

	return true
}

// HasEdge reports whether the exact triple exists.
func (g *Graph) HasEdge(src, dst, relType string) bool {
	_, ok := g.edgeSet[Edge{Src: src, Dst: dst, RelType: relType}]

	return ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}

	return out
}

// NodesOfKind returns nodes of one kind in insertion order.
func (g *Graph) NodesOfKind(kind string) []*Node {
	var out []*Node

	for _, id := range g.order {
		if n := g.nodes[id]; n.Kind == kind {
			out = append(out, n)
		}
	}

	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// EdgesFrom returns edges of one rel type leaving src.
func (g *Graph) EdgesFrom(src, relType string) []Edge {
	var out []Edge

	for _, e := range g.edges {
		if e.Src == src && e.RelType == relType {
			out = append(out, e)
		}
	}

	return out
}

func (g *Graph) NodeCount() int { return len(g.nodes) }
func (g *Graph) EdgeCount() int { return len(g.edges) }

// EdgeHistogram counts edges per rel type.
func (g *Graph) EdgeHistogram() map[string]int {
	hist := make(map[string]int)

	for _, e := range g.edges {
		hist[e.RelType]++
	}

	return hist
}

// IsScalar reports whether v is storable as a node attribute: string,
// number, boolean or nil.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
