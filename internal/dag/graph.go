// Package dag builds a display graph from a pipeline run: step and
// artifact nodes, dependency edges, and stable topological layers for
// rendering. Run payloads come from the control plane and are not
// trusted to be well-formed; Build rejects unknown references and
// cycles instead of hanging the layering pass.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"mlbridge/sidecar/internal/controlplane"
)

// NodeKind discriminates graph nodes.
type NodeKind string

const (
	NodeStep     NodeKind = "step"
	NodeArtifact NodeKind = "artifact"
)

// Node is one vertex of the run graph.
type Node struct {
	ID     string
	Kind   NodeKind
	Name   string
	Status string // steps only
	Type   string // artifacts only
}

// Graph is the run's execution graph. Edges point downstream
// (producer -> consumer).
type Graph struct {
	RunID string
	Nodes map[string]*Node
	Edges map[string][]string

	layers [][]string
}

// =============================================================================
// Construction
// =============================================================================

// Build assembles the graph for a run: one node per step and artifact,
// edges for step ordering (after), artifact production (outputs) and
// consumption (inputs). Returns an error for references to unknown
// nodes and for dependency cycles.
func Build(detail *controlplane.RunDetail) (*Graph, error) {
	g := &Graph{
		RunID: detail.ID,
		Nodes: make(map[string]*Node),
		Edges: make(map[string][]string),
	}

	for _, s := range detail.Steps {
		if _, dup := g.Nodes[s.ID]; dup {
			return nil, fmt.Errorf("duplicate step id %s", s.ID)
		}
		g.Nodes[s.ID] = &Node{ID: s.ID, Kind: NodeStep, Name: s.Name, Status: s.Status}
	}
	for _, a := range detail.Artifacts {
		if _, dup := g.Nodes[a.ID]; dup {
			return nil, fmt.Errorf("duplicate artifact id %s", a.ID)
		}
		g.Nodes[a.ID] = &Node{ID: a.ID, Kind: NodeArtifact, Name: a.Name, Type: a.Type}
	}

	for _, s := range detail.Steps {
		for _, dep := range s.After {
			if _, ok := g.Nodes[dep]; !ok {
				return nil, fmt.Errorf("step %s depends on unknown step %s", s.ID, dep)
			}
			g.addEdge(dep, s.ID)
		}
		for _, in := range s.Inputs {
			if _, ok := g.Nodes[in]; !ok {
				return nil, fmt.Errorf("step %s consumes unknown artifact %s", s.ID, in)
			}
			g.addEdge(in, s.ID)
		}
		for _, out := range s.Outputs {
			if _, ok := g.Nodes[out]; !ok {
				return nil, fmt.Errorf("step %s produces unknown artifact %s", s.ID, out)
			}
			g.addEdge(s.ID, out)
		}
	}

	if cycle := g.detectCycle(); cycle != "" {
		return nil, fmt.Errorf("dependency cycle: %s", cycle)
	}
	g.layers = g.layer()
	return g, nil
}

func (g *Graph) addEdge(from, to string) {
	for _, existing := range g.Edges[from] {
		if existing == to {
			return
		}
	}
	g.Edges[from] = append(g.Edges[from], to)
}

// detectCycle finds a dependency cycle using DFS
// (0: unvisited, 1: visiting, 2: visited).
func (g *Graph) detectCycle() string {
	visited := make(map[string]int)
	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visited[id] == 2 {
			return false
		}
		if visited[id] == 1 {
			cyclePath = append(cyclePath, id)
			return true
		}

		visited[id] = 1
		cyclePath = append(cyclePath, id)

		for _, next := range g.Edges[id] {
			if dfs(next) {
				return true
			}
		}

		cyclePath = cyclePath[:len(cyclePath)-1]
		visited[id] = 2
		return false
	}

	for _, id := range g.sortedIDs() {
		cyclePath = nil
		if dfs(id) {
			return strings.Join(cyclePath, " -> ")
		}
	}
	return ""
}

// layer assigns each node the longest-path depth from the roots, so a
// node always renders below everything it depends on. Within a layer,
// IDs sort lexically for a stable display order. Only called on acyclic
// graphs.
func (g *Graph) layer() [][]string {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}
	for _, targets := range g.Edges {
		for _, to := range targets {
			indegree[to]++
		}
	}

	depth := make(map[string]int, len(g.Nodes))
	queue := make([]string, 0, len(g.Nodes))
	for _, id := range g.sortedIDs() {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, to := range g.Edges[id] {
			if d := depth[id] + 1; d > depth[to] {
				depth[to] = d
				if d > maxDepth {
					maxDepth = d
				}
			}
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if len(g.Nodes) == 0 {
		return nil
	}
	layers := make([][]string, maxDepth+1)
	for _, id := range g.sortedIDs() {
		layers[depth[id]] = append(layers[depth[id]], id)
	}
	return layers
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// Queries
// =============================================================================

// Layers returns the display levels, roots first. The slices are shared
// with the graph; callers must not mutate them.
func (g *Graph) Layers() [][]string {
	return g.layers
}

// Downstream returns the IDs directly reachable from id, in insertion
// order.
func (g *Graph) Downstream(id string) []string {
	return g.Edges[id]
}

// Step returns the step node with the given id, or nil.
func (g *Graph) Step(id string) *Node {
	if n := g.Nodes[id]; n != nil && n.Kind == NodeStep {
		return n
	}
	return nil
}

// Artifact returns the artifact node with the given id, or nil.
func (g *Graph) Artifact(id string) *Node {
	if n := g.Nodes[id]; n != nil && n.Kind == NodeArtifact {
		return n
	}
	return nil
}
