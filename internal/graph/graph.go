// Package graph builds and validates the dependency DAG for one pipeline.
package graph

import (
	"fmt"
	"strings"

	"github.com/flexinfer/datapipe/pkg/types"
)

// UnknownDependencyError reports a node depending on a name that is not in
// the node set.
type UnknownDependencyError struct {
	Node       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("node %q depends on unknown node %q", e.Node, e.Dependency)
}

// CycleError reports a dependency cycle. Path is the cycle itself: the
// first and last entries name the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Graph is an immutable, validated dependency graph for one pipeline run.
// Forward edges point dependency -> dependent; reverse edges point
// node -> its dependencies. The two edge sets are mirror images.
type Graph struct {
	nodes map[string]*types.NodeConfig
	order []string // declaration order

	forward map[string][]string
	reverse map[string][]string
}

// New builds a Graph from the node list. It fails when a node is invalid,
// a dependency name is unknown, or the graph contains a cycle, so invalid
// graphs never reach execution.
func New(nodes []types.NodeConfig) (*Graph, error) {
	g := &Graph{
		nodes:   make(map[string]*types.NodeConfig, len(nodes)),
		order:   make([]string, 0, len(nodes)),
		forward: make(map[string][]string, len(nodes)),
		reverse: make(map[string][]string, len(nodes)),
	}

	for i := range nodes {
		n := &nodes[i]
		if err := n.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.nodes[n.Name]; exists {
			return nil, fmt.Errorf("duplicate node name %q", n.Name)
		}
		g.nodes[n.Name] = n
		g.order = append(g.order, n.Name)
	}

	for _, name := range g.order {
		for _, dep := range g.nodes[name].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownDependencyError{Node: name, Dependency: dep}
			}
			g.forward[dep] = append(g.forward[dep], name)
			g.reverse[name] = append(g.reverse[name], dep)
		}
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}

	return g, nil
}

// Node returns the configuration for a node name.
func (g *Graph) Node(name string) (*types.NodeConfig, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names returns all node names in declaration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// DirectDependencies returns a node's declared dependencies.
func (g *Graph) DirectDependencies(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, len(n.DependsOn))
	copy(out, n.DependsOn)
	return out
}

// detectCycle runs a depth-first traversal maintaining the current path.
// A node re-encountered while still on the path indicates a cycle; the
// returned error reports the full cycle for diagnostics.
func (g *Graph) detectCycle() error {
	const (
		unvisited = 0
		onPath    = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))
	var path []string

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		state[name] = onPath
		path = append(path, name)

		for _, next := range g.forward[name] {
			switch state[next] {
			case onPath:
				// Trim the path down to where the cycle starts.
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), next)
				return &CycleError{Path: cycle}
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	for _, name := range g.order {
		if state[name] == unvisited {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns an execution order in which every node appears
// after all of its dependencies (Kahn's algorithm). Nodes that become
// eligible simultaneously keep their declaration order, so the output is
// deterministic.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		indegree[name] = len(g.reverse[name])
	}

	var queue []string
	for _, name := range g.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		for _, next := range g.forward[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Construction already rejected cycles; this guards against misuse.
	if len(result) != len(g.order) {
		return nil, &CycleError{Path: g.remaining(result)}
	}
	return result, nil
}

// ExecutionLayers groups nodes into the minimal number of
// dependency-respecting layers. All nodes within one layer are mutually
// independent and eligible for concurrent execution.
func (g *Graph) ExecutionLayers() ([][]string, error) {
	indegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		indegree[name] = len(g.reverse[name])
	}

	remaining := len(g.order)
	var layers [][]string
	for remaining > 0 {
		var layer []string
		for _, name := range g.order {
			if indegree[name] == 0 {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			return nil, &CycleError{Path: g.remaining(flatten(layers))}
		}

		for _, name := range layer {
			indegree[name] = -1 // peeled
			for _, next := range g.forward[name] {
				indegree[next]--
			}
		}

		layers = append(layers, layer)
		remaining -= len(layer)
	}
	return layers, nil
}

// DependenciesOf returns the transitive closure of a node's dependencies
// via breadth-first traversal of reverse edges. Used by diagnostics, not
// by the execution path.
func (g *Graph) DependenciesOf(name string) []string {
	return g.traverse(name, g.reverse)
}

// DependentsOf returns the transitive closure of a node's dependents via
// breadth-first traversal of forward edges.
func (g *Graph) DependentsOf(name string) []string {
	return g.traverse(name, g.forward)
}

func (g *Graph) traverse(name string, edges map[string][]string) []string {
	seen := map[string]bool{name: true}
	queue := []string{name}
	var out []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edges[cur] {
			if !seen[next] {
				seen[next] = true
				out = append(out, next)
				queue = append(queue, next)
			}
		}
	}
	return out
}

// remaining lists nodes not present in done, for cycle diagnostics.
func (g *Graph) remaining(done []string) []string {
	seen := make(map[string]bool, len(done))
	for _, name := range done {
		seen[name] = true
	}
	var out []string
	for _, name := range g.order {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

func flatten(layers [][]string) []string {
	var out []string
	for _, l := range layers {
		out = append(out, l...)
	}
	return out
}
