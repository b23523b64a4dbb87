// Package dag builds and validates the stage dependency graph used when a
// pipeline declares depends-on edges. The graph works on plain names so it
// can be shared by pipeline validation and the parallel stage runner.
package dag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Graph sentinel errors.
var (
	// ErrDuplicateNode indicates the same node name was declared twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownNode indicates an edge references a node that was never
	// declared.
	ErrUnknownNode = errors.New("unknown node")

	// ErrCycle indicates the graph is not acyclic.
	ErrCycle = errors.New("cycle detected")
)

// Graph is an immutable dependency graph over node names. Nodes keep their
// declaration order; edges point from a node to the nodes it depends on.
type Graph struct {
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

// New validates the node set and its edges and returns the graph. It
// rejects duplicate nodes, edges to unknown nodes, and cycles, so a graph
// that constructs successfully is safe to schedule.
func New(names []string, deps map[string][]string) (*Graph, error) {
	g := &Graph{
		order:      make([]string, 0, len(names)),
		deps:       make(map[string][]string, len(names)),
		dependents: make(map[string][]string, len(names)),
	}

	for _, name := range names {
		if _, exists := g.deps[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, name)
		}
		g.order = append(g.order, name)
		g.deps[name] = nil
	}

	for node, edges := range deps {
		if _, exists := g.deps[node]; !exists {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, node)
		}
		for _, dep := range edges {
			if _, exists := g.deps[dep]; !exists {
				return nil, fmt.Errorf("%w: %q (required by %q)", ErrUnknownNode, dep, node)
			}
			g.deps[node] = append(g.deps[node], dep)
			g.dependents[dep] = append(g.dependents[dep], node)
		}
	}

	if cyclic := g.findCycle(); len(cyclic) > 0 {
		return nil, fmt.Errorf("%w involving: %s", ErrCycle, strings.Join(cyclic, ", "))
	}
	return g, nil
}

// Nodes returns the node names in declaration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Deps returns the direct dependencies of a node.
func (g *Graph) Deps(name string) []string {
	return g.deps[name]
}

// Dependents returns the nodes that directly depend on the given node.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// HasEdges reports whether any node declares a dependency.
func (g *Graph) HasEdges() bool {
	for _, edges := range g.deps {
		if len(edges) > 0 {
			return true
		}
	}
	return false
}

// findCycle runs Kahn's algorithm and returns the nodes left unprocessed,
// which is exactly the set participating in (or downstream of) a cycle.
func (g *Graph) findCycle() []string {
	indegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		indegree[name] = len(g.deps[name])
	}

	queue := make([]string, 0, len(g.order))
	for _, name := range g.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range g.dependents[node] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed == len(g.order) {
		return nil
	}
	remaining := make([]string, 0, len(g.order)-processed)
	for name, degree := range indegree {
		if degree > 0 {
			remaining = append(remaining, name)
		}
	}
	sort.Strings(remaining)
	return remaining
}
