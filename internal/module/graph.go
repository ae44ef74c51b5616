package module

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// ErrCircularDependency indicates that modules depend on each other in a cycle.
type ErrCircularDependency struct {
	Cycle []string
}

func (e ErrCircularDependency) Error() string {
	return fmt.Sprintf("circular module dependency detected: %s\nHint: remove one of the dependencies declared in the module manifests", joinNames(e.Cycle))
}

// Graph tracks module dependencies for load ordering. Edges point from a
// dependent module to the module it depends on.
type Graph struct {
	nodes      map[string]struct{}
	incoming   map[string]map[string]struct{}
	outgoing   map[string]map[string]struct{}
	editorOnly map[string]bool
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]struct{}),
		incoming:   make(map[string]map[string]struct{}),
		outgoing:   make(map[string]map[string]struct{}),
		editorOnly: make(map[string]bool),
	}
}

// AddNode ensures the module exists within the graph.
func (g *Graph) AddNode(name string) {
	if _, exists := g.nodes[name]; exists {
		return
	}

	g.nodes[name] = struct{}{}
	g.incoming[name] = make(map[string]struct{})
	g.outgoing[name] = make(map[string]struct{})
}

// AddModule adds a module node and records whether it is editor-only.
func (g *Graph) AddModule(name string, editorOnly bool) {
	g.AddNode(name)
	g.editorOnly[name] = editorOnly
}

// AddEdge records that dependent needs dependency.
func (g *Graph) AddEdge(dependent, dependency string) {
	g.AddNode(dependent)
	g.AddNode(dependency)

	g.outgoing[dependent][dependency] = struct{}{}
	g.incoming[dependency][dependent] = struct{}{}
}

// DetectCycles returns one cycle if present or nil when the graph is acyclic.
func (g *Graph) DetectCycles() []string {
	_, cycle := g.walk()
	return cycle
}

// TopologicalSort returns module names with dependencies first. Each module
// follows right after its own dependencies. Where the order is otherwise free
// runtime modules come before editor-only ones, then names decide.
func (g *Graph) TopologicalSort() ([]string, error) {
	order, cycle := g.walk()
	if cycle != nil {
		return nil, ErrCircularDependency{Cycle: cycle}
	}
	return order, nil
}

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	visited
)

// walk emits modules in depth-first post-order. It stops at the first module
// reached again while its own dependencies are still being visited and
// returns the chain leading back to it.
func (g *Graph) walk() (order, cycle []string) {
	state := make(map[string]visitState, len(g.nodes))
	order = make([]string, 0, len(g.nodes))
	var chain []string

	var visit func(node string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visited:
			return true
		case visiting:
			cycle = slices.Clone(chain[slices.Index(chain, node):])
			return false
		}

		state[node] = visiting
		chain = append(chain, node)
		for _, dependency := range g.ranked(g.outgoing[node]) {
			if !visit(dependency) {
				return false
			}
		}
		chain = chain[:len(chain)-1]
		state[node] = visited
		order = append(order, node)
		return true
	}

	for _, node := range g.ranked(g.nodes) {
		if !visit(node) {
			return nil, cycle
		}
	}
	return order, nil
}

// ranked lists the names of set with runtime modules first.
func (g *Graph) ranked(set map[string]struct{}) []string {
	names := lo.Keys(set)
	slices.SortFunc(names, func(a, b string) int {
		if g.editorOnly[a] != g.editorOnly[b] {
			if g.editorOnly[a] {
				return 1
			}
			return -1
		}
		return strings.Compare(a, b)
	})
	return names
}

// Dependencies returns the sorted dependencies of node.
func (g *Graph) Dependencies(node string) []string {
	return sortedKeys(g.outgoing[node])
}

// Dependents returns the sorted modules relying on node.
func (g *Graph) Dependents(node string) []string {
	return sortedKeys(g.incoming[node])
}

// HasNode reports if the node exists in the graph.
func (g *Graph) HasNode(node string) bool {
	if g == nil {
		return false
	}
	_, ok := g.nodes[node]
	return ok
}

func sortedKeys(set map[string]struct{}) []string {
	if set == nil {
		return nil
	}
	keys := lo.Keys(set)
	slices.Sort(keys)
	return keys
}
