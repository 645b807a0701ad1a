// Package depgraph implements the directed dependency graph that orders
// stack operations.
//
// Nodes are stack identifiers. An edge parent→child records that child
// depends on parent: the parent must exist (or complete) before the child
// is scheduled. The graph is a pure in-memory structure with no I/O; all
// temporal behavior lives in the orchestrator.
//
// The zero value is not usable - use New to create a Graph.
// Graph is not safe for concurrent use without external synchronization.
package depgraph

import (
	"iter"
	"slices"
	"strings"

	"github.com/tobyh/cirrus/pkg/errors"
)

// Graph is a directed dependency graph over stack identifiers.
//
// For every node it tracks both its dependencies (incoming edges) and its
// successors (outgoing edges), so edges can be unlinked from both sides
// when a node is deleted. Adjacency and node iteration preserve insertion
// order, which keeps traversal and scheduling deterministic.
type Graph struct {
	deps       map[string][]string // node -> nodes it depends on
	successors map[string][]string // node -> nodes depending on it
	order      []string            // insertion order of nodes
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		deps:       make(map[string][]string),
		successors: make(map[string][]string),
	}
}

// AddNode adds a node to the graph.
// Returns a DUPLICATE_NODE error if the node is already present.
func (g *Graph) AddNode(id string) error {
	if _, ok := g.deps[id]; ok {
		return errors.New(errors.ErrCodeDuplicateNode, "node %s already present in the graph", id)
	}
	g.deps[id] = nil
	g.successors[id] = nil
	g.order = append(g.order, id)
	return nil
}

// Has reports whether the node exists in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.order) }

// Nodes returns all node identifiers in insertion order.
func (g *Graph) Nodes() []string { return slices.Clone(g.order) }

// AddDependency records that child depends on parent.
//
// Both nodes must already exist; the error names whichever is missing.
// A dependency in the reverse direction of an existing edge between the
// same two nodes is rejected eagerly with a MUTUAL_DEPENDENCY error
// rather than being left for general cycle detection, and a node may not
// depend on itself.
func (g *Graph) AddDependency(parent, child string) error {
	if _, ok := g.deps[parent]; !ok {
		return errors.New(errors.ErrCodeUnknownNode, "node %s not present in graph", parent)
	}
	if _, ok := g.deps[child]; !ok {
		return errors.New(errors.ErrCodeUnknownNode, "node %s not present in graph", child)
	}
	if parent == child || slices.Contains(g.successors[child], parent) {
		return errors.New(errors.ErrCodeMutualDependency, "mutual dependency between %s and %s", parent, child)
	}
	g.successors[parent] = append(g.successors[parent], child)
	g.deps[child] = append(g.deps[child], parent)
	return nil
}

// DeleteNode removes a node and unlinks it from every neighbor's
// dependency and successor sets, leaving no dangling references.
// Returns an UNKNOWN_NODE error if the node is absent.
func (g *Graph) DeleteNode(id string) error {
	if _, ok := g.deps[id]; !ok {
		return errors.New(errors.ErrCodeUnknownNode, "node %s not present in graph", id)
	}
	for _, succ := range g.successors[id] {
		g.deps[succ] = slices.DeleteFunc(g.deps[succ], func(s string) bool { return s == id })
	}
	for _, dep := range g.deps[id] {
		g.successors[dep] = slices.DeleteFunc(g.successors[dep], func(s string) bool { return s == id })
	}
	delete(g.deps, id)
	delete(g.successors, id)
	g.order = slices.DeleteFunc(g.order, func(s string) bool { return s == id })
	return nil
}

// Dependencies returns the nodes the given node depends on.
// Returns an UNKNOWN_NODE error if the node is absent.
func (g *Graph) Dependencies(id string) ([]string, error) {
	deps, ok := g.deps[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownNode, "node %s not present in graph", id)
	}
	return slices.Clone(deps), nil
}

// Successors returns the nodes that depend on the given node.
// Returns an UNKNOWN_NODE error if the node is absent.
func (g *Graph) Successors(id string) ([]string, error) {
	succs, ok := g.successors[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownNode, "node %s not present in graph", id)
	}
	return slices.Clone(succs), nil
}

// EdgeNodes returns all nodes whose dependency set is currently empty,
// in insertion order. These are the nodes ready to execute immediately:
// the scheduling frontier for concurrent execution.
func (g *Graph) EdgeNodes() []string {
	var edge []string
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			edge = append(edge, id)
		}
	}
	return edge
}

// Clone returns an independent copy of the graph. The orchestrator prunes
// a clone during concurrent execution while keeping the original intact.
func (g *Graph) Clone() *Graph {
	c := New()
	c.order = slices.Clone(g.order)
	for id, deps := range g.deps {
		c.deps[id] = slices.Clone(deps)
	}
	for id, succs := range g.successors {
		c.successors[id] = slices.Clone(succs)
	}
	return c
}

// FindCycle returns the ordered sequence of nodes forming one cycle in
// the graph, or nil if the graph is acyclic.
//
// The search is a depth-first traversal over the successor relation that
// builds a spanning forest. When it reaches an already-visited node that
// is not the current node's direct spanning-tree predecessor, it walks
// the spanning-tree parent chain back up to that node to reconstruct the
// cycle. Disconnected components are all explored, and the traversal
// uses an explicit work stack so recursion depth never depends on graph
// size.
func (g *Graph) FindCycle() []string {
	visited := make(map[string]bool, len(g.order))
	spanning := make(map[string]string, len(g.order)) // child -> spanning-tree parent, "" for roots

	type frame struct {
		node string
		next int
	}

	for _, root := range g.order {
		if visited[root] {
			continue
		}
		spanning[root] = ""
		visited[root] = true
		stack := []frame{{node: root}}
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			succs := g.successors[f.node]
			if f.next >= len(succs) {
				stack = stack[:len(stack)-1]
				continue
			}
			next := succs[f.next]
			f.next++
			if !visited[next] {
				spanning[next] = f.node
				visited[next] = true
				stack = append(stack, frame{node: next})
				continue
			}
			if spanning[f.node] == next {
				// Edge back to the immediate predecessor on the current
				// path; not evidence of a cycle on its own.
				continue
			}
			if cycle := cycleToAncestor(spanning, f.node, next); len(cycle) > 0 {
				return cycle
			}
		}
	}
	return nil
}

// cycleToAncestor walks the spanning-tree parent chain from node up to
// ancestor and returns the path in cycle order. Returns nil if the walk
// reaches a root before finding the ancestor, meaning the two nodes are
// in different branches and the revisited edge closes no cycle.
func cycleToAncestor(spanning map[string]string, node, ancestor string) []string {
	var path []string
	for node != ancestor {
		if node == "" {
			return nil
		}
		path = append(path, node)
		node = spanning[node]
	}
	path = append(path, node)
	slices.Reverse(path)
	return path
}

// Traverse returns a lazy, one-shot sequence of nodes in
// dependency-respecting order starting from root, or from an arbitrary
// node if root is empty and the graph is non-empty.
//
// A node is yielded only after all of its recorded dependencies have been
// yielded: the walk only descends into a successor once every one of that
// successor's dependencies has been visited. After the root's component
// is exhausted the walk continues with any remaining node whose
// dependencies are already satisfied, so disconnected components are
// covered too. A node still blocked by an unvisited dependency when the
// walk runs out of ready nodes is not yielded.
//
// The sequence is one-shot: visited state persists across range loops,
// so ranging a second time yields nothing.
func (g *Graph) Traverse(root string) iter.Seq[string] {
	visited := make(map[string]bool, len(g.order))
	return func(yield func(string) bool) {
		if len(g.order) == 0 {
			return
		}
		ready := func(id string) bool {
			for _, dep := range g.deps[id] {
				if !visited[dep] {
					return false
				}
			}
			return true
		}
		var dfs func(node string) bool
		dfs = func(node string) bool {
			visited[node] = true
			if !yield(node) {
				return false
			}
			for _, succ := range g.successors[node] {
				if !visited[succ] && ready(succ) {
					if !dfs(succ) {
						return false
					}
				}
			}
			return true
		}
		if root != "" {
			if !dfs(root) {
				return
			}
		}
		for {
			progressed := false
			for _, id := range g.order {
				if !visited[id] && ready(id) {
					if !dfs(id) {
						return
					}
					progressed = true
				}
			}
			if !progressed {
				return
			}
		}
	}
}

// FormatCycle renders a cycle as "a -> b -> c -> a" for diagnostics.
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ") + " -> " + cycle[0]
}
