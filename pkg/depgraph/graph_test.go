package depgraph

import (
	"slices"
	"testing"

	"github.com/tobyh/cirrus/pkg/errors"
)

func mustBuild(t *testing.T, nodes []string, edges [][2]string) *Graph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n, err)
		}
	}
	for _, e := range edges {
		if err := g.AddDependency(e[0], e[1]); err != nil {
			t.Fatalf("AddDependency(%s, %s): %v", e[0], e[1], err)
		}
	}
	return g
}

// sampleGraph is the eight-node graph used throughout the scheduling
// tests:
//
//	node1 -> node2, node3, node7
//	node2 -> node4, node5
//	node3 -> node6
//	node7 -> node6
//	node4, node5, node6 -> node8
func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	return mustBuild(t,
		[]string{"node1", "node2", "node3", "node4", "node5", "node6", "node7", "node8"},
		[][2]string{
			{"node1", "node2"}, {"node1", "node3"}, {"node1", "node7"},
			{"node2", "node4"}, {"node2", "node5"},
			{"node3", "node6"}, {"node7", "node6"},
			{"node4", "node8"}, {"node5", "node8"}, {"node6", "node8"},
		})
}

func TestAddNode_Duplicate(t *testing.T) {
	g := New()
	if err := g.AddNode("a"); err != nil {
		t.Fatalf("AddNode(a): %v", err)
	}
	err := g.AddNode("a")
	if !errors.Is(err, errors.ErrCodeDuplicateNode) {
		t.Errorf("AddNode(a) twice: got %v, want DUPLICATE_NODE", err)
	}
}

func TestAddDependency_UnknownNodes(t *testing.T) {
	g := mustBuild(t, []string{"a"}, nil)

	if err := g.AddDependency("missing", "a"); !errors.Is(err, errors.ErrCodeUnknownNode) {
		t.Errorf("unknown parent: got %v, want UNKNOWN_NODE", err)
	}
	if err := g.AddDependency("a", "missing"); !errors.Is(err, errors.ErrCodeUnknownNode) {
		t.Errorf("unknown child: got %v, want UNKNOWN_NODE", err)
	}
}

func TestAddDependency_Mutual(t *testing.T) {
	g := mustBuild(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})

	err := g.AddDependency("b", "a")
	if !errors.Is(err, errors.ErrCodeMutualDependency) {
		t.Errorf("reverse edge: got %v, want MUTUAL_DEPENDENCY", err)
	}
}

func TestAddDependency_SelfLoop(t *testing.T) {
	g := mustBuild(t, []string{"a"}, nil)

	err := g.AddDependency("a", "a")
	if !errors.Is(err, errors.ErrCodeMutualDependency) {
		t.Errorf("self loop: got %v, want MUTUAL_DEPENDENCY", err)
	}
}

func TestDeleteNode_UnlinksNeighbors(t *testing.T) {
	g := mustBuild(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})

	if err := g.DeleteNode("b"); err != nil {
		t.Fatalf("DeleteNode(b): %v", err)
	}

	deps, err := g.Dependencies("c")
	if err != nil {
		t.Fatalf("Dependencies(c): %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("Dependencies(c) = %v, want empty after deleting b", deps)
	}
	succs, err := g.Successors("a")
	if err != nil {
		t.Fatalf("Successors(a): %v", err)
	}
	if len(succs) != 0 {
		t.Errorf("Successors(a) = %v, want empty after deleting b", succs)
	}
	if err := g.DeleteNode("b"); !errors.Is(err, errors.ErrCodeUnknownNode) {
		t.Errorf("DeleteNode(b) twice: got %v, want UNKNOWN_NODE", err)
	}
}

func TestFindCycle_Acyclic(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
	}{
		{"empty", nil, nil},
		{"single node", []string{"a"}, nil},
		{"chain", []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}}},
		{"diamond", []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}}},
		{"disconnected", []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"c", "d"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustBuild(t, tt.nodes, tt.edges)
			if cycle := g.FindCycle(); cycle != nil {
				t.Errorf("FindCycle() = %v, want nil", cycle)
			}
		})
	}
}

// assertValidCycle checks that every consecutive pair in the returned
// cycle, including the wrap-around pair, is a real edge of the graph.
func assertValidCycle(t *testing.T, g *Graph, cycle []string) {
	t.Helper()
	if len(cycle) == 0 {
		t.Fatal("FindCycle() = nil, want a cycle")
	}
	for i := range cycle {
		from := cycle[i]
		to := cycle[(i+1)%len(cycle)]
		succs, err := g.Successors(from)
		if err != nil {
			t.Fatalf("Successors(%s): %v", from, err)
		}
		if !slices.Contains(succs, to) {
			t.Errorf("cycle %v: %s -> %s is not an edge", cycle, from, to)
		}
	}
}

func TestFindCycle_Triangle(t *testing.T) {
	g := New()
	for _, n := range []string{"a", "b", "c"} {
		g.AddNode(n)
	}
	// Build a triangle without tripping the eager mutual-dependency
	// check: a->b, b->c, c->a.
	g.AddDependency("a", "b")
	g.AddDependency("b", "c")
	g.AddDependency("c", "a")

	assertValidCycle(t, g, g.FindCycle())
}

func TestFindCycle_DisconnectedComponent(t *testing.T) {
	g := New()
	for _, n := range []string{"a", "b", "x", "y", "z"} {
		g.AddNode(n)
	}
	g.AddDependency("a", "b")
	g.AddDependency("x", "y")
	g.AddDependency("y", "z")
	g.AddDependency("z", "x")

	assertValidCycle(t, g, g.FindCycle())
}

func TestFindCycle_LargeChainNoOverflow(t *testing.T) {
	// A deep chain exercises the explicit work stack; a recursive
	// implementation would blow the call stack long before this.
	g := New()
	const n = 200000
	prev := ""
	for i := 0; i < n; i++ {
		id := "n" + itoa(i)
		g.AddNode(id)
		if prev != "" {
			g.AddDependency(prev, id)
		}
		prev = id
	}
	if cycle := g.FindCycle(); cycle != nil {
		t.Errorf("FindCycle() = %v, want nil", cycle)
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestEdgeNodes_SampleGraph(t *testing.T) {
	g := sampleGraph(t)

	if got := g.EdgeNodes(); !slices.Equal(got, []string{"node1"}) {
		t.Errorf("EdgeNodes() = %v, want [node1]", got)
	}

	if err := g.DeleteNode("node1"); err != nil {
		t.Fatalf("DeleteNode(node1): %v", err)
	}
	got := g.EdgeNodes()
	slices.Sort(got)
	want := []string{"node2", "node3", "node7"}
	if !slices.Equal(got, want) {
		t.Errorf("EdgeNodes() after deleting node1 = %v, want %v", got, want)
	}
}

func TestTraverse_RespectsDependencies(t *testing.T) {
	g := sampleGraph(t)

	var order []string
	for id := range g.Traverse("node1") {
		order = append(order, id)
	}

	if len(order) != g.Len() {
		t.Fatalf("Traverse yielded %d nodes, want %d (%v)", len(order), g.Len(), order)
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range g.Nodes() {
		deps, _ := g.Dependencies(id)
		for _, dep := range deps {
			if pos[dep] > pos[id] {
				t.Errorf("node %s yielded before its dependency %s: %v", id, dep, order)
			}
		}
	}
}

func TestTraverse_NoEdges(t *testing.T) {
	g := mustBuild(t, []string{"a", "b", "c"}, nil)

	seen := map[string]int{}
	for id := range g.Traverse("") {
		seen[id]++
	}
	if len(seen) != 3 {
		t.Errorf("Traverse yielded %v, want all three nodes", seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("node %s yielded %d times, want 1", id, n)
		}
	}
}

func TestTraverse_OneShot(t *testing.T) {
	g := mustBuild(t, []string{"a", "b"}, [][2]string{{"a", "b"}})

	seq := g.Traverse("a")
	var first []string
	for id := range seq {
		first = append(first, id)
	}
	if !slices.Equal(first, []string{"a", "b"}) {
		t.Fatalf("first pass = %v, want [a b]", first)
	}
	for id := range seq {
		t.Errorf("second pass yielded %s, want exhausted sequence", id)
	}
}

func TestTraverse_EmptyGraph(t *testing.T) {
	g := New()
	for range g.Traverse("") {
		t.Fatal("Traverse on empty graph should yield nothing")
	}
}

func TestClone_Independent(t *testing.T) {
	g := sampleGraph(t)
	c := g.Clone()

	if err := c.DeleteNode("node1"); err != nil {
		t.Fatalf("DeleteNode on clone: %v", err)
	}
	if !g.Has("node1") {
		t.Error("deleting from clone mutated the original graph")
	}
	if got := g.EdgeNodes(); !slices.Equal(got, []string{"node1"}) {
		t.Errorf("original EdgeNodes() = %v, want [node1]", got)
	}
}
