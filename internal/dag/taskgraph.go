package dag

import (
	"slices"
	"strconv"

	"taskweaver/internal/graph"
	"taskweaver/internal/hasher"
)

type edgeIndex struct {
	from int
	to   int
}

// TaskGraph is an immutable, validated DAG of tasks. It is safe for
// concurrent reads.
type TaskGraph struct {
	nodesByID map[string]*TaskNode
	nodes     []*TaskNode // canonical order: ascending task ID

	edges []edgeIndex // sorted

	outgoing [][]int
	incoming [][]int
	indeg    []int
	depth    []int

	hash GraphHash
}

// NewTaskGraph builds and validates a TaskGraph. It rejects empty or
// duplicate task IDs, edges naming unknown tasks, duplicate edges,
// self-loops and cycles.
func NewTaskGraph(tasks []graph.Task, edges []Edge) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	nodesByID := make(map[string]*TaskNode, len(tasks))
	nodes := make([]*TaskNode, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, invalidf("task id is required")
		}
		if _, exists := nodesByID[t.ID]; exists {
			return nil, invalidf("duplicate task: %q", t.ID)
		}
		n := &TaskNode{ID: t.ID, Task: t}
		nodesByID[t.ID] = n
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *TaskNode) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		from, okFrom := nodesByID[e.From]
		to, okTo := nodesByID[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown task (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown task (to): %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop: %q", e.From)
		}
		pair := edgeIndex{from: from.canonicalIndex, to: to.canonicalIndex}
		if _, exists := seen[pair]; exists {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}
	slices.SortFunc(mapped, func(a, b edgeIndex) int {
		if a.from != b.from {
			return a.from - b.from
		}
		return a.to - b.to
	})

	g := &TaskGraph{
		nodesByID: nodesByID,
		nodes:     nodes,
		edges:     mapped,
		outgoing:  make([][]int, len(nodes)),
		incoming:  make([][]int, len(nodes)),
		indeg:     make([]int, len(nodes)),
	}
	// mapped is sorted, so adjacency lists come out sorted too.
	for _, e := range mapped {
		g.outgoing[e.from] = append(g.outgoing[e.from], e.to)
		g.incoming[e.to] = append(g.incoming[e.to], e.from)
		g.indeg[e.to]++
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	g.hash = g.computeGraphHash()
	return g, nil
}

// Hash returns the graph's stable identity.
func (g *TaskGraph) Hash() GraphHash { return g.hash }

// Len returns the number of tasks.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Node returns a node by task ID.
func (g *TaskGraph) Node(id string) (*TaskNode, bool) {
	n, ok := g.nodesByID[id]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *TaskGraph) Nodes() []*TaskNode {
	return slices.Clone(g.nodes)
}

// Tasks returns the tasks in canonical order.
func (g *TaskGraph) Tasks() []graph.Task {
	out := make([]graph.Task, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Task
	}
	return out
}

// Edges returns the edges in canonical order.
func (g *TaskGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].ID, To: g.nodes[e.to].ID})
	}
	return out
}

// Dependencies returns the IDs of the tasks id runs after.
func (g *TaskGraph) Dependencies(id string) []string {
	n, ok := g.nodesByID[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.incoming[n.canonicalIndex]))
	for _, p := range g.incoming[n.canonicalIndex] {
		out = append(out, g.nodes[p].ID)
	}
	return out
}

// Depth returns the length of the longest path from any root to id.
func (g *TaskGraph) Depth(id string) (int, bool) {
	n, ok := g.nodesByID[id]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

// TopologicalOrder returns a deterministic topological order of task IDs.
func (g *TaskGraph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	ids := make([]string, 0, len(order))
	for _, idx := range order {
		ids = append(ids, g.nodes[idx].ID)
	}
	return ids
}

// byDepth groups task IDs by depth, each group in canonical order.
func (g *TaskGraph) byDepth() [][]string {
	maxDepth := 0
	for _, d := range g.depth {
		maxDepth = max(maxDepth, d)
	}
	stages := make([][]string, maxDepth+1)
	for _, n := range g.nodes {
		d := g.depth[n.canonicalIndex]
		stages[d] = append(stages[d], n.ID)
	}
	return stages
}

func (g *TaskGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		for _, p := range g.incoming[u] {
			depth[u] = max(depth[u], depth[p]+1)
		}
	}
	return depth
}

func (g *TaskGraph) computeGraphHash() GraphHash {
	values := make([]string, 0, 2+len(g.nodes)+2*len(g.edges))
	values = append(values, strconv.Itoa(len(g.nodes)))
	for _, n := range g.nodes {
		values = append(values, n.ID)
	}
	values = append(values, strconv.Itoa(len(g.edges)))
	for _, e := range g.edges {
		values = append(values, g.nodes[e.from].ID, g.nodes[e.to].ID)
	}
	return GraphHash(hasher.HashArray(values))
}
