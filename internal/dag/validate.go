package dag

import (
	"container/heap"
	"slices"
)

// validateAcyclic rejects cyclic graphs. A cycle shows up as Kahn's algorithm
// failing to order every node.
//
// The error names one cycle, found deterministically.
func (g *TaskGraph) validateAcyclic() error {
	order := g.topoOrderIndices()
	if len(order) == len(g.nodes) {
		return nil
	}

	return cycleError(g.findCycle())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering of node indices.
//
// Determinism: the ready queue is a min-heap by canonical index.
func (g *TaskGraph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as task IDs, first ID repeated at the end.
// The DFS visits nodes and successors in canonical order, so the same graph
// always reports the same cycle.
func (g *TaskGraph) findCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	mark := make([]int, len(g.nodes))
	var stack []int
	var cycle []int

	var visit func(u int) bool
	visit = func(u int) bool {
		mark[u] = onStack
		stack = append(stack, u)
		for _, v := range g.outgoing[u] {
			switch mark[v] {
			case unvisited:
				if visit(v) {
					return true
				}
			case onStack:
				start := slices.Index(stack, v)
				cycle = append(slices.Clone(stack[start:]), v)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		mark[u] = done
		return false
	}

	for i := range g.nodes {
		if mark[i] == unvisited && visit(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		out = append(out, g.nodes[idx].ID)
	}
	return out
}
