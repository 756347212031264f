package dag

import "taskweaver/internal/graph"

// GraphHash is the deterministic identity of a TaskGraph.
type GraphHash string

func (h GraphHash) String() string { return string(h) }

// Edge means To runs only after From completed successfully. Both are task
// IDs.
type Edge struct {
	From string
	To   string
}

// TaskNode is a node of a TaskGraph.
type TaskNode struct {
	ID   string
	Task graph.Task

	canonicalIndex int
}

// CanonicalIndex returns the node's position in the graph's canonical order.
func (n *TaskNode) CanonicalIndex() int { return n.canonicalIndex }
