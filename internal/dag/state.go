package dag

import (
	"container/heap"
	"fmt"
)

// TaskState is the execution state of one task in a run.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
	TaskCached    TaskState = "CACHED"
)

// ExecutionState maps task ID to its current state.
type ExecutionState map[string]TaskState

// IsTerminal reports whether the state is final.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCached:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s TaskState) bool {
	return s == TaskCompleted || s == TaskCached
}

// Transition moves id from one state to another. The caller supplies the
// expected current state so that races surface as errors.
func Transition(state ExecutionState, id string, from, to TaskState) error {
	cur, ok := state[id]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", id)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", id, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", id, from, to)
	}
	state[id] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskCached || to == TaskSkipped
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// FailAndPropagate marks a running task FAILED and every pending task
// reachable from it SKIPPED. A reachable task that is RUNNING is an invariant
// violation: it could not have started before its dependency finished.
func FailAndPropagate(g *TaskGraph, state ExecutionState, id string) error {
	node, ok := g.nodesByID[id]
	if !ok {
		return fmt.Errorf("unknown task: %q", id)
	}
	if err := Transition(state, id, TaskRunning, TaskFailed); err != nil {
		return err
	}

	visited := make([]bool, len(g.nodes))
	visited[node.canonicalIndex] = true
	hq := &intMinHeap{}
	for _, d := range g.outgoing[node.canonicalIndex] {
		heap.Push(hq, d)
	}
	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		downstream := g.nodes[u].ID
		switch state[downstream] {
		case TaskPending:
			state[downstream] = TaskSkipped
		case TaskRunning:
			return fmt.Errorf("invariant violation: downstream task %q is RUNNING during failure propagation", downstream)
		}
		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return nil
}
