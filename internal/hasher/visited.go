package hasher

import "sync"

type visitKey struct {
	project string
	input   string
}

// VisitedSet records which (dependency project, input name) pairs have been
// hashed within one root HashTask call tree. It is the only guard against
// cycles and repeated dependencies; whichever branch visits a pair first
// includes it, later branches skip it.
//
// One set belongs to one root hash invocation. It is seeded with the root
// project, which is never re-entered under any input.
type VisitedSet struct {
	mu      sync.Mutex
	root    string
	visited map[visitKey]struct{}
	order   []visitKey
}

// NewVisitedSet creates a set seeded with the root project.
func NewVisitedSet(rootProject string) *VisitedSet {
	return &VisitedSet{root: rootProject, visited: make(map[visitKey]struct{})}
}

// Visit marks (project, input) and reports whether it was not yet present.
func (v *VisitedSet) Visit(project, input string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if project == v.root {
		return false
	}
	k := visitKey{project: project, input: input}
	if _, ok := v.visited[k]; ok {
		return false
	}
	v.visited[k] = struct{}{}
	v.order = append(v.order, k)
	return true
}

// Contains reports whether (project, input) has been visited.
func (v *VisitedSet) Contains(project, input string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if project == v.root {
		return true
	}
	_, ok := v.visited[visitKey{project: project, input: input}]
	return ok
}

// Visits returns the visited pairs as "project:input" in visit order.
func (v *VisitedSet) Visits() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.order))
	for i, k := range v.order {
		out[i] = k.project + ":" + k.input
	}
	return out
}
