package dag

import (
	"strings"

	"taskweaver/internal/graph"
)

// BuildTaskGraph links tasks by their targets' dependsOn declarations.
// Only edges between tasks of the run are kept; a dependency that is not
// part of the run is assumed satisfied.
func BuildTaskGraph(pg *graph.ProjectGraph, tasks []graph.Task) (*TaskGraph, error) {
	byRef := make(map[[2]string]string, len(tasks))
	for _, t := range tasks {
		byRef[[2]string{t.Target.Project, t.Target.Target}] = t.ID
	}

	var edges []Edge
	seen := map[Edge]struct{}{}
	add := func(from, to string) {
		e := Edge{From: from, To: to}
		if _, ok := seen[e]; ok || from == to {
			return
		}
		seen[e] = struct{}{}
		edges = append(edges, e)
	}

	for _, t := range tasks {
		p, ok := pg.Nodes[t.Target.Project]
		if !ok {
			return nil, invalidf("task %q: unknown project %q", t.ID, t.Target.Project)
		}
		for _, dep := range p.Data.Targets[t.Target.Target].DependsOn {
			if target, ok := strings.CutPrefix(dep, graph.DependencyMarker); ok {
				for _, d := range pg.DependenciesOf(t.Target.Project) {
					if id, ok := byRef[[2]string{d.Target, target}]; ok {
						add(id, t.ID)
					}
				}
				continue
			}
			if id, ok := byRef[[2]string{t.Target.Project, dep}]; ok {
				add(id, t.ID)
			}
		}
	}
	return NewTaskGraph(tasks, edges)
}
