// Package selector decides which projects a run-many invocation covers.
package selector

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"taskweaver/internal/graph"
	"taskweaver/internal/logging"
)

// Args is a run-many selection.
type Args struct {
	Target string
	// Projects is the explicit project list. Ignored when All is set.
	Projects []string
	All      bool
	Exclude  []string
}

// SelectionError reports every requested project missing from the graph.
type SelectionError struct {
	Unknown []string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("projects not found in the project graph: %s", strings.Join(e.Unknown, ", "))
}

// Select returns the projects the run covers.
//
// In explicit mode every named project must exist; projects lacking the
// target are dropped with a warning, and the result follows the requested
// order with duplicates removed. In all mode the result is every project
// exposing the target, sorted by name. Exclusions apply in both modes.
func Select(args Args, g *graph.ProjectGraph, logger logrus.FieldLogger) ([]*graph.ProjectNode, error) {
	if args.Target == "" {
		return nil, fmt.Errorf("no target given")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	if args.All {
		var out []*graph.ProjectNode
		for _, name := range g.ProjectNames() {
			p := g.Nodes[name]
			if p.HasTarget(args.Target) && !slices.Contains(args.Exclude, name) {
				out = append(out, p)
			}
		}
		return out, nil
	}

	var unknown []string
	for _, name := range args.Projects {
		if _, ok := g.Nodes[name]; !ok && !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, &SelectionError{Unknown: unknown}
	}

	var out []*graph.ProjectNode
	var dropped []string
	seen := make(map[string]struct{}, len(args.Projects))
	for _, name := range args.Projects {
		if _, ok := seen[name]; ok || slices.Contains(args.Exclude, name) {
			continue
		}
		seen[name] = struct{}{}
		p := g.Nodes[name]
		if !p.HasTarget(args.Target) {
			dropped = append(dropped, name)
			continue
		}
		out = append(out, p)
	}
	if len(dropped) > 0 {
		logger.WithField("target", args.Target).Warnf("the following projects do not have a configuration for %q: %s",
			args.Target, strings.Join(dropped, ", "))
	}
	return out, nil
}

// TasksFor builds one task per project for target, sharing configuration
// and overrides.
func TasksFor(projects []*graph.ProjectNode, target, configuration string, overrides map[string]any) []graph.Task {
	tasks := make([]graph.Task, 0, len(projects))
	for _, p := range projects {
		tasks = append(tasks, graph.NewTask(graph.TargetRef{
			Project:       p.Name,
			Target:        target,
			Configuration: configuration,
		}, overrides))
	}
	return tasks
}
