package dag

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"taskweaver/internal/graph"
)

func tasks(ids ...string) []graph.Task {
	out := make([]graph.Task, 0, len(ids))
	for _, id := range ids {
		ref, err := graph.ParseTargetRef(id)
		if err != nil {
			panic(err)
		}
		out = append(out, graph.NewTask(ref, nil))
	}
	return out
}

func TestGraphConstruction_SingleNode(t *testing.T) {
	g, err := NewTaskGraph(tasks("app:build"), nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if g.Hash() == "" {
		t.Fatalf("expected non-empty graph hash")
	}
	if got := g.TopologicalOrder(); !reflect.DeepEqual(got, []string{"app:build"}) {
		t.Fatalf("unexpected topo order: %v", got)
	}
}

func TestGraphConstruction_DiamondDependency(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d
	g, err := NewTaskGraph(
		tasks("d:build", "c:build", "b:build", "a:build"),
		[]Edge{{From: "a:build", To: "b:build"}, {From: "a:build", To: "c:build"}, {From: "b:build", To: "d:build"}, {From: "c:build", To: "d:build"}},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	want := []string{"a:build", "b:build", "c:build", "d:build"}
	if got := g.TopologicalOrder(); !reflect.DeepEqual(got, want) {
		t.Fatalf("topo order: got %v want %v", got, want)
	}
	if d, _ := g.Depth("d:build"); d != 2 {
		t.Fatalf("expected depth 2 for d:build, got %d", d)
	}
	if got := g.Dependencies("d:build"); !reflect.DeepEqual(got, []string{"b:build", "c:build"}) {
		t.Fatalf("unexpected dependencies: %v", got)
	}
	stages := g.byDepth()
	if len(stages) != 3 || !reflect.DeepEqual(stages[1], []string{"b:build", "c:build"}) {
		t.Fatalf("unexpected stages: %v", stages)
	}
}

func TestGraphHash_InvariantToInsertionOrder(t *testing.T) {
	g1, err := NewTaskGraph(tasks("a:build", "b:build", "c:build"), []Edge{{From: "a:build", To: "b:build"}, {From: "a:build", To: "c:build"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g2, err := NewTaskGraph(tasks("c:build", "b:build", "a:build"), []Edge{{From: "a:build", To: "c:build"}, {From: "a:build", To: "b:build"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g1.Hash() != g2.Hash() {
		t.Fatalf("expected equal graph hashes, got %s vs %s", g1.Hash(), g2.Hash())
	}

	g3, err := NewTaskGraph(tasks("a:build", "b:build", "c:build"), []Edge{{From: "a:build", To: "b:build"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g1.Hash() == g3.Hash() {
		t.Fatalf("expected different hashes for different edges")
	}
}

func TestGraphConstruction_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		tasks []graph.Task
		edges []Edge
		kind  error
	}{
		{"empty", nil, nil, ErrInvalidGraph},
		{"duplicate", tasks("a:build", "a:build"), nil, ErrInvalidGraph},
		{"unknown edge", tasks("a:build"), []Edge{{From: "a:build", To: "b:build"}}, ErrInvalidGraph},
		{"self loop", tasks("a:build"), []Edge{{From: "a:build", To: "a:build"}}, ErrInvalidGraph},
		{"cycle", tasks("a:build", "b:build", "c:build"), []Edge{{From: "a:build", To: "b:build"}, {From: "b:build", To: "c:build"}, {From: "c:build", To: "a:build"}}, ErrCycleFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTaskGraph(tc.tasks, tc.edges)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestCycleDetection_NamesTheCycle(t *testing.T) {
	_, err := NewTaskGraph(
		tasks("a:build", "b:build", "c:build"),
		[]Edge{{From: "a:build", To: "b:build"}, {From: "b:build", To: "c:build"}, {From: "c:build", To: "a:build"}},
	)
	if err == nil || !strings.Contains(err.Error(), "a:build -> b:build -> c:build -> a:build") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildTaskGraph_DependsOn(t *testing.T) {
	pg := &graph.ProjectGraph{
		Nodes: map[string]*graph.ProjectNode{
			"app": {Name: "app", Data: graph.ProjectData{Targets: map[string]graph.TargetConfig{
				"build":   {DependsOn: []string{"^build", "codegen"}},
				"codegen": {},
			}}},
			"lib":   {Name: "lib", Data: graph.ProjectData{Targets: map[string]graph.TargetConfig{"build": {}}}},
			"other": {Name: "other", Data: graph.ProjectData{Targets: map[string]graph.TargetConfig{"build": {}}}},
		},
		Dependencies: map[string][]graph.Dependency{
			"app": {{Source: "app", Target: "lib"}, {Source: "app", Target: "npm:react"}},
		},
	}

	g, err := BuildTaskGraph(pg, tasks("app:build", "app:codegen", "lib:build", "other:build"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Edge{{From: "app:codegen", To: "app:build"}, {From: "lib:build", To: "app:build"}}
	if got := g.Edges(); !reflect.DeepEqual(got, want) {
		t.Fatalf("edges: got %v want %v", got, want)
	}

	// A dependency outside the run adds no edge.
	g, err = BuildTaskGraph(pg, tasks("app:build"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Edges()) != 0 {
		t.Fatalf("expected no edges, got %v", g.Edges())
	}
}
