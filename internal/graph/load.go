package graph

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is the serialized form of a built workspace: its configuration and
// its project graph.
type Snapshot struct {
	Workspace    WorkspaceConfig `json:"workspace" yaml:"workspace"`
	ProjectGraph `yaml:",inline"`
}

// Load reads a snapshot from a YAML (or JSON) file.
func Load(p string) (*Snapshot, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading project graph: %w", err)
	}
	return Parse(data)
}

// Parse decodes a snapshot and normalizes node names and edge sources.
func Parse(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing project graph: %w", err)
	}
	if s.Nodes == nil {
		s.Nodes = map[string]*ProjectNode{}
	}
	for name, n := range s.Nodes {
		if n == nil {
			return nil, fmt.Errorf("project %q has no definition", name)
		}
		if n.Name == "" {
			n.Name = name
		}
		if n.Name != name {
			return nil, fmt.Errorf("project key %q does not match name %q", name, n.Name)
		}
	}
	for name, n := range s.ExternalNodes {
		if n != nil && n.Name == "" {
			n.Name = name
		}
	}
	for src, deps := range s.Dependencies {
		for i := range deps {
			if deps[i].Source == "" {
				deps[i].Source = src
			}
		}
	}
	return &s, nil
}

// AssignFiles distributes workspace files to the projects whose root contains
// them. A project that already lists files keeps its own list. The deepest
// matching root wins.
func (g *ProjectGraph) AssignFiles(files []FileData) {
	g.AllWorkspaceFiles = files

	type rooted struct {
		root string
		node *ProjectNode
	}
	var roots []rooted
	for _, name := range g.ProjectNames() {
		n := g.Nodes[name]
		if len(n.Data.Files) > 0 {
			continue
		}
		roots = append(roots, rooted{root: strings.TrimSuffix(path.Clean(n.Data.Root), "/"), node: n})
	}
	sort.SliceStable(roots, func(i, j int) bool { return len(roots[i].root) > len(roots[j].root) })

	for _, f := range files {
		for _, r := range roots {
			if r.root == "." || r.root == "" || f.File == r.root || strings.HasPrefix(f.File, r.root+"/") {
				r.node.Data.Files = append(r.node.Data.Files, f)
				break
			}
		}
	}
}
