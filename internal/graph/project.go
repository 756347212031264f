package graph

import "sort"

// FileData is a tracked workspace file and its precomputed content digest.
// File is workspace-relative and slash-separated.
type FileData struct {
	File string `json:"file" yaml:"file"`
	Hash string `json:"hash" yaml:"hash"`
}

// TargetConfig describes one target a project exposes.
type TargetConfig struct {
	Executor string            `json:"executor,omitempty" yaml:"executor,omitempty"`
	Command  string            `json:"command,omitempty" yaml:"command,omitempty"`
	Options  map[string]any    `json:"options,omitempty" yaml:"options,omitempty"`
	Inputs   []InputDefinition `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs  []string          `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	// DependsOn lists targets that must succeed first: "^build" names the
	// build target of every dependency project, "lint" a target of the
	// same project.
	DependsOn []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`

	Configurations map[string]map[string]any `json:"configurations,omitempty" yaml:"configurations,omitempty"`
}

// ProjectData is the configuration payload of a ProjectNode.
type ProjectData struct {
	Root        string                       `json:"root" yaml:"root"`
	SourceRoot  string                       `json:"sourceRoot,omitempty" yaml:"sourceRoot,omitempty"`
	Tags        []string                     `json:"tags,omitempty" yaml:"tags,omitempty"`
	Files       []FileData                   `json:"files,omitempty" yaml:"files,omitempty"`
	Targets     map[string]TargetConfig      `json:"targets,omitempty" yaml:"targets,omitempty"`
	NamedInputs map[string][]InputDefinition `json:"namedInputs,omitempty" yaml:"namedInputs,omitempty"`
}

// ProjectNode is a workspace project.
type ProjectNode struct {
	Name string      `json:"name" yaml:"name"`
	Type string      `json:"type,omitempty" yaml:"type,omitempty"`
	Data ProjectData `json:"data" yaml:"data"`
}

// HasTarget reports whether the project exposes target.
func (p ProjectNode) HasTarget(target string) bool {
	_, ok := p.Data.Targets[target]
	return ok
}

// ExternalData carries what is known about a non-workspace package.
type ExternalData struct {
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	PackageName string `json:"packageName,omitempty" yaml:"packageName,omitempty"`
}

// ExternalNode is a package that is not part of the workspace.
type ExternalNode struct {
	Name string       `json:"name" yaml:"name"`
	Type string       `json:"type,omitempty" yaml:"type,omitempty"`
	Data ExternalData `json:"data" yaml:"data"`
}

// Dependency is a directed edge Source -> Target. Cycles are permitted.
type Dependency struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ProjectGraph is the already-built workspace graph.
type ProjectGraph struct {
	Nodes             map[string]*ProjectNode  `json:"nodes" yaml:"nodes"`
	ExternalNodes     map[string]*ExternalNode `json:"externalNodes,omitempty" yaml:"externalNodes,omitempty"`
	Dependencies      map[string][]Dependency  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	AllWorkspaceFiles []FileData               `json:"allWorkspaceFiles,omitempty" yaml:"allWorkspaceFiles,omitempty"`
}

// ProjectNames returns every project name in ascending order.
func (g *ProjectGraph) ProjectNames() []string {
	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependenciesOf returns the outgoing edges of project in declaration order.
func (g *ProjectGraph) DependenciesOf(project string) []Dependency {
	if g.Dependencies == nil {
		return nil
	}
	return g.Dependencies[project]
}

// TargetDefaults holds workspace-wide defaults applied per target name.
type TargetDefaults struct {
	Inputs []InputDefinition `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// WorkspaceConfig is the workspace-wide configuration the hasher consumes.
type WorkspaceConfig struct {
	NpmScope             string                       `json:"npmScope,omitempty" yaml:"npmScope,omitempty"`
	NamedInputs          map[string][]InputDefinition `json:"namedInputs,omitempty" yaml:"namedInputs,omitempty"`
	TargetDefaults       map[string]TargetDefaults    `json:"targetDefaults,omitempty" yaml:"targetDefaults,omitempty"`
	ImplicitDependencies map[string]any               `json:"implicitDependencies,omitempty" yaml:"implicitDependencies,omitempty"`
}

// MergedNamedInputs overlays the project's named inputs on the workspace
// registry. Project entries win per name.
func (w WorkspaceConfig) MergedNamedInputs(p *ProjectNode) map[string][]InputDefinition {
	merged := make(map[string][]InputDefinition, len(w.NamedInputs))
	for k, v := range w.NamedInputs {
		merged[k] = v
	}
	if p != nil {
		for k, v := range p.Data.NamedInputs {
			merged[k] = v
		}
	}
	return merged
}

// ImplicitDependencyFiles returns the implicit dependency keys, sorted.
func (w WorkspaceConfig) ImplicitDependencyFiles() []string {
	out := make([]string, 0, len(w.ImplicitDependencies))
	for k := range w.ImplicitDependencies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WorkspaceFiles returns every tracked file in the workspace.
func (g *ProjectGraph) WorkspaceFiles() []FileData {
	return g.AllWorkspaceFiles
}
