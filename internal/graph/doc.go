// Package graph defines the project-graph data model consumed by the hashing
// engine and the execution orchestrator.
//
// The graph is built elsewhere; this package only describes it and loads a
// serialized snapshot of it.
//
// # Core Types
//
// Task: one invocation of a target on a project, parameterized by overrides.
// ProjectNode: a workspace project with its tracked files and targets.
// ExternalNode: a package outside the workspace, optionally versioned.
// InputDefinition: one declared input (fileset, runtime, env or named input).
package graph
