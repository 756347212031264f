// Package hasher computes deterministic task fingerprints.
//
// A fingerprint covers everything that could affect a task's result: the
// files matched by the task's filesets, the same for every dependency-scoped
// input on its dependency projects, runtime command output, environment
// variables, external package versions, and the task's own identity and
// overrides.
//
// # Determinism
//
//  1. The same task against an unchanged graph and filesystem always yields
//     the same Value and Details.
//  2. Hash components are folded in a fixed order, never in completion order.
//  3. Memoization is scoped to one TaskHasher (one run); nothing persists.
//
// Details keys are stable, human-readable identifiers meant for explain
// tooling, never for cache addressing:
//
//	<project>:$filesets        project fileset contribution
//	{workspaceRoot}/<path>     workspace-rooted fileset contribution
//	runtime:<command>          runtime input
//	runtime:<ENV_NAME>         environment input
//	<externalPackage>          external version or sentinel
package hasher
