// Package dag schedules the tasks of one run.
//
// A TaskGraph is the immutable set of tasks plus the "runs after" edges
// derived from target dependsOn declarations. It is validated acyclic on
// construction and has a stable identity independent of insertion order.
// An Executor walks a TaskGraph in topological depth stages, satisfying
// tasks from cache where possible and skipping the dependents of failures.
package dag
