package graph

import (
	"fmt"
	"strings"
)

// UnparsedOverridesKey carries the raw override text as typed by the user.
// It never contributes to a task's identity.
const UnparsedOverridesKey = "__overrides_unparsed__"

// InputTarget is the pseudo-target name used for dependency-scoped synthetic
// tasks. Their Configuration holds the named input being resolved.
const InputTarget = "$input"

// TargetRef addresses a target of a project, optionally with a configuration.
type TargetRef struct {
	Project       string `json:"project" yaml:"project"`
	Target        string `json:"target" yaml:"target"`
	Configuration string `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// String renders the reference as project:target[:configuration].
func (r TargetRef) String() string {
	if r.Configuration == "" {
		return r.Project + ":" + r.Target
	}
	return r.Project + ":" + r.Target + ":" + r.Configuration
}

// ParseTargetRef parses project:target[:configuration].
func ParseTargetRef(s string) (TargetRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return TargetRef{}, fmt.Errorf("invalid target reference %q (expected project:target[:configuration])", s)
	}
	ref := TargetRef{Project: parts[0], Target: parts[1]}
	if len(parts) == 3 {
		ref.Configuration = parts[2]
	}
	return ref, nil
}

// Task is one concrete invocation of a target on a project.
//
// Overrides values are strings, booleans or numbers. A Task is treated as
// immutable once constructed; callers copy it instead of editing it.
type Task struct {
	ID        string         `json:"id" yaml:"id"`
	Target    TargetRef      `json:"target" yaml:"target"`
	Overrides map[string]any `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// NewTask builds a task whose ID is derived from its target reference.
func NewTask(ref TargetRef, overrides map[string]any) Task {
	cp := make(map[string]any, len(overrides))
	for k, v := range overrides {
		cp[k] = v
	}
	return Task{ID: ref.String(), Target: ref, Overrides: cp}
}

// InputTask builds the synthetic task representing the named input on a
// dependency project.
func InputTask(project, input string) Task {
	return Task{
		ID: project + ":" + InputTarget + ":" + input,
		Target: TargetRef{
			Project:       project,
			Target:        InputTarget,
			Configuration: input,
		},
		Overrides: map[string]any{},
	}
}

// IsInputTask reports whether t is a synthetic dependency-scoped task.
func (t Task) IsInputTask() bool {
	return t.Target.Target == InputTarget
}

// Verbose reports whether the task was asked to run with verbose output.
func (t Task) Verbose() bool {
	v, ok := t.Overrides["verbose"].(bool)
	return ok && v
}
