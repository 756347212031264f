package hasher

import (
	"slices"
	"strings"

	"taskweaver/internal/graph"
)

// Inputs is a task's input declaration split by scope.
//
// Self holds concrete Fileset/Runtime/Env specifiers for the task's own
// project. Deps holds named-input names to resolve on every direct
// dependency.
type Inputs struct {
	Self []graph.InputDefinition
	Deps []string
}

// DefaultInputs is used when neither the target nor the workspace target
// defaults declare inputs: every file of the project, plus the default input
// of every dependency.
func DefaultInputs() []graph.InputDefinition {
	return []graph.InputDefinition{
		{Fileset: graph.DefaultInput, Projects: graph.ScopeSelf},
		{Input: graph.DefaultInput, Projects: graph.ScopeDependencies},
	}
}

// SplitInputs partitions a raw input declaration and expands the self part
// against the named-input registry.
func SplitInputs(inputs []graph.InputDefinition, namedInputs map[string][]graph.InputDefinition) (Inputs, error) {
	var res Inputs
	var self []graph.InputDefinition
	for _, d := range inputs {
		if d.IsShorthand() {
			if name, ok := strings.CutPrefix(d.Shorthand, graph.DependencyMarker); ok {
				if name == "" {
					return Inputs{}, configErrorf("input %q does not name a dependency input", d.Shorthand)
				}
				res.Deps = append(res.Deps, name)
				continue
			}
			self = append(self, d)
			continue
		}
		if d.Projects == graph.ScopeDependencies {
			if d.Input == "" {
				return Inputs{}, configErrorf("inputs with projects == 'dependencies' must reference a named input, got %s", d)
			}
			res.Deps = append(res.Deps, d.Input)
			continue
		}
		self = append(self, d)
	}

	expanded, err := expandSelfInputs(self, namedInputs, nil)
	if err != nil {
		return Inputs{}, err
	}
	res.Self = expanded
	return res, nil
}

// ExpandNamedInput resolves a named input to concrete specifiers. The name
// "default" always resolves to the single default fileset.
func ExpandNamedInput(name string, namedInputs map[string][]graph.InputDefinition) ([]graph.InputDefinition, error) {
	return expandNamedInput(name, namedInputs, nil)
}

func expandNamedInput(name string, namedInputs map[string][]graph.InputDefinition, stack []string) ([]graph.InputDefinition, error) {
	if name == graph.DefaultInput {
		return []graph.InputDefinition{graph.Fileset(graph.DefaultInput)}, nil
	}
	defs, ok := namedInputs[name]
	if !ok {
		return nil, configErrorf("input '%s' is not defined", name)
	}
	if slices.Contains(stack, name) {
		chain := append(slices.Clone(stack), name)
		return nil, configErrorf("named input '%s' references itself: %s", name, strings.Join(chain, " -> "))
	}
	return expandSelfInputs(defs, namedInputs, append(slices.Clone(stack), name))
}

func expandSelfInputs(inputs []graph.InputDefinition, namedInputs map[string][]graph.InputDefinition, stack []string) ([]graph.InputDefinition, error) {
	expanded := make([]graph.InputDefinition, 0, len(inputs))
	for _, d := range inputs {
		if d.IsShorthand() {
			if strings.HasPrefix(d.Shorthand, graph.DependencyMarker) {
				return nil, configErrorf("namedInputs definitions cannot start with %s (got %q)", graph.DependencyMarker, d.Shorthand)
			}
			if _, ok := namedInputs[d.Shorthand]; ok || d.Shorthand == graph.DefaultInput {
				more, err := expandNamedInput(d.Shorthand, namedInputs, stack)
				if err != nil {
					return nil, err
				}
				expanded = append(expanded, more...)
				continue
			}
			expanded = append(expanded, graph.Fileset(d.Shorthand))
			continue
		}

		if d.Projects == graph.ScopeDependencies {
			return nil, configErrorf("namedInputs definitions cannot contain any inputs with projects == 'dependencies' (got %s)", d)
		}
		if d.IsConcrete() {
			expanded = append(expanded, graph.InputDefinition{Fileset: d.Fileset, Runtime: d.Runtime, Env: d.Env})
			continue
		}
		more, err := expandNamedInput(d.Input, namedInputs, stack)
		if err != nil {
			return nil, err
		}
		expanded = append(expanded, more...)
	}
	return expanded, nil
}
