package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DependencyMarker prefixes shorthand inputs that resolve against a task's
// dependency projects, e.g. "^production".
const DependencyMarker = "^"

// WorkspaceRootToken prefixes filesets rooted at the workspace rather than the
// project, e.g. "{workspaceRoot}/babel.config.json".
const WorkspaceRootToken = "{workspaceRoot}"

// ProjectRootToken is replaced by the project root inside project filesets.
const ProjectRootToken = "{projectRoot}"

// DefaultInput is the reserved named input selecting every project file.
const DefaultInput = "default"

// InputScope selects the projects an object-form input applies to.
type InputScope string

const (
	ScopeSelf         InputScope = "self"
	ScopeDependencies InputScope = "dependencies"
)

// InputDefinition is one declared input.
//
// It is either a shorthand string (a named input, a "^"-marked named input,
// or a literal file pattern) or an object with exactly one of Fileset,
// Runtime, Env or Input set. Projects scopes the object form.
type InputDefinition struct {
	Shorthand string     `json:"-" yaml:"-"`
	Fileset   string     `json:"fileset,omitempty" yaml:"fileset,omitempty"`
	Runtime   string     `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Env       string     `json:"env,omitempty" yaml:"env,omitempty"`
	Input     string     `json:"input,omitempty" yaml:"input,omitempty"`
	Projects  InputScope `json:"projects,omitempty" yaml:"projects,omitempty"`
}

// Shorthand returns a shorthand-string input.
func Shorthand(s string) InputDefinition { return InputDefinition{Shorthand: s} }

// Fileset returns a fileset input.
func Fileset(pattern string) InputDefinition { return InputDefinition{Fileset: pattern} }

// Runtime returns a runtime input.
func Runtime(command string) InputDefinition { return InputDefinition{Runtime: command} }

// Env returns an environment-variable input.
func Env(name string) InputDefinition { return InputDefinition{Env: name} }

// NamedInput returns an object-form reference to a named input.
func NamedInput(name string, scope InputScope) InputDefinition {
	return InputDefinition{Input: name, Projects: scope}
}

// IsShorthand reports whether the definition came from the string form.
func (d InputDefinition) IsShorthand() bool {
	return d.Shorthand != "" && d.Fileset == "" && d.Runtime == "" && d.Env == "" && d.Input == ""
}

// IsConcrete reports whether the definition is a leaf Fileset/Runtime/Env.
func (d InputDefinition) IsConcrete() bool {
	return d.Fileset != "" || d.Runtime != "" || d.Env != ""
}

// IsWorkspaceRooted reports whether the fileset is anchored at the workspace root.
func (d InputDefinition) IsWorkspaceRooted() bool {
	return strings.HasPrefix(d.Fileset, WorkspaceRootToken)
}

// String renders the definition for error messages.
func (d InputDefinition) String() string {
	switch {
	case d.IsShorthand():
		return d.Shorthand
	case d.Fileset != "":
		return "{fileset: " + d.Fileset + "}"
	case d.Runtime != "":
		return "{runtime: " + d.Runtime + "}"
	case d.Env != "":
		return "{env: " + d.Env + "}"
	default:
		return fmt.Sprintf("{input: %s, projects: %s}", d.Input, d.Projects)
	}
}

type inputObject struct {
	Fileset  string     `json:"fileset,omitempty" yaml:"fileset,omitempty"`
	Runtime  string     `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Env      string     `json:"env,omitempty" yaml:"env,omitempty"`
	Input    string     `json:"input,omitempty" yaml:"input,omitempty"`
	Projects InputScope `json:"projects,omitempty" yaml:"projects,omitempty"`
}

func (d InputDefinition) object() inputObject {
	return inputObject{Fileset: d.Fileset, Runtime: d.Runtime, Env: d.Env, Input: d.Input, Projects: d.Projects}
}

func fromObject(o inputObject) (InputDefinition, error) {
	set := 0
	for _, v := range []string{o.Fileset, o.Runtime, o.Env, o.Input} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return InputDefinition{}, fmt.Errorf("input must set exactly one of fileset, runtime, env, input")
	}
	switch o.Projects {
	case "", ScopeSelf, ScopeDependencies:
	default:
		return InputDefinition{}, fmt.Errorf("invalid input projects %q (expected self|dependencies)", o.Projects)
	}
	return InputDefinition{Fileset: o.Fileset, Runtime: o.Runtime, Env: o.Env, Input: o.Input, Projects: o.Projects}, nil
}

// MarshalJSON keeps the shorthand form a plain string.
func (d InputDefinition) MarshalJSON() ([]byte, error) {
	if d.IsShorthand() {
		return json.Marshal(d.Shorthand)
	}
	return json.Marshal(d.object())
}

// UnmarshalJSON accepts both the string and the object form.
func (d *InputDefinition) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			return fmt.Errorf("input must not be empty")
		}
		*d = Shorthand(s)
		return nil
	}
	var o inputObject
	if err := json.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("parsing input: %w", err)
	}
	parsed, err := fromObject(o)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML keeps the shorthand form a plain scalar.
func (d InputDefinition) MarshalYAML() (any, error) {
	if d.IsShorthand() {
		return d.Shorthand, nil
	}
	return d.object(), nil
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (d *InputDefinition) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			return fmt.Errorf("line %d: input must not be empty", value.Line)
		}
		*d = Shorthand(value.Value)
		return nil
	case yaml.MappingNode:
		var o inputObject
		if err := value.Decode(&o); err != nil {
			return err
		}
		parsed, err := fromObject(o)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("line %d: input must be a string or a mapping", value.Line)
	}
}
