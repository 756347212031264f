package hasher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// TypeConfigFiles are tried in order under the workspace root.
var TypeConfigFiles = []string{"tsconfig.base.json", "tsconfig.json"}

// TypeConfig is the workspace's shared type-checker configuration. Every
// project fileset hash includes it, either whole or reduced to the path
// alias entry of the project being hashed.
type TypeConfig struct {
	raw map[string]any
}

// LoadTypeConfig reads the first type config found under root. A missing or
// unreadable file yields an empty config with no path aliases.
func LoadTypeConfig(root string) TypeConfig {
	for _, name := range TypeConfigFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		if c, err := ParseTypeConfig(data); err == nil {
			return c
		}
	}
	return EmptyTypeConfig()
}

// ParseTypeConfig decodes a JSON type config.
func ParseTypeConfig(data []byte) (TypeConfig, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return TypeConfig{}, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return TypeConfig{raw: raw}, nil
}

// EmptyTypeConfig has empty compiler options and no path aliases.
func EmptyTypeConfig() TypeConfig {
	return TypeConfig{raw: map[string]any{
		"compilerOptions": map[string]any{"paths": map[string]any{}},
	}}
}

// Fragment returns the string folded into a project's fileset hash. In
// selective mode only the compiler options and the project's own path alias
// are kept, so editing another project's alias leaves this hash unchanged.
func (c TypeConfig) Fragment(selective bool, npmScope, projectRoot string) string {
	if !selective {
		return mustJSON(c.raw)
	}
	compilerOptions := map[string]any{}
	paths := map[string]any{}
	if co, ok := c.raw["compilerOptions"].(map[string]any); ok {
		for k, v := range co {
			if k == "paths" {
				if p, ok := v.(map[string]any); ok {
					paths = p
				}
				continue
			}
			compilerOptions[k] = v
		}
	}
	alias := ImportPath(npmScope, projectRoot)
	entry, ok := paths[alias]
	if !ok {
		entry = []any{}
	}
	compilerOptions["paths"] = map[string]any{alias: entry}
	return mustJSON(map[string]any{"compilerOptions": compilerOptions})
}

// ImportPath derives a project's import alias from its root: the first path
// segment is dropped and the rest is prefixed with the npm scope.
//
//	ImportPath("acme", "libs/shared/ui") == "@acme/shared/ui"
func ImportPath(npmScope, projectRoot string) string {
	dir := strings.Trim(filepath.ToSlash(projectRoot), "/")
	_, dir, _ = strings.Cut(dir, "/")
	scope := strings.TrimPrefix(npmScope, "@")
	if scope == "" {
		return dir
	}
	return "@" + scope + "/" + dir
}

// mustJSON encodes decoded JSON values, whose encoding cannot fail.
// encoding/json sorts map keys, which keeps the fragment stable.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
