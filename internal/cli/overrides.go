package cli

import (
	"strconv"
	"strings"

	"taskweaver/internal/graph"
)

// parseOverrides turns the arguments after "--" into task overrides.
// "--name=value" and "--name value" set a value, a bare "--name" sets true
// and "--no-name" sets false. Values that parse as numbers or booleans are
// typed. The raw text is kept under graph.UnparsedOverridesKey so it can be
// forwarded verbatim.
func parseOverrides(args []string) map[string]any {
	out := map[string]any{}
	if len(args) == 0 {
		return out
	}
	out[graph.UnparsedOverridesKey] = strings.Join(args, " ")

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || arg == "--" {
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(name, "="); ok {
			out[k] = typedValue(v)
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out[name] = typedValue(args[i+1])
			i++
			continue
		}
		if neg, ok := strings.CutPrefix(name, "no-"); ok {
			out[neg] = false
			continue
		}
		out[name] = true
	}
	return out
}

func typedValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
