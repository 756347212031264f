package hasher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/graph"
)

type countingFiles struct {
	calls atomic.Int32
	files []graph.FileData
}

func (c *countingFiles) WorkspaceFiles() []graph.FileData {
	c.calls.Add(1)
	return c.files
}

type countingRunner struct {
	mu     sync.Mutex
	calls  map[string]int
	output map[string]string
	fail   map[string]bool
}

func (r *countingRunner) run(_ context.Context, _ string, command string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[command]++
	if r.fail[command] {
		return nil, errors.New("exit status 3")
	}
	return []byte(r.output[command]), nil
}

func (r *countingRunner) count(command string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[command]
}

// fixture is a two-project workspace where app depends on lib and react, and
// lib depends back on app.
func fixture() *graph.Snapshot {
	return &graph.Snapshot{
		Workspace: graph.WorkspaceConfig{
			NpmScope: "acme",
			NamedInputs: map[string][]graph.InputDefinition{
				"production": {graph.Shorthand("default")},
			},
			TargetDefaults: map[string]graph.TargetDefaults{
				"test": {Inputs: []graph.InputDefinition{graph.Fileset("{projectRoot}/**/*.spec.ts")}},
			},
		},
		ProjectGraph: graph.ProjectGraph{
			Nodes: map[string]*graph.ProjectNode{
				"app": {
					Name: "app",
					Type: "app",
					Data: graph.ProjectData{
						Root: "apps/app",
						Files: []graph.FileData{
							{File: "apps/app/main.spec.ts", Hash: "h-spec"},
							{File: "apps/app/main.ts", Hash: "h-main"},
						},
						Targets: map[string]graph.TargetConfig{
							"build": {
								Command: "echo build",
								Inputs:  []graph.InputDefinition{graph.Shorthand("production"), graph.Shorthand("^production")},
							},
							"test": {Command: "echo test"},
							"lint": {Command: "echo lint"},
						},
					},
				},
				"lib": {
					Name: "lib",
					Type: "lib",
					Data: graph.ProjectData{
						Root:    "libs/lib",
						Files:   []graph.FileData{{File: "libs/lib/index.ts", Hash: "h-lib"}},
						Targets: map[string]graph.TargetConfig{"build": {Command: "echo build"}},
					},
				},
			},
			ExternalNodes: map[string]*graph.ExternalNode{
				"npm:react":    {Name: "npm:react", Data: graph.ExternalData{Version: "18.2.0"}},
				"npm:left-pad": {Name: "npm:left-pad"},
			},
			Dependencies: map[string][]graph.Dependency{
				"app": {{Source: "app", Target: "lib"}, {Source: "app", Target: "npm:react"}},
				"lib": {{Source: "lib", Target: "app"}},
			},
		},
	}
}

func testOptions(t *testing.T) Options {
	tc := EmptyTypeConfig()
	return Options{
		WorkspaceRoot: t.TempDir(),
		TypeConfig:    &tc,
		Getenv:        func(string) (string, bool) { return "", false },
		RunCommand:    (&countingRunner{}).run,
	}
}

func task(project, target string, overrides map[string]any) graph.Task {
	return graph.NewTask(graph.TargetRef{Project: project, Target: target}, overrides)
}

func setFileHash(s *graph.Snapshot, project, file, hash string) {
	files := s.Nodes[project].Data.Files
	for i := range files {
		if files[i].File == file {
			files[i].Hash = hash
		}
	}
}

func TestHashTask_Deterministic(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	h1, err := New(fixture(), opts).HashTask(ctx, task("app", "build", nil))
	require.NoError(t, err)
	h2, err := New(fixture(), opts).HashTask(ctx, task("app", "build", nil))
	require.NoError(t, err)

	assert.Equal(t, h1.Value, h2.Value)
	assert.Equal(t, h1.Details, h2.Details)
	assert.Contains(t, h1.Details.Nodes, "app:$filesets")
	assert.Contains(t, h1.Details.Nodes, "lib:$filesets")
	assert.Contains(t, h1.Details.Nodes, "{workspaceRoot}/yarn.lock")
}

func TestHashTask_ContentSensitivity(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	before, err := New(fixture(), opts).HashTask(ctx, task("app", "build", nil))
	require.NoError(t, err)

	changed := fixture()
	setFileHash(changed, "app", "apps/app/main.ts", "h-main-2")
	after, err := New(changed, opts).HashTask(ctx, task("app", "build", nil))
	require.NoError(t, err)

	assert.NotEqual(t, before.Details.Nodes["app:$filesets"], after.Details.Nodes["app:$filesets"])
	assert.NotEqual(t, before.Value, after.Value)
	assert.Equal(t, before.Details.Nodes["lib:$filesets"], after.Details.Nodes["lib:$filesets"])
}

func TestHashTask_DependencyPropagation(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	before, err := New(fixture(), opts).HashTask(ctx, task("app", "build", nil))
	require.NoError(t, err)

	changed := fixture()
	setFileHash(changed, "lib", "libs/lib/index.ts", "h-lib-2")
	after, err := New(changed, opts).HashTask(ctx, task("app", "build", nil))
	require.NoError(t, err)

	assert.NotEqual(t, before.Details.Nodes["lib:$filesets"], after.Details.Nodes["lib:$filesets"])
	assert.NotEqual(t, before.Value, after.Value)
}

func TestHashTask_TargetDefaultsSelectFiles(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()

	before, err := New(fixture(), opts).HashTask(ctx, task("app", "test", nil))
	require.NoError(t, err)

	// main.ts is outside the *.spec.ts fileset.
	changed := fixture()
	setFileHash(changed, "app", "apps/app/main.ts", "h-main-2")
	same, err := New(changed, opts).HashTask(ctx, task("app", "test", nil))
	require.NoError(t, err)
	assert.Equal(t, before.Value, same.Value)

	setFileHash(changed, "app", "apps/app/main.spec.ts", "h-spec-2")
	diff, err := New(changed, opts).HashTask(ctx, task("app", "test", nil))
	require.NoError(t, err)
	assert.NotEqual(t, before.Value, diff.Value)

	// No dependency inputs were declared.
	assert.NotContains(t, before.Details.Nodes, "lib:$filesets")
}

func TestHashCommand_OverrideSensitivity(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()
	h := New(fixture(), opts)

	base, err := h.HashTask(ctx, task("app", "build", map[string]any{"prod": true, "port": 4200}))
	require.NoError(t, err)
	changed, err := h.HashTask(ctx, task("app", "build", map[string]any{"prod": true, "port": 4300}))
	require.NoError(t, err)

	assert.NotEqual(t, base.Details.Command, changed.Details.Command)
	assert.NotEqual(t, base.Value, changed.Value)
	assert.Equal(t, base.Details.Nodes["app:$filesets"], changed.Details.Nodes["app:$filesets"])
}

func TestHashCommand_IgnoresKeyOrderAndUnparsedText(t *testing.T) {
	h := New(fixture(), testOptions(t))

	a := map[string]any{}
	a["b"] = "2"
	a["a"] = "1"
	b := map[string]any{}
	b["a"] = "1"
	b["b"] = "2"
	b[graph.UnparsedOverridesKey] = "--b=2 --a=1"

	ca, err := h.HashCommand(task("app", "build", a))
	require.NoError(t, err)
	cb, err := h.HashCommand(task("app", "build", b))
	require.NoError(t, err)
	assert.Equal(t, ca, cb)

	withConfig := graph.NewTask(graph.TargetRef{Project: "app", Target: "build", Configuration: "production"}, a)
	cc, err := h.HashCommand(withConfig)
	require.NoError(t, err)
	assert.NotEqual(t, ca, cc)
}

func TestHashTask_ExternalDependencies(t *testing.T) {
	opts := testOptions(t)
	th := NewTaskHasher(&fixture().ProjectGraph, fixture().Workspace, opts)

	res, err := New(fixture(), opts).HashTask(context.Background(), task("app", "build", nil))
	require.NoError(t, err)
	assert.Equal(t, "18.2.0", res.Details.Nodes["npm:react"])

	react1 := th.hashExternalDependency("npm:react")
	react2 := th.hashExternalDependency("npm:react")
	assert.Equal(t, react1, react2)
	assert.Equal(t, HashArray([]string{"18.2.0"}), react1.Value)

	leftPad := th.hashExternalDependency("npm:left-pad")
	assert.Equal(t, "__npm:left-pad__", leftPad.Value)
	unknown := th.hashExternalDependency("npm:unknown")
	assert.Equal(t, "__npm:unknown__", unknown.Value)
	assert.NotEqual(t, leftPad.Value, unknown.Value)
}

func TestHashTask_ToleratesCycles(t *testing.T) {
	opts := testOptions(t)
	snap := fixture()
	th := NewTaskHasher(&snap.ProjectGraph, snap.Workspace, opts)

	visited := NewVisitedSet("app")
	_, err := th.HashTask(context.Background(), task("app", "build", nil), visited)
	require.NoError(t, err)

	// lib -> app is never followed: the root project is pre-seeded.
	assert.Equal(t, []string{"lib:production", "npm:react:production"}, visited.Visits())
	assert.True(t, visited.Contains("app", "production"))
}

// diamond is app -> {a, b} -> c, with app's edges in the given order.
func diamond(first, second string) *graph.Snapshot {
	project := func(name string) *graph.ProjectNode {
		return &graph.ProjectNode{Name: name, Data: graph.ProjectData{
			Root:    "libs/" + name,
			Files:   []graph.FileData{{File: "libs/" + name + "/index.ts", Hash: "h-" + name}},
			Targets: map[string]graph.TargetConfig{"build": {Command: "echo build", Inputs: []graph.InputDefinition{graph.Shorthand("^default")}}},
		}}
	}
	return &graph.Snapshot{ProjectGraph: graph.ProjectGraph{
		Nodes: map[string]*graph.ProjectNode{"app": project("app"), "a": project("a"), "b": project("b"), "c": project("c")},
		Dependencies: map[string][]graph.Dependency{
			"app": {{Source: "app", Target: first}, {Source: "app", Target: second}},
			"a":   {{Source: "a", Target: "c"}},
			"b":   {{Source: "b", Target: "c"}},
		},
	}}
}

// claimant returns the project whose plan node folds in c.
func claimant(t *testing.T, root *hashNode) string {
	t.Helper()
	for _, child := range root.children {
		for _, grandchild := range child.children {
			if grandchild.task.Target.Project == "c" {
				return child.task.Target.Project
			}
		}
	}
	t.Fatal("c is not planned")
	return ""
}

func TestHashTask_SharedDependencyGoesToFirstTraversedBranch(t *testing.T) {
	opts := testOptions(t)

	plan := func(snap *graph.Snapshot) (*hashNode, []string) {
		th := NewTaskHasher(&snap.ProjectGraph, snap.Workspace, opts)
		visited := NewVisitedSet("app")
		root, err := th.plan(task("app", "build", nil), visited)
		require.NoError(t, err)
		return root, visited.Visits()
	}

	abRoot, abVisits := plan(diamond("a", "b"))
	baRoot, baVisits := plan(diamond("b", "a"))

	assert.Equal(t, "a", claimant(t, abRoot))
	assert.Equal(t, "b", claimant(t, baRoot))
	assert.Equal(t, []string{"a:default", "b:default", "c:default"}, abVisits)
	assert.Equal(t, []string{"b:default", "a:default", "c:default"}, baVisits)

	// c is folded in exactly once either way.
	ab, err := New(diamond("a", "b"), opts).HashTask(context.Background(), task("app", "build", nil))
	require.NoError(t, err)
	ba, err := New(diamond("b", "a"), opts).HashTask(context.Background(), task("app", "build", nil))
	require.NoError(t, err)
	assert.Equal(t, ab.Details.Nodes["c:$filesets"], ba.Details.Nodes["c:$filesets"])
	assert.NotEqual(t, ab.Value, ba.Value)
}

func TestHashTask_ImplicitRootFilesInvalidateEveryTask(t *testing.T) {
	opts := testOptions(t)
	ctx := context.Background()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(opts.WorkspaceRoot, name), []byte(content), 0o644))
	}
	hashAll := func() []TaskHash {
		res, err := New(fixture(), opts).HashTasks(ctx, []graph.Task{task("app", "build", nil), task("lib", "build", nil)})
		require.NoError(t, err)
		return res
	}

	write("yarn.lock", "left-pad@1.0.0\n")
	write(".gitignore", "dist\n")
	write("taskweaver.toml", "parallel = 2\n")
	base := hashAll()

	for _, change := range []struct{ file, content string }{
		{"yarn.lock", "left-pad@1.3.0\nreact@18.2.0\n"},
		{".gitignore", "dist\ncoverage\n"},
		{"taskweaver.toml", "parallel = 8\ncaptureStderr = true\n"},
	} {
		t.Run(change.file, func(t *testing.T) {
			write(change.file, change.content)
			after := hashAll()
			for i := range base {
				assert.NotEqual(t, base[i].Value, after[i].Value, "task %d", i)
				assert.NotEqual(t, base[i].Details.Nodes["{workspaceRoot}/"+change.file], after[i].Details.Nodes["{workspaceRoot}/"+change.file])
			}
			base = after
		})
	}
}

func TestHashTasks_RootFilesetScannedOnce(t *testing.T) {
	snap := fixture()
	for _, p := range snap.Nodes {
		for name, tgt := range p.Data.Targets {
			tgt.Inputs = []graph.InputDefinition{graph.Fileset("{workspaceRoot}/config/*.json")}
			p.Data.Targets[name] = tgt
		}
	}
	files := &countingFiles{files: []graph.FileData{{File: "config/a.json"}, {File: "config/b.yaml"}}}
	opts := testOptions(t)
	opts.Files = files

	tasks := []graph.Task{
		task("app", "build", nil),
		task("app", "test", nil),
		task("app", "lint", nil),
		task("lib", "build", nil),
	}
	res, err := New(snap, opts).HashTasks(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, res, 4)

	assert.Equal(t, int32(1), files.calls.Load())
	assert.Equal(t, res[0].Details.Nodes["{workspaceRoot}/config/*.json"], res[3].Details.Nodes["{workspaceRoot}/config/*.json"])
}

func TestHashTasks_RuntimeRunsOncePerCommand(t *testing.T) {
	snap := fixture()
	for _, p := range snap.Nodes {
		tgt := p.Data.Targets["build"]
		tgt.Inputs = []graph.InputDefinition{graph.Runtime("node -v"), graph.Shorthand("default")}
		p.Data.Targets["build"] = tgt
	}
	runner := &countingRunner{output: map[string]string{"node -v": "  v20.11.0\n"}}
	opts := testOptions(t)
	opts.RunCommand = runner.run

	res, err := New(snap, opts).HashTasks(context.Background(), []graph.Task{task("app", "build", nil), task("lib", "build", nil)})
	require.NoError(t, err)

	assert.Equal(t, 1, runner.count("node -v"))
	assert.Equal(t, HashArray([]string{"v20.11.0"}), res[0].Details.Nodes["runtime:node -v"])
}

func TestHashTask_RuntimeFailureIsFatal(t *testing.T) {
	snap := fixture()
	tgt := snap.Nodes["app"].Data.Targets["build"]
	tgt.Inputs = []graph.InputDefinition{graph.Runtime("exit 3")}
	snap.Nodes["app"].Data.Targets["build"] = tgt

	opts := testOptions(t)
	opts.RunCommand = (&countingRunner{fail: map[string]bool{"exit 3": true}}).run

	_, err := New(snap, opts).HashTask(context.Background(), task("app", "build", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHash)
	assert.Contains(t, err.Error(), "{runtime: 'exit 3'}")

	var he *HashError
	require.ErrorAs(t, err, &he)
	assert.EqualError(t, he.Err, "exit status 3")
}

func TestHashTask_EnvInputs(t *testing.T) {
	snap := fixture()
	tgt := snap.Nodes["app"].Data.Targets["build"]
	tgt.Inputs = []graph.InputDefinition{graph.Env("API_URL")}
	snap.Nodes["app"].Data.Targets["build"] = tgt

	hashWith := func(env map[string]string) string {
		opts := testOptions(t)
		opts.Getenv = func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}
		res, err := New(snap, opts).HashTask(context.Background(), task("app", "build", nil))
		require.NoError(t, err)
		return res.Details.Nodes["runtime:API_URL"]
	}

	unset := hashWith(nil)
	empty := hashWith(map[string]string{"API_URL": ""})
	set := hashWith(map[string]string{"API_URL": "https://example.test"})

	assert.Equal(t, HashArray([]string{"undefined"}), unset)
	assert.Equal(t, unset, hashWith(nil))
	assert.NotEqual(t, unset, empty)
	assert.NotEqual(t, empty, set)
}

func TestHashTask_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		inputs  []graph.InputDefinition
		named   map[string][]graph.InputDefinition
		message string
	}{
		{
			name:    "unknown object input",
			inputs:  []graph.InputDefinition{graph.NamedInput("nope", graph.ScopeSelf)},
			message: "input 'nope' is not defined",
		},
		{
			name:    "dependency marker in named input",
			inputs:  []graph.InputDefinition{graph.Shorthand("bad")},
			named:   map[string][]graph.InputDefinition{"bad": {graph.Shorthand("^production")}},
			message: "cannot start with ^",
		},
		{
			name:    "unknown dependency input",
			inputs:  []graph.InputDefinition{graph.Shorthand("^missing")},
			message: "input 'missing' is not defined",
		},
		{
			name:    "self reference",
			inputs:  []graph.InputDefinition{graph.Shorthand("loop")},
			named:   map[string][]graph.InputDefinition{"loop": {graph.NamedInput("loop", graph.ScopeSelf)}},
			message: "references itself",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := fixture()
			for k, v := range tt.named {
				snap.Workspace.NamedInputs[k] = v
			}
			tgt := snap.Nodes["app"].Data.Targets["build"]
			tgt.Inputs = tt.inputs
			snap.Nodes["app"].Data.Targets["build"] = tgt

			_, err := New(snap, testOptions(t)).HashTask(context.Background(), task("app", "build", nil))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestHashTask_UnknownTarget(t *testing.T) {
	_, err := New(fixture(), testOptions(t)).HashTask(context.Background(), task("lib", "deploy", nil))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestHashTask_SelectiveTypeConfig(t *testing.T) {
	raw := `{"compilerOptions":{"strict":true,"paths":{"@acme/app":["apps/app/src/index.ts"],"@acme/lib":["libs/lib/src/index.ts"]}}}`
	changedRaw := `{"compilerOptions":{"strict":true,"paths":{"@acme/app":["apps/app/src/index.ts"],"@acme/lib":["libs/lib/src/main.ts"]}}}`

	hashWith := func(src string, selective bool) string {
		tc, err := ParseTypeConfig([]byte(src))
		require.NoError(t, err)
		opts := testOptions(t)
		opts.TypeConfig = &tc
		opts.SelectivelyHashTypeConfig = selective
		res, err := New(fixture(), opts).HashTask(context.Background(), task("app", "test", nil))
		require.NoError(t, err)
		return res.Details.Nodes["app:$filesets"]
	}

	assert.Equal(t, hashWith(raw, true), hashWith(changedRaw, true))
	assert.NotEqual(t, hashWith(raw, false), hashWith(changedRaw, false))
}

func ExampleHashArray() {
	fmt.Println(HashArray([]string{"ab", "c"}) == HashArray([]string{"a", "bc"}))
	// Output: false
}
