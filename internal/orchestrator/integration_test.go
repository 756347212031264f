package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/cache"
	"taskweaver/internal/graph"
	"taskweaver/internal/hasher"
	"taskweaver/internal/runner"
	"taskweaver/internal/workspace"
)

// runWorkspace scans root, then runs lib:build and app:build once with a
// fresh hasher, as one CLI invocation would.
func runWorkspace(t *testing.T, root string, c *cache.FileCache) (*Summary, string, int) {
	t.Helper()
	ctx := context.Background()

	snapshot := &graph.Snapshot{ProjectGraph: graph.ProjectGraph{
		Nodes: map[string]*graph.ProjectNode{
			"lib": {Name: "lib", Data: graph.ProjectData{Root: "libs/lib", Targets: map[string]graph.TargetConfig{
				"build": {Command: "cat index.txt"},
			}}},
			"app": {Name: "app", Data: graph.ProjectData{Root: "apps/app", Targets: map[string]graph.TargetConfig{
				"build": {Command: "cat main.txt", DependsOn: []string{"^build"}},
			}}},
		},
		Dependencies: map[string][]graph.Dependency{"app": {{Source: "app", Target: "lib"}}},
	}}
	files, err := workspace.NewScanner(root, nil, nil).Scan(ctx)
	require.NoError(t, err)
	snapshot.AssignFiles(files)

	var stdout bytes.Buffer
	exec := &countingExecutor{}
	pool := runner.NewPool(runner.PoolOptions{
		Parallel:      2,
		WorkspaceRoot: root,
		Graph:         &snapshot.ProjectGraph,
		Stdout:        &stdout,
		LifeCycle:     &TerminalLifeCycle{Out: &stdout},
	})
	defer pool.Close()
	exec.pool = pool

	o := New(Options{
		Graph:      &snapshot.ProjectGraph,
		Hasher:     hasher.New(snapshot, hasher.Options{WorkspaceRoot: root}),
		Executor:   exec,
		Cache:      c,
		OutputPath: c.TerminalOutputPath,
		Parallel:   2,
		Stdout:     &stdout,
	})
	summary, err := o.Run(ctx, []graph.Task{
		graph.NewTask(graph.TargetRef{Project: "app", Target: "build"}, nil),
		graph.NewTask(graph.TargetRef{Project: "lib", Target: "build"}, nil),
	})
	require.NoError(t, err)
	return summary, stdout.String(), int(exec.calls.Load())
}

type countingExecutor struct {
	pool  *runner.Pool
	calls atomic.Int32
}

func (e *countingExecutor) ExecuteTask(ctx context.Context, task graph.Task, opts runner.ExecuteOptions) runner.Result {
	e.calls.Add(1)
	return e.pool.ExecuteTask(ctx, task, opts)
}

func TestIntegration_SecondRunIsReplayedUntilInputsChange(t *testing.T) {
	root := t.TempDir()
	for name, content := range map[string]string{
		"libs/lib/index.txt": "lib v1\n",
		"apps/app/main.txt":  "app v1\n",
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	c := cache.NewFileCache(filepath.Join(root, workspace.StateDir, "cache"))

	first, out, calls := runWorkspace(t, root, c)
	assert.Equal(t, 2, calls)
	assert.False(t, first.Failed())
	assert.Contains(t, out, "lib v1\n")
	assert.Contains(t, out, "app v1\n")

	second, out, calls := runWorkspace(t, root, c)
	assert.Equal(t, 0, calls)
	for i := range second.Tasks {
		assert.True(t, second.Tasks[i].Cached, second.Tasks[i].TaskID)
		assert.Equal(t, first.Tasks[i].Hash, second.Tasks[i].Hash)
	}
	assert.Contains(t, out, "lib v1\n")

	// A dependency's file change invalidates the dependent too.
	require.NoError(t, os.WriteFile(filepath.Join(root, "libs/lib/index.txt"), []byte("lib v2\n"), 0o644))
	third, out, calls := runWorkspace(t, root, c)
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, first.Tasks[0].Hash, third.Tasks[0].Hash)
	assert.NotEqual(t, first.Tasks[1].Hash, third.Tasks[1].Hash)
	assert.Contains(t, out, "lib v2\n")
}
