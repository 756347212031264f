package hasher

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"taskweaver/internal/graph"
)

// TaskHash is a task's final cache key with its provenance.
type TaskHash struct {
	Value   string          `json:"value"`
	Details TaskHashDetails `json:"details"`
}

// TaskHashDetails explains a TaskHash.
type TaskHashDetails struct {
	Command string            `json:"command"`
	Nodes   map[string]string `json:"nodes"`
}

// Hasher computes final task fingerprints: the input hash of a task folded
// together with its command hash. One Hasher serves one run.
type Hasher struct {
	tasks   *TaskHasher
	hashing Hashing
}

// New creates a Hasher over a loaded workspace snapshot.
func New(snapshot *graph.Snapshot, opts Options) *Hasher {
	if opts.Hashing == nil {
		opts.Hashing = NewDefaultHashing()
	}
	return &Hasher{
		tasks:   NewTaskHasher(&snapshot.ProjectGraph, snapshot.Workspace, opts),
		hashing: opts.Hashing,
	}
}

// HashTask returns the final fingerprint of task.
func (h *Hasher) HashTask(ctx context.Context, task graph.Task) (TaskHash, error) {
	res, err := h.tasks.HashTask(ctx, task, NewVisitedSet(task.Target.Project))
	if err != nil {
		return TaskHash{}, err
	}
	command, err := h.HashCommand(task)
	if err != nil {
		return TaskHash{}, err
	}
	return TaskHash{
		Value:   h.hashing.HashArray([]string{res.Value, command}),
		Details: TaskHashDetails{Command: command, Nodes: res.Details},
	}, nil
}

// HashTasks hashes tasks concurrently. Results are in task order and share
// this Hasher's memoized filesets and runtime values.
func (h *Hasher) HashTasks(ctx context.Context, tasks []graph.Task) ([]TaskHash, error) {
	out := make([]TaskHash, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			th, err := h.HashTask(gctx, t)
			if err != nil {
				return fmt.Errorf("hashing %s: %w", t.ID, err)
			}
			out[i] = th
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// HashCommand folds the task identity and its overrides, minus the raw
// unparsed text, into one digest. Override order never matters.
func (h *Hasher) HashCommand(task graph.Task) (string, error) {
	overrides := make(map[string]any, len(task.Overrides))
	for k, v := range task.Overrides {
		if k == graph.UnparsedOverridesKey {
			continue
		}
		overrides[k] = v
	}
	// encoding/json writes map keys in sorted order.
	b, err := json.Marshal(overrides)
	if err != nil {
		return "", configErrorf("%s: overrides are not serializable: %v", task.ID, err)
	}
	return h.hashing.HashArray([]string{
		task.Target.Project,
		task.Target.Target,
		task.Target.Configuration,
		string(b),
	}), nil
}
