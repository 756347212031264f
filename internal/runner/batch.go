package runner

import (
	"context"
	"fmt"
	"sync"

	"taskweaver/internal/dag"
	"taskweaver/internal/graph"
)

// ErrSkipped is the Error of a batch task whose dependency failed.
const ErrSkipped = "skipped: dependency failed"

// Batch is a fragment of the task graph whose targets all use the same
// executor. It runs in a single worker slot.
type Batch struct {
	Executor string
	Graph    *dag.TaskGraph
}

// BatchOptions configures a batch execution.
type BatchOptions struct {
	StreamOutput  bool
	CaptureStderr bool
	// OutputPath returns the persisted log path of one task of the batch.
	// A nil OutputPath persists nothing.
	OutputPath func(task graph.Task) string
}

// ExecuteBatch runs every task of b on one worker, in topological order,
// and returns the results keyed by task ID. A task whose dependency failed
// is not run and reports ErrSkipped.
func (p *Pool) ExecuteBatch(ctx context.Context, b Batch, opts BatchOptions) (map[string]Result, error) {
	if b.Graph == nil {
		return nil, fmt.Errorf("batch %q: nil task graph", b.Executor)
	}
	r, err := p.submit(ctx, job{batch: &b, batchOpts: opts})
	if err != nil {
		return nil, err
	}
	return r.results, r.err
}

func (p *Pool) runBatch(ctx context.Context, b Batch, opts BatchOptions) (map[string]Result, error) {
	for _, t := range b.Graph.Tasks() {
		if executor := p.targetExecutor(t); executor != b.Executor {
			return nil, fmt.Errorf("batch %q: task %s uses executor %q", b.Executor, t.ID, executor)
		}
	}

	runner := &batchRunner{pool: p, opts: opts, results: map[string]Result{}}
	exec, err := dag.NewExecutor(b.Graph, runner)
	if err != nil {
		return nil, err
	}
	res, err := exec.RunParallel(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("batch %q: %w", b.Executor, err)
	}

	out := make(map[string]Result, b.Graph.Len())
	for id, state := range res.FinalState {
		if state == dag.TaskSkipped {
			out[id] = Result{Code: 1, Error: ErrSkipped, TerminalOutput: ErrSkipped}
			continue
		}
		out[id] = runner.results[id]
	}
	p.logger.WithField("executor", b.Executor).Debugf("batch finished: %d tasks", len(out))
	return out, nil
}

func (p *Pool) targetExecutor(t graph.Task) string {
	if p.opts.Graph == nil {
		return ""
	}
	node, ok := p.opts.Graph.Nodes[t.Target.Project]
	if !ok {
		return ""
	}
	return node.Data.Targets[t.Target.Target].Executor
}

// batchRunner adapts the pool's single-task path to dag.TaskRunner.
type batchRunner struct {
	pool *Pool
	opts BatchOptions

	mu      sync.Mutex
	results map[string]Result
}

func (r *batchRunner) Lookup(context.Context, graph.Task) (*dag.NodeResult, bool, error) {
	return nil, false, nil
}

func (r *batchRunner) Run(ctx context.Context, task graph.Task) (*dag.NodeResult, error) {
	opts := ExecuteOptions{StreamOutput: r.opts.StreamOutput, CaptureStderr: r.opts.CaptureStderr}
	if r.opts.OutputPath != nil {
		opts.OutputPath = r.opts.OutputPath(task)
	}
	res := r.pool.execute(ctx, task, opts)

	r.mu.Lock()
	r.results[task.ID] = res
	r.mu.Unlock()
	return &dag.NodeResult{Code: res.Code, TerminalOutput: res.TerminalOutput}, nil
}
