// Package orchestrator runs a set of tasks: it fingerprints them, replays
// the ones the cache already holds, executes the rest on the worker pool in
// dependency order, and persists the new results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"taskweaver/internal/cache"
	"taskweaver/internal/dag"
	"taskweaver/internal/graph"
	"taskweaver/internal/hasher"
	"taskweaver/internal/logging"
	"taskweaver/internal/metrics"
	"taskweaver/internal/runner"
	"taskweaver/internal/trace"
)

// TaskHasher fingerprints a batch of tasks.
type TaskHasher interface {
	HashTasks(ctx context.Context, tasks []graph.Task) ([]hasher.TaskHash, error)
}

// TaskExecutor runs one task. *runner.Pool satisfies it.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task graph.Task, opts runner.ExecuteOptions) runner.Result
}

// Options configures an Orchestrator.
type Options struct {
	Graph    *graph.ProjectGraph
	Hasher   TaskHasher
	Executor TaskExecutor
	Cache    cache.Cache
	// OutputPath returns where a task with the given fingerprint writes its
	// log. Nil keeps no log.
	OutputPath func(hash string) string

	// Parallel bounds the tasks executing at once.
	Parallel int
	// SkipCache disables cache lookups. Results are still stored.
	SkipCache    bool
	StreamOutput bool
	PrefixOutput bool
	// CaptureStderr keeps stderr in the stored output of successful tasks.
	CaptureStderr bool

	// Stdout receives replayed cache hits.
	Stdout  io.Writer
	Trace   trace.Sink
	Metrics *metrics.Recorder
	Logger  logrus.FieldLogger
}

// TaskSummary is the outcome of one task.
type TaskSummary struct {
	TaskID string        `json:"taskId"`
	Hash   string        `json:"hash,omitempty"`
	Code   int           `json:"code"`
	Cached bool          `json:"cached"`
	State  dag.TaskState `json:"state"`
}

// Summary is the outcome of a run, in task order.
type Summary struct {
	GraphHash dag.GraphHash `json:"graphHash"`
	Tasks     []TaskSummary `json:"tasks"`
}

// Failed reports whether any task failed or was skipped.
func (s *Summary) Failed() bool {
	for _, t := range s.Tasks {
		if t.Code != 0 {
			return true
		}
	}
	return false
}

// Orchestrator runs tasks. One Orchestrator may serve several runs.
type Orchestrator struct {
	opts   Options
	logger logrus.FieldLogger
	stdout io.Writer
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{opts: opts, logger: opts.Logger, stdout: opts.Stdout}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.stdout == nil {
		o.stdout = os.Stdout
	}
	if o.opts.Parallel <= 0 {
		o.opts.Parallel = 1
	}
	if o.opts.Trace == nil {
		o.opts.Trace = trace.NopSink{}
	}
	return o
}

// Run executes tasks. Hashing and graph errors are fatal and returned; task
// failures are reported in the Summary. When ctx is cancelled mid-run
// nothing more is persisted and the context error is returned.
func (o *Orchestrator) Run(ctx context.Context, tasks []graph.Task) (*Summary, error) {
	if len(tasks) == 0 {
		return &Summary{}, nil
	}

	hashes, err := o.opts.Hasher.HashTasks(ctx, tasks)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]string, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = hashes[i].Value
		o.logger.WithFields(logrus.Fields{"task": t.ID, "hash": hashes[i].Value}).Debug("task hashed")
	}

	tg, err := dag.BuildTaskGraph(o.opts.Graph, tasks)
	if err != nil {
		return nil, err
	}
	tr := &taskRunner{o: o, hashes: byID}
	exec, err := dag.NewExecutor(tg, tr)
	if err != nil {
		return nil, err
	}
	res, err := exec.RunParallel(ctx, o.opts.Parallel)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("running task graph: %w", err)
	}

	summary := &Summary{GraphHash: res.GraphHash, Tasks: make([]TaskSummary, 0, len(tasks))}
	for _, t := range tasks {
		ts := TaskSummary{TaskID: t.ID, Hash: byID[t.ID], State: res.FinalState[t.ID]}
		switch ts.State {
		case dag.TaskSkipped:
			ts.Code = 1
			trace.SafeRecord(o.opts.Trace, trace.TraceEvent{
				Kind:   trace.EventTaskSkipped,
				TaskID: t.ID,
				Hash:   ts.Hash,
				Reason: trace.ReasonDependencyFailed,
			})
			o.logger.WithField("task", t.ID).Warn("skipped: a dependency failed")
		default:
			if r := res.Results[t.ID]; r != nil {
				ts.Code = r.Code
				ts.Cached = r.Cached
			}
		}
		summary.Tasks = append(summary.Tasks, ts)
	}
	return summary, nil
}

// taskRunner satisfies dag tasks from the cache or the executor.
type taskRunner struct {
	o      *Orchestrator
	hashes map[string]string

	replayMu sync.Mutex
}

func (r *taskRunner) Lookup(_ context.Context, task graph.Task) (*dag.NodeResult, bool, error) {
	o := r.o
	hash := r.hashes[task.ID]
	if o.opts.SkipCache || o.opts.Cache == nil {
		return nil, false, nil
	}
	entry, err := o.opts.Cache.Get(hash)
	if err != nil {
		// An unreadable entry is a miss; the task reruns and overwrites it.
		o.logger.WithError(err).WithField("task", task.ID).Warn("reading cache entry")
		return nil, false, nil
	}
	if entry == nil || entry.Code != 0 {
		return nil, false, nil
	}

	r.replay(task, entry.TerminalOutput)
	trace.SafeRecord(o.opts.Trace, trace.TraceEvent{Kind: trace.EventTaskCached, TaskID: task.ID, Hash: hash, Reason: trace.ReasonCacheHit})
	o.opts.Metrics.TaskFinished(metrics.StatusCached)
	o.logger.WithFields(logrus.Fields{"task": task.ID, "hash": hash}).Debug("cache hit")
	return &dag.NodeResult{Hash: hash, Code: entry.Code, TerminalOutput: entry.TerminalOutput, Cached: true}, true, nil
}

func (r *taskRunner) Run(ctx context.Context, task graph.Task) (*dag.NodeResult, error) {
	o := r.o
	hash := r.hashes[task.ID]
	opts := runner.ExecuteOptions{StreamOutput: o.opts.StreamOutput, CaptureStderr: o.opts.CaptureStderr}
	if o.opts.OutputPath != nil {
		opts.OutputPath = o.opts.OutputPath(hash)
	}

	res := o.opts.Executor.ExecuteTask(ctx, task, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	event := trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: task.ID, Hash: hash, Reason: trace.ReasonCacheMiss}
	status := metrics.StatusSuccess
	if o.opts.SkipCache {
		event.Reason = trace.ReasonCacheSkipped
	}
	if res.Code != 0 {
		event.Kind, event.Code, event.Reason = trace.EventTaskFailed, res.Code, trace.ReasonNonZeroExit
		status = metrics.StatusFailure
	}
	trace.SafeRecord(o.opts.Trace, event)
	o.opts.Metrics.TaskFinished(status)

	if res.Code == 0 && o.opts.Cache != nil {
		if err := o.opts.Cache.Put(&cache.Entry{Hash: hash, Code: res.Code, TerminalOutput: res.TerminalOutput}); err != nil {
			o.logger.WithError(err).WithField("task", task.ID).Warn("storing cache entry")
		}
	}
	return &dag.NodeResult{Hash: hash, Code: res.Code, TerminalOutput: res.TerminalOutput}, nil
}

func (r *taskRunner) replay(task graph.Task, output string) {
	if output == "" {
		return
	}
	r.replayMu.Lock()
	defer r.replayMu.Unlock()
	w := r.o.stdout
	if r.o.opts.PrefixOutput {
		w = runner.NewLinePrefixer(w, runner.ProjectPrefix(task.Target.Project, runner.ProjectStyle(task.Target.Project)))
	}
	if _, err := io.WriteString(w, output); err != nil && !errors.Is(err, os.ErrClosed) {
		r.o.logger.WithError(err).WithField("task", task.ID).Debug("replaying cached output")
	}
}
