package dag

import (
	"context"
	"fmt"
	"sync"

	"taskweaver/internal/graph"
)

// NodeResult is the outcome of one task, executed or replayed.
type NodeResult struct {
	Hash           string
	Code           int
	TerminalOutput string
	Cached         bool
}

// TaskRunner satisfies tasks for an Executor.
//
// Lookup reports whether the task can be satisfied without running it, and
// with what result. Run executes the task; a non-zero Code is a task
// failure, a non-nil error aborts the whole run.
type TaskRunner interface {
	Lookup(ctx context.Context, task graph.Task) (result *NodeResult, cached bool, err error)
	Run(ctx context.Context, task graph.Task) (*NodeResult, error)
}

// GraphResult summarizes one execution of a TaskGraph.
type GraphResult struct {
	GraphHash GraphHash
	// FinalState is the terminal state of every task.
	FinalState ExecutionState
	// ExecutionOrder lists the tasks that were started, in start order.
	ExecutionOrder []string
	// Results holds the result of every task that was run or replayed.
	Results map[string]*NodeResult
}

// Executor runs a TaskGraph once.
type Executor struct {
	Graph  *TaskGraph
	Runner TaskRunner

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with every task PENDING.
func NewExecutor(g *TaskGraph, runner TaskRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.ID] = TaskPending
	}
	return &Executor{Graph: g, Runner: runner, state: state}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

type workItem struct {
	id   string
	task graph.Task
}

type workResult struct {
	id     string
	result *NodeResult
	err    error
}

// RunParallel executes the graph with up to concurrency tasks in flight.
//
// Tasks are dispatched in increasing topological depth, and by ID within a
// depth; a depth starts only when the previous one has finished. A failed
// task skips everything downstream of it.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	workCh := make(chan workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.Runner.Run(ctx, w.task)
				doneCh <- workResult{id: w.id, result: res, err: err}
			}
		}()
	}
	defer stopWorkers()

	order := make([]string, 0, len(e.Graph.nodes))
	results := make(map[string]*NodeResult, len(e.Graph.nodes))
	inFlight := 0

	// dispatch starts as many tasks of ids as concurrency allows, beginning
	// at next, and returns the new position.
	dispatch := func(ids []string, next int) (int, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		for inFlight < concurrency && next < len(ids) {
			id := ids[next]
			next++
			if IsTerminal(e.state[id]) {
				continue
			}
			task := e.Graph.nodesByID[id].Task
			for _, dep := range e.Graph.Dependencies(id) {
				if !IsSuccessful(e.state[dep]) {
					return next, invalidf("%q dispatched before dependency %q succeeded (state %s)", id, dep, e.state[dep])
				}
			}

			res, cached, err := e.Runner.Lookup(ctx, task)
			if err != nil {
				return next, fmt.Errorf("probing cache for %q: %w", id, err)
			}
			if cached {
				if res == nil {
					return next, fmt.Errorf("probing cache for %q: nil result", id)
				}
				if err := Transition(e.state, id, TaskPending, TaskCached); err != nil {
					return next, err
				}
				results[id] = res
				continue
			}

			if err := Transition(e.state, id, TaskPending, TaskRunning); err != nil {
				return next, err
			}
			order = append(order, id)
			inFlight++
			workCh <- workItem{id: id, task: task}
		}
		return next, nil
	}

	complete := func(r workResult) error {
		if r.err != nil {
			return fmt.Errorf("executing %q: %w", r.id, r.err)
		}
		if r.result == nil {
			return fmt.Errorf("executing %q: nil result", r.id)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		inFlight--
		results[r.id] = r.result
		if r.result.Code == 0 {
			return Transition(e.state, r.id, TaskRunning, TaskCompleted)
		}
		return FailAndPropagate(e.Graph, e.state, r.id)
	}

	for _, ids := range e.Graph.byDepth() {
		next := 0
		for {
			var err error
			if next, err = dispatch(ids, next); err != nil {
				return nil, err
			}
			if next >= len(ids) && inFlight == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
			case r := <-doneCh:
				if err := complete(r); err != nil {
					return nil, err
				}
			}
		}
	}

	return &GraphResult{
		GraphHash:      e.Graph.Hash(),
		FinalState:     e.StateSnapshot(),
		ExecutionOrder: order,
		Results:        results,
	}, nil
}
