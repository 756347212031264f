package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"taskweaver/internal/graph"
	"taskweaver/internal/logging"
	"taskweaver/internal/metrics"
)

// Terminal status names passed to LifeCycle.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ErrPoolClosed is reported for work submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// LifeCycle receives the captured output of tasks that did not stream.
type LifeCycle interface {
	PrintTaskTerminalOutput(task graph.Task, status string, terminalOutput string)
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Parallel      int
	WorkspaceRoot string
	Graph         *graph.ProjectGraph

	// SkipCache is forwarded to children as TASKWEAVER_SKIP_CACHE.
	SkipCache bool
	// PrefixOutput prefixes streamed lines with "[project] ".
	PrefixOutput bool

	Stdout io.Writer
	Stderr io.Writer

	Executor  TaskExecutor
	Tracker   *ProcessTracker
	LifeCycle LifeCycle
	Logger    logrus.FieldLogger
	Metrics   *metrics.Recorder
}

// ExecuteOptions configures one task execution.
type ExecuteOptions struct {
	StreamOutput bool
	// CaptureStderr keeps stderr in the persisted log of a successful task.
	CaptureStderr bool
	// OutputPath is the task's persisted log.
	OutputPath string

	OnStdout func([]byte)
	OnStderr func([]byte)
}

// Result is the outcome of one task execution. Code is 0 on success and 1
// otherwise.
type Result struct {
	Code           int
	Error          string
	TerminalOutput string
}

type job struct {
	ctx   context.Context
	task  graph.Task
	opts  ExecuteOptions
	reply chan reply

	batch     *Batch
	batchOpts BatchOptions
}

type reply struct {
	result  Result
	results map[string]Result
	err     error
}

// Pool runs tasks on a fixed set of long-lived workers fed by a job queue.
// Each worker runs at most one task at a time.
type Pool struct {
	opts     PoolOptions
	executor TaskExecutor
	logger   logrus.FieldLogger
	stdout   io.Writer
	stderr   io.Writer

	jobs     chan job
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool starts opts.Parallel workers.
func NewPool(opts PoolOptions) *Pool {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	p := &Pool{
		opts:     opts,
		executor: opts.Executor,
		logger:   opts.Logger,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		jobs:     make(chan job),
		quit:     make(chan struct{}),
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.stdout == nil {
		p.stdout = os.Stdout
	}
	if p.stderr == nil {
		p.stderr = os.Stderr
	}
	if p.executor == nil {
		env := []string{"FORCE_COLOR=true"}
		if opts.SkipCache {
			env = append(env, "TASKWEAVER_SKIP_CACHE=true")
		}
		p.executor = &ShellExecutor{Env: env, Tracker: opts.Tracker}
	}

	for i := 0; i < opts.Parallel; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			p.opts.Metrics.WorkerBusy(true)
			if j.batch != nil {
				results, err := p.runBatch(j.ctx, *j.batch, j.batchOpts)
				j.reply <- reply{results: results, err: err}
			} else {
				j.reply <- reply{result: p.execute(j.ctx, j.task, j.opts)}
			}
			p.opts.Metrics.WorkerBusy(false)
		}
	}
}

// submit queues j and waits for its reply.
func (p *Pool) submit(ctx context.Context, j job) (reply, error) {
	j.ctx = ctx
	j.reply = make(chan reply, 1)
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-p.quit:
		return reply{}, ErrPoolClosed
	}
	return <-j.reply, nil
}

// ExecuteTask runs task on the next free worker and waits for the result.
func (p *Pool) ExecuteTask(ctx context.Context, task graph.Task, opts ExecuteOptions) Result {
	r, err := p.submit(ctx, job{task: task, opts: opts})
	if err != nil {
		return Result{Code: 1, Error: err.Error(), TerminalOutput: err.Error()}
	}
	return r.result
}

// Close stops the workers after their current task.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
}

func (p *Pool) execute(ctx context.Context, task graph.Task, opts ExecuteOptions) Result {
	start := time.Now()
	log := p.logger.WithField("task", task.ID)

	prefix := ""
	if p.opts.PrefixOutput {
		prefix = ProjectPrefix(task.Target.Project, ProjectStyle(task.Target.Project))
	}
	mux := NewMultiplexer(OutputOptions{
		LogPath:        opts.OutputPath,
		Stream:         opts.StreamOutput,
		Prefix:         prefix,
		TerminalStdout: p.stdout,
		TerminalStderr: p.stderr,
		OnStdout:       opts.OnStdout,
		OnStderr:       opts.OnStderr,
	})
	defer mux.Close()
	if err := mux.Open(); err != nil {
		log.WithError(err).Warn("opening task log")
	}

	code, errText := p.run(ctx, task, opts, mux)

	if err := mux.Finish(code, opts.CaptureStderr); err != nil {
		log.WithError(err).Warn("writing task log")
	}
	terminalOutput, err := readTerminalOutput(opts.OutputPath)
	if err != nil {
		log.WithError(err).WithField("code", code).Warnf("unable to read terminal output for task %q", task.ID)
	} else if !opts.StreamOutput && p.opts.LifeCycle != nil {
		status := StatusSuccess
		if code != 0 {
			status = StatusFailure
		}
		p.opts.LifeCycle.PrintTaskTerminalOutput(task, status, terminalOutput)
	}
	if terminalOutput == "" {
		terminalOutput = errText
	}

	p.opts.Metrics.TaskDuration(task.Target.Target, time.Since(start))
	log.WithFields(logrus.Fields{"code": code, "duration": time.Since(start).Round(time.Millisecond)}).Debug("task finished")
	return Result{Code: code, Error: errText, TerminalOutput: terminalOutput}
}

// run executes the task command through mux and maps the outcome to a
// status code.
func (p *Pool) run(ctx context.Context, task graph.Task, opts ExecuteOptions, mux *Multiplexer) (int, string) {
	cmd, err := ResolveCommand(p.opts.Graph, p.opts.WorkspaceRoot, task)
	if err != nil {
		fmt.Fprintln(mux.Stderr(), err.Error())
		return 1, err.Error()
	}
	if opts.StreamOutput {
		p.echo(cmd.Line)
	}
	status, err := p.executor.Execute(ctx, cmd, mux.Stdout(), mux.Stderr())
	switch {
	case err != nil:
		fmt.Fprintln(mux.Stderr(), err.Error())
		return 1, err.Error()
	case status != 0:
		return 1, fmt.Sprintf("command %q exited with code %d", cmd.Line, status)
	default:
		return 0, ""
	}
}

var commandStyle = lipgloss.NewStyle().Bold(true)

func (p *Pool) echo(line string) {
	fmt.Fprintf(p.stdout, "%s\n\n", commandStyle.Render("> "+line))
}

func readTerminalOutput(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
