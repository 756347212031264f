package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskweaver/internal/cache"
	"taskweaver/internal/config"
	"taskweaver/internal/graph"
	"taskweaver/internal/hasher"
	"taskweaver/internal/logging"
	"taskweaver/internal/metrics"
	"taskweaver/internal/orchestrator"
	"taskweaver/internal/runner"
	"taskweaver/internal/trace"
)

// session is the loaded state one command works on.
type session struct {
	root    string
	cfg     *config.Config
	logger  *logrus.Logger
	snap    *graph.Snapshot
	metrics *metrics.Recorder
}

func openSession(ctx context.Context, g *globalFlags, s streams) (*session, error) {
	root, err := resolveRoot(g.workspace)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	logger := logging.New(level, s.stderr)

	loaded, err := config.LoadEnv(root)
	if err != nil {
		return nil, err
	}
	if len(loaded) > 0 {
		logger.WithField("files", strings.Join(loaded, ",")).Debug("environment loaded")
	}

	snap, err := loadWorkspace(ctx, root, g.graph, logger)
	if err != nil {
		return nil, err
	}
	return &session{root: root, cfg: cfg, logger: logger, snap: snap, metrics: metrics.New()}, nil
}

func (s *session) hasher() *hasher.Hasher {
	return hasher.New(s.snap, hasher.Options{
		WorkspaceRoot:             s.root,
		SelectivelyHashTypeConfig: s.cfg.SelectivelyHashTsConfig,
		RuntimeCacheInputs:        s.cfg.RuntimeCacheInputs,
		Metrics:                   s.metrics,
		Logger:                    s.logger,
	})
}

// runFlags are the execution options shared by run and run-many.
type runFlags struct {
	parallel      int
	skipCache     bool
	captureStderr bool
	prefixOutput  bool
	stream        bool
	tracePath     string
	metricsFile   string
}

func (f *runFlags) register(cmd *cobra.Command, stream bool) {
	fs := cmd.Flags()
	fs.IntVar(&f.parallel, "parallel", 0, "maximum number of tasks executing at once")
	fs.BoolVar(&f.skipCache, "skip-cache", false, "ignore cached results")
	fs.BoolVar(&f.captureStderr, "capture-stderr", false, "keep stderr in the cached output of successful tasks")
	fs.BoolVar(&f.prefixOutput, "prefix-output", false, "prefix every output line with the project name")
	fs.BoolVar(&f.stream, "stream", stream, "stream task output as it is produced")
	fs.StringVar(&f.tracePath, "trace", "", "write the run trace to this file")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write run metrics to this file")
}

// apply overlays the flags the user set on cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	if fs.Changed("parallel") {
		cfg.Parallel = f.parallel
	}
	if fs.Changed("skip-cache") {
		cfg.SkipCache = f.skipCache
	}
	if fs.Changed("capture-stderr") {
		cfg.CaptureStderr = f.captureStderr
	}
	if fs.Changed("prefix-output") {
		cfg.PrefixOutput = f.prefixOutput
	}
	if err := cfg.Validate(); err != nil {
		return invalidInvocationf("%v", err)
	}
	return nil
}

// runTasks executes tasks and reports the outcome. SIGINT ends the process
// from the signal actor; every other outcome returns.
func runTasks(ctx context.Context, sess *session, s streams, rf *runFlags, label string, tasks []graph.Task) error {
	cfg := sess.cfg
	tracker := runner.NewProcessTracker()
	fc := cache.NewFileCache(cfg.CachePath(sess.root))

	pool := runner.NewPool(runner.PoolOptions{
		Parallel:      cfg.Parallel,
		WorkspaceRoot: sess.root,
		Graph:         &sess.snap.ProjectGraph,
		SkipCache:     cfg.SkipCache,
		PrefixOutput:  cfg.PrefixOutput,
		Stdout:        s.stdout,
		Stderr:        s.stderr,
		Tracker:       tracker,
		LifeCycle:     &orchestrator.TerminalLifeCycle{Out: s.stdout, Prefix: cfg.PrefixOutput},
		Logger:        sess.logger,
		Metrics:       sess.metrics,
	})
	defer pool.Close()

	recorder := trace.NewRecorder()
	o := orchestrator.New(orchestrator.Options{
		Graph:         &sess.snap.ProjectGraph,
		Hasher:        sess.hasher(),
		Executor:      pool,
		Cache:         fc,
		OutputPath:    fc.TerminalOutputPath,
		Parallel:      cfg.Parallel,
		SkipCache:     cfg.SkipCache,
		StreamOutput:  rf.stream,
		CaptureStderr: cfg.CaptureStderr,
		PrefixOutput:  cfg.PrefixOutput,
		Stdout:        s.stdout,
		Trace:         recorder,
		Metrics:       sess.metrics,
		Logger:        sess.logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var summary *orchestrator.Summary
	var g run.Group
	g.Add(func() error {
		var err error
		summary, err = o.Run(ctx, tasks)
		return err
	}, func(error) {
		cancel()
	})
	signals := &runner.SignalHandler{Tracker: tracker, Exit: s.exit, Logger: sess.logger, Cancel: cancel}
	g.Add(func() error {
		return signals.Run(ctx)
	}, func(error) {
		cancel()
	})
	if err := g.Run(); err != nil {
		return err
	}

	if rf.tracePath != "" && len(summary.Tasks) > 0 {
		if err := recorder.Trace(string(summary.GraphHash)).WriteFile(rf.tracePath); err != nil {
			sess.logger.WithError(err).Warn("writing trace")
		}
	}
	if rf.metricsFile != "" {
		if err := sess.metrics.WriteTextfile(rf.metricsFile); err != nil {
			sess.logger.WithError(err).Warn("writing metrics")
		}
	}

	printSummary(s.stdout, label, summary)
	if summary.Failed() {
		return errTasksFailed
	}
	return nil
}

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func printSummary(w io.Writer, label string, summary *orchestrator.Summary) {
	if len(summary.Tasks) == 0 {
		fmt.Fprintf(w, "\nNo projects to run %s\n", label)
		return
	}
	cached := 0
	var failed []string
	for _, t := range summary.Tasks {
		if t.Cached {
			cached++
		}
		if t.Code != 0 {
			failed = append(failed, t.TaskID)
		}
	}

	noun := "project"
	if len(summary.Tasks) != 1 {
		noun = "projects"
	}
	if len(failed) == 0 {
		line := fmt.Sprintf("Successfully ran %s for %d %s", label, len(summary.Tasks), noun)
		if cached > 0 {
			line += fmt.Sprintf(" (%d read from cache)", cached)
		}
		fmt.Fprintf(w, "\n%s\n", successStyle.Render(line))
		return
	}
	fmt.Fprintf(w, "\n%s\n", failureStyle.Render(fmt.Sprintf("Ran %s for %d %s: %d failed", label, len(summary.Tasks), noun, len(failed))))
	for _, id := range failed {
		fmt.Fprintf(w, "    - %s\n", id)
	}
}
