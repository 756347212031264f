package hasher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"taskweaver/internal/graph"
	"taskweaver/internal/logging"
	"taskweaver/internal/metrics"
)

// ImplicitRootFiles are hashed into every task as workspace-rooted filesets,
// together with the workspace's implicit dependency keys.
var ImplicitRootFiles = []string{
	"taskweaver.toml",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	".gitignore",
	".weaverignore",
}

// HashResult is a fingerprint plus its named contributions.
type HashResult struct {
	Value   string
	Details map[string]string
}

// WorkspaceFileLister lists every tracked workspace file.
type WorkspaceFileLister interface {
	WorkspaceFiles() []graph.FileData
}

// CommandRunner runs a runtime input command in dir and returns its output.
type CommandRunner func(ctx context.Context, dir, command string) ([]byte, error)

// Options configures a TaskHasher.
type Options struct {
	// WorkspaceRoot is where runtime commands run and root filesets resolve.
	WorkspaceRoot string
	// SelectivelyHashTypeConfig reduces the type config to the project's
	// own path alias.
	SelectivelyHashTypeConfig bool
	// RuntimeCacheInputs are runtime commands hashed into every task.
	RuntimeCacheInputs []string

	Hashing    Hashing
	TypeConfig *TypeConfig
	Files      WorkspaceFileLister
	RunCommand CommandRunner
	Getenv     func(string) (string, bool)
	Metrics    *metrics.Recorder
	Logger     logrus.FieldLogger
}

// TaskHasher computes the input hash of one task, without the task's
// identity. It memoizes fileset and runtime contributions for its lifetime
// and is safe for concurrent use.
type TaskHasher struct {
	graph     *graph.ProjectGraph
	workspace graph.WorkspaceConfig
	opts      Options

	hashing    Hashing
	typeConfig TypeConfig
	files      WorkspaceFileLister

	implicitFilesets []string
	implicitRuntime  []graph.InputDefinition

	filesets *onceCache
	runtimes *onceCache
}

// NewTaskHasher creates a TaskHasher over an immutable graph snapshot.
func NewTaskHasher(g *graph.ProjectGraph, ws graph.WorkspaceConfig, opts Options) *TaskHasher {
	h := &TaskHasher{graph: g, workspace: ws, opts: opts}

	h.hashing = opts.Hashing
	if h.hashing == nil {
		h.hashing = NewDefaultHashing()
	}
	if opts.TypeConfig != nil {
		h.typeConfig = *opts.TypeConfig
	} else {
		h.typeConfig = LoadTypeConfig(opts.WorkspaceRoot)
	}
	h.files = opts.Files
	if h.files == nil {
		h.files = g
	}
	if h.opts.RunCommand == nil {
		h.opts.RunCommand = runShell
	}
	if h.opts.Getenv == nil {
		h.opts.Getenv = os.LookupEnv
	}
	if h.opts.Logger == nil {
		h.opts.Logger = logging.Discard()
	}

	for _, f := range ws.ImplicitDependencyFiles() {
		h.implicitFilesets = append(h.implicitFilesets, graph.WorkspaceRootToken+"/"+f)
	}
	for _, f := range ImplicitRootFiles {
		h.implicitFilesets = append(h.implicitFilesets, graph.WorkspaceRootToken+"/"+f)
	}
	for _, c := range opts.RuntimeCacheInputs {
		h.implicitRuntime = append(h.implicitRuntime, graph.Runtime(c))
	}

	h.filesets = newOnceCache(metrics.CacheFileset, opts.Metrics)
	h.runtimes = newOnceCache(metrics.CacheRuntime, opts.Metrics)
	return h
}

// hashNode is one entry of the dependency plan: a task together with the
// dependency tasks it folds in, in fold order.
type hashNode struct {
	task     graph.Task
	external bool
	inputs   Inputs
	children []*hashNode
}

// HashTask returns the input hash of task. visited is shared by the whole
// call tree of one root hash; pass NewVisitedSet(rootProject).
//
// Dependency traversal is planned breadth-first before anything is hashed,
// so which branch claims a shared (project, input) pair depends only on the
// graph. The plan is then evaluated concurrently.
func (h *TaskHasher) HashTask(ctx context.Context, task graph.Task, visited *VisitedSet) (HashResult, error) {
	root, err := h.plan(task, visited)
	if err != nil {
		return HashResult{}, err
	}
	return h.evaluate(ctx, root)
}

func (h *TaskHasher) plan(task graph.Task, visited *VisitedSet) (*hashNode, error) {
	root, err := h.newNode(task)
	if err != nil {
		return nil, err
	}
	queue := []*hashNode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.external {
			continue
		}
		deps := h.graph.DependenciesOf(n.task.Target.Project)
		for _, input := range n.inputs.Deps {
			for _, d := range deps {
				if !visited.Visit(d.Target, input) {
					continue
				}
				child, err := h.newNode(graph.InputTask(d.Target, input))
				if err != nil {
					return nil, err
				}
				n.children = append(n.children, child)
				queue = append(queue, child)
			}
		}
	}
	return root, nil
}

func (h *TaskHasher) newNode(task graph.Task) (*hashNode, error) {
	p, ok := h.graph.Nodes[task.Target.Project]
	if !ok {
		return &hashNode{task: task, external: true}, nil
	}
	inputs, err := h.inputsFor(task, p)
	if err != nil {
		return nil, err
	}
	return &hashNode{task: task, inputs: inputs}, nil
}

func (h *TaskHasher) inputsFor(task graph.Task, p *graph.ProjectNode) (Inputs, error) {
	named := h.workspace.MergedNamedInputs(p)
	if task.IsInputTask() {
		name := task.Target.Configuration
		self, err := ExpandNamedInput(name, named)
		if err != nil {
			return Inputs{}, err
		}
		return Inputs{Self: self, Deps: []string{name}}, nil
	}

	target, ok := p.Data.Targets[task.Target.Target]
	if !ok {
		return Inputs{}, configErrorf("project '%s' does not have a target '%s'", p.Name, task.Target.Target)
	}
	// An explicitly empty list is a declaration of no inputs.
	inputs := target.Inputs
	if inputs == nil {
		if d, ok := h.workspace.TargetDefaults[task.Target.Target]; ok && d.Inputs != nil {
			inputs = d.Inputs
		}
	}
	if inputs == nil {
		inputs = DefaultInputs()
	}
	res, err := SplitInputs(inputs, named)
	if err != nil {
		return Inputs{}, fmt.Errorf("%s: %w", task.ID, err)
	}
	return res, nil
}

func (h *TaskHasher) evaluate(ctx context.Context, n *hashNode) (HashResult, error) {
	if n.external {
		return h.hashExternalDependency(n.task.Target.Project), nil
	}

	var self []HashResult
	deps := make([]HashResult, len(n.children))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		self, err = h.hashSelfInputs(gctx, n.task, n.inputs.Self)
		return err
	})
	for i, child := range n.children {
		g.Go(func() error {
			r, err := h.evaluate(gctx, child)
			deps[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return HashResult{}, err
	}
	return h.combine(append(self, deps...)), nil
}

// combine folds parts in order. Details are merged in the same order; a
// later part overwrites an earlier one under the same key.
func (h *TaskHasher) combine(parts []HashResult) HashResult {
	values := make([]string, len(parts))
	details := map[string]string{}
	for i, p := range parts {
		values[i] = p.Value
		for k, v := range p.Details {
			details[k] = v
		}
	}
	return HashResult{Value: h.hashing.HashArray(values), Details: details}
}

func (h *TaskHasher) hashSelfInputs(ctx context.Context, task graph.Task, inputs []graph.InputDefinition) ([]HashResult, error) {
	var projectFilesets, rootFilesets []string
	var others []graph.InputDefinition
	for _, in := range inputs {
		switch {
		case in.Fileset == "":
			others = append(others, in)
		case strings.HasPrefix(in.Fileset, graph.WorkspaceRootToken+"/"):
			rootFilesets = append(rootFilesets, in.Fileset)
		case in.IsWorkspaceRooted():
			h.opts.Logger.WithField("task", task.ID).Warnf("ignoring fileset %q: expected %s/<path>", in.Fileset, graph.WorkspaceRootToken)
		default:
			projectFilesets = append(projectFilesets, in.Fileset)
		}
	}
	rootFilesets = append(rootFilesets, h.implicitFilesets...)
	others = append(others, h.implicitRuntime...)

	jobs := []func(context.Context) (HashResult, error){
		func(context.Context) (HashResult, error) {
			return h.hashProjectFileset(task.Target.Project, projectFilesets)
		},
	}
	for _, fs := range rootFilesets {
		jobs = append(jobs, func(context.Context) (HashResult, error) {
			return h.hashRootFileset(fs)
		})
	}
	for _, in := range others {
		switch {
		case in.Runtime != "":
			jobs = append(jobs, func(ctx context.Context) (HashResult, error) {
				return h.hashRuntime(ctx, in.Runtime)
			})
		case in.Env != "":
			jobs = append(jobs, func(context.Context) (HashResult, error) {
				return h.hashEnv(in.Env), nil
			})
		default:
			return nil, configErrorf("%s: unsupported input %s", task.ID, in)
		}
	}

	results := make([]HashResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			r, err := job(gctx)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// hashProjectFileset hashes the project's files that match patterns. With no
// patterns every project file matches.
func (h *TaskHasher) hashProjectFileset(project string, patterns []string) (HashResult, error) {
	key := project + ":$filesets"
	sorted := slices.Clone(patterns)
	slices.Sort(sorted)
	memoKey := key + "\x00" + strings.Join(slices.Compact(sorted), "\x00")

	return h.filesets.Get(memoKey, func() (HashResult, error) {
		p := h.graph.Nodes[project]
		files, err := filterFiles(p.Data.Files, patterns, p.Data.Root)
		if err != nil {
			return HashResult{}, fmt.Errorf("%s: %w", project, err)
		}

		values := make([]string, 0, 2*len(files)+2)
		for _, f := range files {
			values = append(values, f.File)
		}
		for _, f := range files {
			values = append(values, f.Hash)
		}
		data := p.Data
		data.Files = nil
		meta, err := json.Marshal(data)
		if err != nil {
			return HashResult{}, &HashError{Component: key, Err: err}
		}
		values = append(values, string(meta),
			h.typeConfig.Fragment(h.opts.SelectivelyHashTypeConfig, h.workspace.NpmScope, p.Data.Root))

		value := h.hashing.HashArray(values)
		return HashResult{Value: value, Details: map[string]string{key: value}}, nil
	})
}

func filterFiles(files []graph.FileData, patterns []string, projectRoot string) ([]graph.FileData, error) {
	var resolved []string
	for _, p := range patterns {
		if p == graph.DefaultInput {
			return files, nil
		}
		p = strings.ReplaceAll(p, graph.ProjectRootToken, projectRoot)
		if !doublestar.ValidatePattern(p) {
			return nil, configErrorf("invalid fileset pattern %q", p)
		}
		resolved = append(resolved, p)
	}
	if len(resolved) == 0 {
		return files, nil
	}
	var out []graph.FileData
	for _, f := range files {
		for _, p := range resolved {
			if doublestar.MatchUnvalidated(p, f.File) {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

// hashRootFileset hashes a "{workspaceRoot}/<path>" fileset. A pattern with a
// wildcard is matched against every workspace file; a plain path is hashed
// only if the file exists.
func (h *TaskHasher) hashRootFileset(fileset string) (HashResult, error) {
	return h.filesets.Get(fileset, func() (HashResult, error) {
		rel := strings.TrimPrefix(fileset, graph.WorkspaceRootToken+"/")
		var parts []string
		if strings.Contains(rel, "*") {
			if !doublestar.ValidatePattern(rel) {
				return HashResult{}, configErrorf("invalid fileset pattern %q", fileset)
			}
			for _, f := range h.files.WorkspaceFiles() {
				if doublestar.MatchUnvalidated(rel, f.File) {
					parts = append(parts, h.hashFile(f.File))
				}
			}
		} else if _, err := os.Stat(h.abs(rel)); err == nil {
			parts = append(parts, h.hashFile(rel))
		}
		value := h.hashing.HashArray(parts)
		return HashResult{Value: value, Details: map[string]string{fileset: value}}, nil
	})
}

// hashFile digests a workspace-relative file. A file that disappears between
// listing and hashing contributes an empty digest.
func (h *TaskHasher) hashFile(rel string) string {
	d, err := h.hashing.HashFile(h.abs(rel))
	if err != nil {
		h.opts.Logger.WithError(err).WithField("file", rel).Debug("file not hashable")
		return ""
	}
	return d
}

func (h *TaskHasher) abs(rel string) string {
	return filepath.Join(h.opts.WorkspaceRoot, filepath.FromSlash(rel))
}

func (h *TaskHasher) hashRuntime(ctx context.Context, command string) (HashResult, error) {
	key := "runtime:" + command
	return h.runtimes.Get(key, func() (HashResult, error) {
		h.opts.Metrics.RuntimeCommand()
		out, err := h.opts.RunCommand(ctx, h.opts.WorkspaceRoot, command)
		if err != nil {
			return HashResult{}, &HashError{Component: fmt.Sprintf("{runtime: '%s'}", command), Err: err}
		}
		value := h.hashing.HashArray([]string{strings.TrimSpace(string(out))})
		return HashResult{Value: value, Details: map[string]string{key: value}}, nil
	})
}

// hashEnv hashes an environment variable. An unset variable hashes as
// "undefined", distinct from one set to the empty string.
func (h *TaskHasher) hashEnv(name string) HashResult {
	v, ok := h.opts.Getenv(name)
	if !ok {
		v = "undefined"
	}
	value := h.hashing.HashArray([]string{v})
	return HashResult{Value: value, Details: map[string]string{"runtime:" + name: value}}
}

// hashExternalDependency hashes a package outside the workspace by version.
// Without a version the package contributes the sentinel "__<name>__".
func (h *TaskHasher) hashExternalDependency(name string) HashResult {
	var version string
	if n, ok := h.graph.ExternalNodes[name]; ok && n != nil {
		version = n.Data.Version
	}
	if version == "" {
		sentinel := "__" + name + "__"
		return HashResult{Value: sentinel, Details: map[string]string{name: sentinel}}
	}
	return HashResult{Value: h.hashing.HashArray([]string{version}), Details: map[string]string{name: version}}
}

// runShell runs command through sh and returns stdout followed by stderr.
func runShell(ctx context.Context, dir, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return append(stdout.Bytes(), stderr.Bytes()...), nil
}
