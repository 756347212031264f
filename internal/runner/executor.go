package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"taskweaver/internal/graph"
)

// Command is one resolved task invocation.
type Command struct {
	Task graph.Task
	// Dir is the working directory, normally the project root.
	Dir string
	// Line is the shell command line.
	Line string
}

// TaskExecutor runs a resolved command to completion, writing its output to
// stdout and stderr, and returns its exit code. A non-nil error means the
// command could not be run at all.
type TaskExecutor interface {
	Execute(ctx context.Context, cmd Command, stdout, stderr io.Writer) (int, error)
}

// ShellExecutor runs commands with "sh -c" in their own process group, so
// that cancellation and signals reach the whole process tree.
type ShellExecutor struct {
	// Env is appended to the inherited environment.
	Env     []string
	Tracker *ProcessTracker
}

// Execute runs cmd. When ctx is cancelled the process group is killed.
func (e *ShellExecutor) Execute(ctx context.Context, cmd Command, stdout, stderr io.Writer) (int, error) {
	if cmd.Line == "" {
		return 0, fmt.Errorf("task %s has no command", cmd.Task.ID)
	}

	c := exec.Command("sh", "-c", cmd.Line)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), e.Env...)
	c.Env = append(c.Env, taskEnv(cmd.Task)...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Stdout = stdout
	c.Stderr = stderr

	if e.Tracker.Closed() {
		return 0, fmt.Errorf("not starting %s: %w", cmd.Task.ID, ErrInterrupted)
	}
	if err := c.Start(); err != nil {
		return 0, fmt.Errorf("failed to start command: %w", err)
	}
	untrack := e.Tracker.Track(c.Process)
	defer untrack()

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		<-done
		return 0, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("failed to execute command: %w", err)
	}
	return 0, nil
}

func taskEnv(t graph.Task) []string {
	env := []string{
		"TASKWEAVER_TASK_ID=" + t.ID,
		"TASKWEAVER_TASK_PROJECT=" + t.Target.Project,
		"TASKWEAVER_TASK_TARGET=" + t.Target.Target,
		"TASKWEAVER_TASK_CONFIGURATION=" + t.Target.Configuration,
	}
	if t.Verbose() {
		env = append(env, "TASKWEAVER_VERBOSE_LOGGING=true")
	}
	return env
}

// ResolveCommand maps a task to the command its target declares. Overrides
// are forwarded as arguments: the raw unparsed text when present, otherwise
// --key=value pairs in key order.
func ResolveCommand(g *graph.ProjectGraph, workspaceRoot string, t graph.Task) (Command, error) {
	p, ok := g.Nodes[t.Target.Project]
	if !ok {
		return Command{}, fmt.Errorf("project %q not found", t.Target.Project)
	}
	target, ok := p.Data.Targets[t.Target.Target]
	if !ok {
		return Command{}, fmt.Errorf("project %q has no target %q", t.Target.Project, t.Target.Target)
	}
	line := target.Command
	if args := forwardedArgs(t.Overrides); args != "" {
		line += " " + args
	}
	return Command{
		Task: t,
		Dir:  filepath.Join(workspaceRoot, filepath.FromSlash(p.Data.Root)),
		Line: line,
	}, nil
}

func forwardedArgs(overrides map[string]any) string {
	if raw, ok := overrides[graph.UnparsedOverridesKey].(string); ok {
		return strings.TrimSpace(raw)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if k == graph.UnparsedOverridesKey {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := overrides[k].(type) {
		case bool:
			if v {
				args = append(args, "--"+k)
			} else {
				args = append(args, "--"+k+"=false")
			}
		default:
			args = append(args, fmt.Sprintf("--%s=%v", k, v))
		}
	}
	return strings.Join(args, " ")
}
