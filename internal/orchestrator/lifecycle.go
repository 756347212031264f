package orchestrator

import (
	"io"
	"sync"

	"taskweaver/internal/graph"
	"taskweaver/internal/runner"
)

// TerminalLifeCycle prints the captured output of tasks that did not
// stream, one task at a time.
type TerminalLifeCycle struct {
	Out    io.Writer
	Prefix bool

	mu sync.Mutex
}

func (l *TerminalLifeCycle) PrintTaskTerminalOutput(task graph.Task, status, output string) {
	if output == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.Out
	if l.Prefix {
		w = runner.NewLinePrefixer(w, runner.ProjectPrefix(task.Target.Project, runner.ProjectStyle(task.Target.Project)))
	}
	_, _ = io.WriteString(w, output)
}
