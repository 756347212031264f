package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"taskweaver/internal/graph"
	"taskweaver/internal/selector"
)

// argsAfterDash returns the arguments given after "--".
func argsAfterDash(cmd *cobra.Command, args []string) []string {
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		return args[at:]
	}
	return nil
}

type selectFlags struct {
	target        string
	projects      []string
	all           bool
	exclude       []string
	configuration string
}

func (f *selectFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.target, "target", "t", "", "target to run")
	fs.StringSliceVarP(&f.projects, "projects", "p", nil, "projects to run (comma separated)")
	fs.BoolVar(&f.all, "all", false, "run the target on every project that has it")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "projects to leave out (comma separated)")
	fs.StringVarP(&f.configuration, "configuration", "c", "", "target configuration")
}

func (f *selectFlags) args() (selector.Args, error) {
	if f.target == "" {
		return selector.Args{}, invalidInvocationf("--target is required")
	}
	if !f.all && len(f.projects) == 0 {
		return selector.Args{}, invalidInvocationf("either --projects or --all is required")
	}
	return selector.Args{Target: f.target, Projects: f.projects, All: f.all, Exclude: f.exclude}, nil
}

func newRunManyCommand(s streams, g *globalFlags) *cobra.Command {
	sf := &selectFlags{}
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run-many --target <target> (--projects a,b | --all) [-- overrides]",
		Short: "Run a target on many projects",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > len(argsAfterDash(cmd, args)) {
				return invalidInvocationf("unexpected arguments before --: %q", args[:len(args)-len(argsAfterDash(cmd, args))])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := sf.args()
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), g, s)
			if err != nil {
				return err
			}
			if err := rf.apply(cmd, sess.cfg); err != nil {
				return err
			}
			projects, err := selector.Select(sel, &sess.snap.ProjectGraph, sess.logger)
			if err != nil {
				return err
			}
			tasks := selector.TasksFor(projects, sf.target, sf.configuration, parseOverrides(argsAfterDash(cmd, args)))
			return runTasks(cmd.Context(), sess, s, rf, "target "+sf.target, tasks)
		},
	}
	sf.register(cmd)
	rf.register(cmd, false)
	return cmd
}

func parseTaskArg(arg string) (graph.TargetRef, error) {
	ref, err := graph.ParseTargetRef(arg)
	if err != nil {
		return graph.TargetRef{}, invalidInvocationf("%v", err)
	}
	return ref, nil
}

// lookupTask resolves a single target reference against the graph.
func lookupTask(snap *graph.Snapshot, ref graph.TargetRef, overrides map[string]any) (graph.Task, error) {
	p, ok := snap.Nodes[ref.Project]
	if !ok {
		return graph.Task{}, &selector.SelectionError{Unknown: []string{ref.Project}}
	}
	if !p.HasTarget(ref.Target) {
		return graph.Task{}, configError(fmt.Errorf("project %q has no target %q", ref.Project, ref.Target))
	}
	return graph.NewTask(ref, overrides), nil
}

func newRunCommand(s streams, g *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <project:target[:configuration]> [-- overrides]",
		Short: "Run one target of one project",
		Args: func(cmd *cobra.Command, args []string) error {
			before := len(args) - len(argsAfterDash(cmd, args))
			if before != 1 {
				return invalidInvocationf("expected exactly one project:target argument, got %d", before)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTaskArg(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), g, s)
			if err != nil {
				return err
			}
			if err := rf.apply(cmd, sess.cfg); err != nil {
				return err
			}
			task, err := lookupTask(sess.snap, ref, parseOverrides(argsAfterDash(cmd, args)))
			if err != nil {
				return err
			}
			return runTasks(cmd.Context(), sess, s, rf, "target "+ref.Target, []graph.Task{task})
		},
	}
	rf.register(cmd, true)
	return cmd
}

func newHashCommand(s streams, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <project:target[:configuration]> [-- overrides]",
		Short: "Print a task's fingerprint and what contributed to it",
		Args: func(cmd *cobra.Command, args []string) error {
			if before := len(args) - len(argsAfterDash(cmd, args)); before != 1 {
				return invalidInvocationf("expected exactly one project:target argument, got %d", before)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTaskArg(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), g, s)
			if err != nil {
				return err
			}
			task, err := lookupTask(sess.snap, ref, parseOverrides(argsAfterDash(cmd, args)))
			if err != nil {
				return err
			}
			th, err := sess.hasher().HashTask(cmd.Context(), task)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(th, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(s.stdout, string(b))
			return err
		},
	}
}

func newShowProjectsCommand(s streams, g *globalFlags) *cobra.Command {
	sf := &selectFlags{}
	cmd := &cobra.Command{
		Use:   "show-projects --target <target> [--projects a,b] [--exclude x]",
		Short: "List the projects run-many would run",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return invalidInvocationf("unexpected arguments: %q", args)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(sf.projects) == 0 {
				sf.all = true
			}
			sel, err := sf.args()
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), g, s)
			if err != nil {
				return err
			}
			projects, err := selector.Select(sel, &sess.snap.ProjectGraph, sess.logger)
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Fprintln(s.stdout, p.Name)
			}
			return nil
		},
	}
	sf.register(cmd)
	return cmd
}
