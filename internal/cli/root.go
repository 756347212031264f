package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// streams are the process streams a command writes to.
type streams struct {
	stdout io.Writer
	stderr io.Writer
	// exit ends the process on SIGINT.
	exit func(int)
}

// globalFlags are shared by every command.
type globalFlags struct {
	workspace string
	graph     string
	logLevel  string
}

// NewRootCommand builds the taskweaver command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newRootCommand(streams{stdout: stdout, stderr: stderr, exit: os.Exit})
}

func newRootCommand(s streams) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "taskweaver",
		Short:         "Run monorepo tasks with content-addressed caching",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return invalidInvocationf("unknown command %q", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(s.stdout)
	root.SetErr(s.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.workspace, "workspace", "", "workspace root (defaults to the enclosing git repository)")
	pf.StringVar(&g.graph, "graph", "", "project graph snapshot (defaults to <workspace>/"+DefaultGraphFile+")")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides taskweaver.toml)")

	root.AddCommand(
		newRunManyCommand(s, g),
		newRunCommand(s, g),
		newHashCommand(s, g),
		newShowProjectsCommand(s, g),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return execute(ctx, args, streams{stdout: stdout, stderr: stderr, exit: os.Exit})
}

func execute(ctx context.Context, args []string, s streams) int {
	root := newRootCommand(s)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		_, _ = io.WriteString(s.stderr, "Error: "+err.Error()+"\n")
	}
	return ExitCode(err)
}
