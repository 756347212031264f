// Package cli implements the taskweaver command line.
package cli

import (
	"context"
	"errors"
	"fmt"

	"taskweaver/internal/config"
	"taskweaver/internal/dag"
	"taskweaver/internal/hasher"
	"taskweaver/internal/runner"
	"taskweaver/internal/selector"
)

const (
	ExitSuccess           = 0
	ExitTaskFailure       = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitInterrupted       = runner.ExitInterrupted
)

// errTasksFailed is returned when the run completed but a task failed.
var errTasksFailed = errors.New("one or more tasks failed")

// InvocationError carries the exit code of a failure detected before any
// task runs.
type InvocationError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error { return e.Err }

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configError(err error) error {
	return &InvocationError{ExitCode: ExitConfigError, Err: err}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var selErr *selector.SelectionError
	switch {
	case errors.Is(err, errTasksFailed):
		return ExitTaskFailure
	case errors.Is(err, runner.ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, hasher.ErrConfig),
		errors.Is(err, dag.ErrInvalidGraph),
		errors.Is(err, dag.ErrCycleFound),
		errors.As(err, &selErr):
		return ExitConfigError
	default:
		return ExitInternalError
	}
}
