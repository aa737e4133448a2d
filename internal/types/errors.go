package types

import (
	"context"
	"errors"
	"fmt"
)

// Process exit codes of the fuzzrig binary.
const (
	ExitOK          = 0
	ExitCrash       = 1
	ExitToolFailure = 2
	ExitUnsupported = 3
	ExitTimeout     = 4
	ExitCancelled   = 130
)

var (
	ErrTimeout             = errors.New("run exceeded its wall-clock bound")
	ErrCancelled           = errors.New("run cancelled")
	ErrMinimizationStalled = errors.New("no further reduction accepted")
)

// UnsupportedOptionError is returned before invoking the toolchain when the
// requested options cannot be combined.
type UnsupportedOptionError struct {
	Option string
	Reason string
}

func (e *UnsupportedOptionError) Error() string {
	return fmt.Sprintf("unsupported option %s: %s", e.Option, e.Reason)
}

// BuildFailedError carries the toolchain diagnostics verbatim.
type BuildFailedError struct {
	Target   string
	ExitCode int
	Stderr   string
}

func (e *BuildFailedError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("build failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("build of %s failed with exit code %d", e.Target, e.ExitCode)
}

// ToolError means a subprocess could not be spawned or a companion tool is missing.
type ToolError struct {
	Op  string
	Err error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// CrashFoundError reports a crash as a command result.
type CrashFoundError struct {
	Outcome RunOutcome
}

func (e *CrashFoundError) Error() string {
	return "fuzz target " + e.Outcome.String()
}

// ExitCode maps an error returned by a command pipeline to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		crash       *CrashFoundError
		unsupported *UnsupportedOptionError
		buildFailed *BuildFailedError
		toolErr     *ToolError
	)
	switch {
	case errors.As(err, &crash):
		return ExitCrash
	case errors.As(err, &unsupported):
		return ExitUnsupported
	case errors.As(err, &buildFailed), errors.As(err, &toolErr):
		return ExitToolFailure
	case errors.Is(err, ErrTimeout):
		return ExitTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	}
	return ExitToolFailure
}
