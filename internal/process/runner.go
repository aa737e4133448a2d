package process

import (
	"context"
	"io"
	"strings"
	"time"
)

// Command describes one subprocess invocation.
type Command struct {
	Path string
	Args []string
	Env  []string // full environment; nil inherits the current process environment
	Dir  string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Timeout is the wall-clock bound of the process, 0 means unbounded.
	Timeout time.Duration
}

func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	return strings.Join(parts, " ")
}

// Exit is how a supervised process ended.
type Exit struct {
	Code      int    // -1 when terminated by a signal
	Signal    string // e.g. "SIGSEGV", empty for a normal exit
	TimedOut  bool
	Cancelled bool
	Duration  time.Duration
}

func (e Exit) Success() bool {
	return e.Code == 0 && e.Signal == "" && !e.TimedOut && !e.Cancelled
}

// Runner executes subprocesses. Run blocks until the process has exited and
// returns an error only when the process could not be started; every other
// termination is described by Exit.
//
// When the timeout elapses the process group is interrupted, given a grace
// period, then killed. When ctx is done the process group is killed at once.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Exit, error)
}
