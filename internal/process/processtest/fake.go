// Package processtest provides a scripted process.Runner for tests.
package processtest

import (
	"context"
	"fuzzrig/internal/process"
	"path/filepath"
	"sync"
)

// Handler scripts the behaviour of one invocation. It may write to the
// command's Stdout/Stderr or create files, exactly like the real tool would.
type Handler func(ctx context.Context, cmd process.Command) (process.Exit, error)

// Runner dispatches invocations to handlers keyed by the base name of the
// executable, falling back to Default.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []process.Command

	Default Handler
}

func New() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

// On registers the handler for executables whose base name is name.
func (r *Runner) On(name string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	return r
}

func (r *Runner) Run(ctx context.Context, cmd process.Command) (process.Exit, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	h, ok := r.handlers[filepath.Base(cmd.Path)]
	if !ok {
		h = r.Default
	}
	r.mu.Unlock()

	if ctx.Err() != nil {
		return process.Exit{Code: -1, Cancelled: true}, nil
	}
	if h == nil {
		return process.Exit{}, nil
	}
	return h(ctx, cmd)
}

// Calls returns a copy of every command run so far.
func (r *Runner) Calls() []process.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]process.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsTo returns the commands whose executable base name is name.
func (r *Runner) CallsTo(name string) []process.Command {
	var out []process.Command
	for _, c := range r.Calls() {
		if filepath.Base(c.Path) == name {
			out = append(out, c)
		}
	}
	return out
}

// ExitCode is a handler that always exits with code.
func ExitCode(code int) Handler {
	return func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		return process.Exit{Code: code}, nil
	}
}

// Output is a handler that writes stdout and exits 0.
func Output(stdout string) Handler {
	return func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		if cmd.Stdout != nil {
			_, _ = cmd.Stdout.Write([]byte(stdout))
		}
		return process.Exit{}, nil
	}
}

// Arg returns the value of a "-name=value" style argument, if present.
func Arg(cmd process.Command, name string) (string, bool) {
	prefix := "-" + name + "="
	for _, a := range cmd.Args {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			return a[len(prefix):], true
		}
	}
	return "", false
}

// EnvValue returns the value of key in the command environment.
func EnvValue(cmd process.Command, key string) (string, bool) {
	prefix := key + "="
	for i := len(cmd.Env) - 1; i >= 0; i-- {
		if len(cmd.Env[i]) >= len(prefix) && cmd.Env[i][:len(prefix)] == prefix {
			return cmd.Env[i][len(prefix):], true
		}
	}
	return "", false
}
