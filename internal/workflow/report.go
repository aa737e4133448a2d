package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/process"
	"fuzzrig/internal/types"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	debugPathEnv = "RUST_LIBFUZZER_DEBUG_PATH"
	commandName  = "fuzzrig"
)

var (
	ruleColor    = color.New(color.FgRed)
	headingColor = color.New(color.Bold)
	hintColor    = color.New(color.FgCyan)
)

// report prints where the failing input went, how it looks and how to get it
// back.
func (w *Workflow) report(ctx context.Context, run fuzz.Run, opts types.BuildOptions, outcome types.RunOutcome) {
	path := outcome.ArtifactPath
	rule := strings.Repeat("─", 80)

	fmt.Fprintln(w.errOut)
	ruleColor.Fprintln(w.errOut, rule)
	fmt.Fprintln(w.errOut)
	if path == "" {
		headingColor.Fprintf(w.errOut, "Fuzz target %s\n\n", outcome)
		ruleColor.Fprintln(w.errOut, rule)
		return
	}

	headingColor.Fprintln(w.errOut, "Failing input:")
	fmt.Fprintf(w.errOut, "\n\t%s\n\n", path)

	debug, ok, err := w.debugOutput(ctx, run, path)
	switch {
	case err != nil:
		w.logger.Warn("failed to render the failing input", zap.Error(err))
	case ok:
		headingColor.Fprintln(w.errOut, "Output of `std::fmt::Debug`:")
		fmt.Fprintln(w.errOut)
		for _, line := range strings.Split(strings.TrimRight(debug, "\n"), "\n") {
			fmt.Fprintf(w.errOut, "\t%s\n", line)
		}
		fmt.Fprintln(w.errOut)
	}

	headingColor.Fprintln(w.errOut, "Reproduce with:")
	hintColor.Fprintf(w.errOut, "\n\t%s\n\n", hint("run", opts, run.Target.Name, path))
	headingColor.Fprintln(w.errOut, "Minimize test case with:")
	hintColor.Fprintf(w.errOut, "\n\t%s\n\n", hint("tmin", opts, run.Target.Name, path))
	ruleColor.Fprintln(w.errOut, rule)
	fmt.Fprintln(w.errOut)
}

func hint(subcommand string, opts types.BuildOptions, target, input string) string {
	parts := []string{commandName, subcommand}
	parts = append(parts, opts.CLIArgs()...)
	parts = append(parts, target, input)
	return strings.Join(parts, " ")
}

// debugOutput replays input with the debug path set. Targets built from
// structured inputs write the Debug rendering of the input there and exit;
// ok is false when the target wrote nothing.
func (w *Workflow) debugOutput(ctx context.Context, run fuzz.Run, input string) (string, bool, error) {
	scratch, err := os.MkdirTemp("", "fuzzrig-fmt-*")
	if err != nil {
		return "", false, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)
	debugPath := filepath.Join(scratch, "debug-"+uuid.NewString())

	var stderr bytes.Buffer
	exit, err := w.runner.Run(ctx, process.Command{
		Path:    run.Binary,
		Args:    run.Engine.ReplayArgs(input),
		Env:     process.Environ(append(run.Env, debugPathEnv+"="+debugPath)...),
		Stdout:  io.Discard,
		Stderr:  &stderr,
		Timeout: run.Timeout,
	})
	if err != nil {
		return "", false, &types.ToolError{Op: "run " + run.Binary, Err: err}
	}
	if exit.Cancelled {
		return "", false, types.ErrCancelled
	}

	content, err := os.ReadFile(debugPath)
	if errors.Is(err, fs.ErrNotExist) {
		w.logger.Debug("target wrote no debug output",
			zap.Int("exit_code", exit.Code),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read debug output: %w", err)
	}
	return string(content), true, nil
}
