package workflow

import (
	"context"
	"fmt"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/telemetry"
	"os"
)

type FmtRequest struct {
	Target string
	Build  types.BuildOptions
	// Input is a path, an artifact file name or a unique artifact id prefix.
	Input string
}

// Fmt prints the Debug rendering of one input.
func (w *Workflow) Fmt(ctx context.Context, req FmtRequest) (err error) {
	ctx, _, end := w.span(ctx, "fmt", telemetry.Testing, req.Target)
	defer end(&err)

	input, err := w.resolveInput(req.Target, req.Input)
	if err != nil {
		return err
	}
	run, err := w.prepare(ctx, req.Target, req.Build, EngineOptions{})
	if err != nil {
		return err
	}
	debug, ok, err := w.debugOutput(ctx, run, input)
	if err != nil {
		return err
	}
	if !ok {
		return &types.ToolError{
			Op:  "fmt " + req.Target,
			Err: fmt.Errorf("the target wrote no debug output for %s; only targets taking structured inputs support fmt", input),
		}
	}
	_, err = fmt.Fprint(w.out, debug)
	return err
}

// resolveInput accepts an existing file, otherwise looks the reference up
// among the target's artifacts.
func (w *Workflow) resolveInput(target, ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
		return ref, nil
	}
	artifact, err := w.crashes.Lookup(target, ref)
	if err != nil {
		return "", err
	}
	return artifact.Path, nil
}
