package workflow

import (
	"context"
	"errors"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/telemetry"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

type RunRequest struct {
	Target string
	Build  types.BuildOptions
	Engine EngineOptions
	// Inputs are corpus directories to fuzz, or files to replay. Missing
	// paths are created as corpus directories.
	Inputs []string
}

// Run builds the target and either fuzzes the corpus directories or replays
// the given input files. A crash prints the failure report and is returned
// as *types.CrashFoundError.
func (w *Workflow) Run(ctx context.Context, req RunRequest) (outcome types.RunOutcome, err error) {
	ctx, tracer, end := w.span(ctx, "run", telemetry.Fuzzing, req.Target)
	defer end(&err)

	dirs, files, err := splitInputs(req.Inputs)
	if err != nil {
		return types.RunOutcome{}, err
	}
	run, err := w.prepare(ctx, req.Target, req.Build, req.Engine)
	if err != nil {
		return types.RunOutcome{}, err
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithSanitizers(sanitizerNames(run.Sanitizers)))

	start := time.Now()
	if len(files) > 0 {
		outcome = w.replayFiles(ctx, run, files)
		w.metrics.ObserveRun(req.Target, "replay", outcome.Kind.String(), time.Since(start))
	} else {
		if len(dirs) == 0 {
			dirs = []string{w.project.CorpusDir(req.Target)}
		}
		cleanup := w.attachDict(ctx, &run)
		defer cleanup()
		outcome = w.sup.Fuzz(ctx, run, dirs)
		w.metrics.ObserveRun(req.Target, "fuzz", outcome.Kind.String(), time.Since(start))
	}

	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithOutcome(outcome.Kind.String()).
		WithArtifactPath(outcome.ArtifactPath))
	if outcome.IsCrash() {
		if len(files) == 0 {
			w.metrics.ObserveArtifact(req.Target, string(outcome.ArtifactKind))
		}
		w.report(ctx, run, req.Build, outcome)
	}
	return outcome, outcome.Err()
}

func (w *Workflow) replayFiles(ctx context.Context, run fuzz.Run, files []string) types.RunOutcome {
	outcome := types.Clean()
	for _, file := range files {
		outcome = w.sup.Replay(ctx, run, file, false)
		if outcome.Kind != types.OutcomeClean {
			return outcome
		}
	}
	return outcome
}

// attachDict points the engine at the target's dictionary unless the engine
// arguments already name one.
func (w *Workflow) attachDict(ctx context.Context, run *fuzz.Run) func() {
	noop := func() {}
	if run.Engine.Dict != "" || slices.ContainsFunc(run.Engine.ExtraArgs, func(a string) bool {
		return strings.HasPrefix(a, "-dict=")
	}) {
		return noop
	}
	path, cleanup, err := w.dicts.GrabDict(ctx, w.project, run.Target.Name)
	if err != nil {
		w.logger.Warn("failed to grab dictionary, fuzzing without one", zap.Error(err))
		return noop
	}
	if path != "" {
		w.logger.Info("using dictionary", zap.String("dict", path))
		run.Engine.Dict = path
	}
	return cleanup
}

// splitInputs separates input files from corpus directories; mixing both is
// rejected.
func splitInputs(inputs []string) (dirs, files []string, err error) {
	for _, in := range inputs {
		info, err := os.Stat(in)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			dirs = append(dirs, in)
		case err != nil:
			return nil, nil, err
		case info.IsDir():
			dirs = append(dirs, in)
		default:
			files = append(files, in)
		}
	}
	if len(dirs) > 0 && len(files) > 0 {
		return nil, nil, &types.UnsupportedOptionError{
			Option: "corpus",
			Reason: "input files and corpus directories cannot be mixed",
		}
	}
	return dirs, files, nil
}
