package workflow

import (
	"context"
	"fmt"
	"fuzzrig/internal/minimize"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/telemetry"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultTminRuns is the number of engine runs per minimization round.
const DefaultTminRuns = 255

type TminRequest struct {
	Target string
	Build  types.BuildOptions
	Engine EngineOptions // Runs is the number of engine runs per round
	// Input is a path, an artifact file name or a unique artifact id prefix.
	Input     string
	MaxStalls int
	MaxRounds int
}

type TminResult struct {
	minimize.Result
	// Artifact is the persisted minimized input, unset when nothing was
	// removed from the original.
	Artifact types.CrashArtifact
}

// Tmin shrinks a crashing input. The smallest reproducing input found is
// persisted as a minimized artifact even when the minimization is cancelled.
func (w *Workflow) Tmin(ctx context.Context, req TminRequest) (result TminResult, err error) {
	ctx, tracer, end := w.span(ctx, "tmin", telemetry.Minimizing, req.Target)
	defer end(&err)

	input, err := w.resolveInput(req.Target, req.Input)
	if err != nil {
		return result, err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return result, fmt.Errorf("failed to read input: %w", err)
	}
	runs := req.Engine.Runs
	if runs == 0 {
		runs = w.project.Defaults().TminRuns
	}
	if runs == 0 {
		runs = DefaultTminRuns
	}
	engine := req.Engine
	engine.Runs = 0
	run, err := w.prepare(ctx, req.Target, req.Build, engine)
	if err != nil {
		return result, err
	}

	scratch, err := os.MkdirTemp("", "fuzzrig-tmin-*")
	if err != nil {
		return result, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	maxStalls := req.MaxStalls
	if maxStalls == 0 {
		maxStalls = w.config.Run.MaxStalls
	}
	budget := minimize.Budget{MaxStalls: maxStalls, MaxRounds: req.MaxRounds}
	if req.Engine.MaxTotalTime > 0 {
		budget.Deadline = time.Now().Add(req.Engine.MaxTotalTime)
	}

	w.logger.Info("minimizing crash",
		zap.String("target", req.Target),
		zap.String("input", input),
		zap.Int("size", len(data)),
		zap.Int("runs_per_round", runs))

	result.Result, err = w.tmin.Minimize(ctx, data,
		minimize.NewEngineShrinker(w.runner, run, scratch, runs, w.logger),
		minimize.ReplayPredicate(w.sup, run, scratch),
		budget)
	if err != nil {
		return result, err
	}
	w.metrics.ObserveReductions(req.Target, result.Accepted)
	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithExtraAttribute("tmin.rounds", result.Rounds).
		WithExtraAttribute("tmin.stop_reason", result.Reason.String()).
		WithExtraAttribute("tmin.size", len(result.Input)))

	if len(result.Input) < len(data) {
		result.Artifact, err = w.crashes.Persist(context.WithoutCancel(ctx), types.CrashInput{
			Target:     run.Target,
			Kind:       types.ArtifactMinimized,
			Data:       result.Input,
			Outcome:    types.Crashed(0, "", "", types.ArtifactMinimized),
			Sanitizers: run.Sanitizers,
		})
		if err != nil {
			return result, err
		}
		w.metrics.ObserveArtifact(req.Target, string(types.ArtifactMinimized))
		tracer.WithAttributes(telemetry.EmptySpanAttributes().WithArtifactPath(result.Artifact.Path))
	}

	w.logger.Info("minimization finished",
		zap.Stringer("reason", result.Reason),
		zap.Int("rounds", result.Rounds),
		zap.Int("accepted", result.Accepted),
		zap.Int("from", len(data)),
		zap.Int("to", len(result.Input)))

	if result.Artifact.Path != "" {
		fmt.Fprintln(w.out, result.Artifact.Path)
	} else {
		fmt.Fprintf(w.out, "%s could not be reduced (%s)\n", input, result.Reason)
	}
	if result.Reason == minimize.Cancelled {
		return result, types.ErrCancelled
	}
	return result, nil
}
