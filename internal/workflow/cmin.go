package workflow

import (
	"context"
	"fmt"
	"fuzzrig/internal/minimize"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/telemetry"

	"go.uber.org/zap"
)

type CminRequest struct {
	Target string
	Build  types.BuildOptions
	Engine EngineOptions
	// Corpus defaults to the target's corpus directory.
	Corpus string
}

// Cmin rewrites the corpus in place keeping only inputs that add coverage.
func (w *Workflow) Cmin(ctx context.Context, req CminRequest) (result minimize.CminResult, err error) {
	ctx, tracer, end := w.span(ctx, "cmin", telemetry.Minimizing, req.Target)
	defer end(&err)

	run, err := w.prepare(ctx, req.Target, req.Build, req.Engine)
	if err != nil {
		return result, err
	}
	corpus := req.Corpus
	if corpus == "" {
		corpus = w.project.CorpusDir(req.Target)
	}

	result, err = w.cmin.Minimize(ctx, run, corpus)
	if err != nil {
		return result, err
	}
	w.metrics.ObserveCorpus(req.Target, result.Before, result.After)
	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithCorpusSize(result.After).
		WithExtraAttribute("cmin.before", result.Before).
		WithExtraAttribute("cmin.features", result.Features))

	w.logger.Info("corpus minimized",
		zap.String("corpus", corpus),
		zap.Int("before", result.Before),
		zap.Int("after", result.After),
		zap.Int("features", result.Features),
		zap.Int("crashed", len(result.Crashed)))
	fmt.Fprintf(w.out, "%s: %d -> %d inputs, %d features\n", corpus, result.Before, result.After, result.Features)
	return result, nil
}
