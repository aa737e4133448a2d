package workflow

import (
	"context"
	"fmt"
	"fuzzrig/internal/coverage"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/toolchain"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/telemetry"

	"go.uber.org/zap"
)

type CoverageRequest struct {
	Target string
	Build  types.BuildOptions
	Engine EngineOptions
	// Dirs default to the target's corpus directory.
	Dirs      []string
	Policy    fuzz.CrashPolicy
	BatchSize int
	Rebuild   bool
}

// Coverage replays the corpus under a coverage build and merges the raw
// profiles into the target's coverage.profdata.
func (w *Workflow) Coverage(ctx context.Context, req CoverageRequest) (profile types.CoverageProfile, err error) {
	ctx, tracer, end := w.span(ctx, "coverage", telemetry.CoverageCollection, req.Target)
	defer end(&err)

	opts := req.Build
	opts.Coverage = true
	cfg, err := w.configure(ctx, req.Target, opts)
	if err != nil {
		return profile, err
	}
	caps, err := w.capabilities(ctx)
	if err != nil {
		return profile, err
	}
	// fail before building when the merge tool is missing
	profdata, err := toolchain.LocateProfdata(caps, cfg.ToolsPath())
	if err != nil {
		return profile, err
	}
	run, err := w.launch(ctx, cfg, req.Engine)
	if err != nil {
		return profile, err
	}

	dirs := req.Dirs
	if len(dirs) == 0 {
		dirs = []string{w.project.CorpusDir(req.Target)}
	}
	collection, err := w.merger.Collect(ctx, run, coverage.CollectOptions{
		Dirs:      dirs,
		Policy:    req.Policy,
		BuildKey:  cfg.Key(),
		BatchSize: req.BatchSize,
	})
	if err != nil {
		return profile, err
	}
	w.metrics.ObserveRawProfiles(req.Target, len(collection.RawFiles))
	crashes := collection.Report.Crashes()
	for _, c := range crashes {
		w.logger.Warn("input crashed during coverage collection",
			zap.String("input", c.Entry.Path),
			zap.Stringer("outcome", c.Outcome))
	}

	profile, err = w.merger.Merge(ctx, req.Target, coverage.MergeOptions{
		Profdata: profdata,
		Rebuild:  req.Rebuild,
		BuildKey: cfg.Key(),
	})
	if err != nil {
		return profile, err
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithCorpusSize(len(collection.Report.Results)).
		WithExtraAttribute("coverage.raw_files", len(collection.RawFiles)).
		WithExtraAttribute("coverage.crashes", len(crashes)))
	fmt.Fprintln(w.out, profile.Path)

	if req.Policy == fuzz.StopOnFirstCrash && len(crashes) > 0 {
		return profile, crashes[0].Outcome.Err()
	}
	return profile, nil
}
