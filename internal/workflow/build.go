package workflow

import (
	"context"
	"fmt"
	"fuzzrig/internal/builder"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/telemetry"

	"go.uber.org/zap"
)

// resolveTarget returns the named target, or the whole project when name is
// empty.
func (w *Workflow) resolveTarget(name string) (types.FuzzTarget, error) {
	if name == "" {
		return types.FuzzTarget{ProjectRoot: w.project.Root()}, nil
	}
	return w.project.Target(name)
}

// Build compiles one target, or every target when name is empty, and returns
// the binary path of a single target build.
func (w *Workflow) Build(ctx context.Context, name string, opts types.BuildOptions) (binary string, err error) {
	ctx, tracer, end := w.span(ctx, "build", telemetry.Building, name)
	defer end(&err)

	target, err := w.resolveTarget(name)
	if err != nil {
		return "", err
	}
	cfg, err := w.compose(ctx, target, opts)
	if err != nil {
		return "", err
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithSanitizers(sanitizerNames(cfg.Sanitizers())).
		WithProfile(string(cfg.Profile())))

	binary, err = w.build(ctx, cfg)
	if err != nil {
		return "", err
	}
	if binary != "" {
		w.logger.Info("build finished", zap.String("target", name), zap.String("binary", binary))
	}
	return binary, nil
}

// Check type-checks one target, or every target when name is empty.
func (w *Workflow) Check(ctx context.Context, name string, opts types.BuildOptions) (err error) {
	ctx, _, end := w.span(ctx, "check", telemetry.Building, name)
	defer end(&err)

	target, err := w.resolveTarget(name)
	if err != nil {
		return err
	}
	cfg, err := w.compose(ctx, target, opts)
	if err != nil {
		return err
	}
	return w.invoker.Check(ctx, cfg)
}

// List prints the target names, one per line.
func (w *Workflow) List() []string {
	var names []string
	for _, t := range w.project.Targets() {
		names = append(names, t.Name)
		fmt.Fprintln(w.out, t.Name)
	}
	return names
}

// Config resolves the build configuration without running anything.
func (w *Workflow) Config(ctx context.Context, name string, opts types.BuildOptions) (*builder.BuildConfig, error) {
	target, err := w.resolveTarget(name)
	if err != nil {
		return nil, err
	}
	return w.compose(ctx, target, opts)
}
