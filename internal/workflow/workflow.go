// Package workflow wires the components into the command pipelines: build,
// check, list, run, tmin, cmin, coverage and fmt.
package workflow

import (
	"context"
	"fuzzrig/config"
	"fuzzrig/internal/builder"
	"fuzzrig/internal/coverage"
	"fuzzrig/internal/crash"
	"fuzzrig/internal/dict"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/minimize"
	"fuzzrig/internal/process"
	"fuzzrig/internal/project"
	"fuzzrig/internal/toolchain"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/metrics"
	"fuzzrig/pkg/telemetry"
	"fuzzrig/pkg/watchdog"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Streams are where command results and tool output go.
type Streams struct {
	Out io.Writer
	Err io.Writer
}

type Workflow struct {
	project *project.Project
	config  *config.AppConfig
	runner  process.Runner
	prober  *toolchain.Prober
	invoker *builder.Invoker
	sup     *fuzz.Supervisor
	crashes *crash.Manager
	tmin    *minimize.Engine
	cmin    *minimize.CorpusMinimizer
	merger  *coverage.Merger
	dicts   *dict.DictGrabber
	tracers *telemetry.TracerFactory
	metrics *metrics.Metrics
	logger  *zap.Logger
	out     io.Writer
	errOut  io.Writer

	capsOnce sync.Once
	caps     toolchain.Capabilities
	capsErr  error
}

type Params struct {
	fx.In

	Project   *project.Project
	Config    *config.AppConfig
	Runner    process.Runner
	Crashes   *crash.Manager
	Dicts     *dict.DictGrabber
	Logger    *zap.Logger
	Watchdogs *watchdog.WatchDogFactory `optional:"true"`
	Tracers   *telemetry.TracerFactory  `optional:"true"`
	Metrics   *metrics.Metrics          `optional:"true"`
	Streams   *Streams                  `optional:"true"`
}

func New(p Params) *Workflow {
	out, errOut := io.Writer(os.Stdout), io.Writer(os.Stderr)
	if p.Streams != nil {
		if p.Streams.Out != nil {
			out = p.Streams.Out
		}
		if p.Streams.Err != nil {
			errOut = p.Streams.Err
		}
	}
	logger := p.Logger.Named("workflow")
	sup := fuzz.NewSupervisor(p.Runner, p.Crashes, p.Watchdogs, p.Logger, errOut, errOut)

	return &Workflow{
		project: p.Project,
		config:  p.Config,
		runner:  p.Runner,
		prober:  toolchain.NewProber(p.Runner, p.Config.Toolchain.Rustc, p.Config.Toolchain.Bootstrap()),
		invoker: builder.NewInvoker(p.Runner, p.Logger, p.Config.Toolchain.Cargo, errOut),
		sup:     sup,
		crashes: p.Crashes,
		tmin:    minimize.NewEngine(p.Logger),
		cmin:    minimize.NewCorpusMinimizer(p.Runner, p.Logger, errOut),
		merger:  coverage.NewMerger(p.Runner, sup, p.Project, p.Logger, errOut),
		dicts:   p.Dicts,
		tracers: p.Tracers,
		metrics: p.Metrics,
		logger:  logger,
		out:     out,
		errOut:  errOut,
	}
}

// EngineOptions are the libFuzzer options shared by the run-like commands.
// Zero fields fall back to the project defaults.
type EngineOptions struct {
	Jobs         int
	Runs         int
	MaxTotalTime time.Duration
	InputTimeout time.Duration
	MaxLen       int
	Args         []string
	// Timeout is the wall-clock bound of each execution.
	Timeout time.Duration
}

func (w *Workflow) Project() *project.Project {
	return w.project
}

// capabilities probes the toolchain once per workflow.
func (w *Workflow) capabilities(ctx context.Context) (toolchain.Capabilities, error) {
	w.capsOnce.Do(func() {
		w.caps, w.capsErr = w.prober.Probe(ctx)
		if w.capsErr == nil {
			w.logger.Debug("toolchain probed",
				zap.Stringer("version", w.caps.Version),
				zap.Bool("nightly", w.caps.Nightly),
				zap.String("host", w.caps.HostTriple))
		}
	})
	return w.caps, w.capsErr
}

// withAmbient threads the captured toolchain environment into opts.
func (w *Workflow) withAmbient(opts types.BuildOptions) types.BuildOptions {
	tc := w.config.Toolchain
	if opts.ExtraRustFlags == "" {
		opts.ExtraRustFlags = tc.RustFlags
	}
	if opts.ASanOptions == "" {
		opts.ASanOptions = tc.ASanOptions
	}
	if opts.TSanOptions == "" {
		opts.TSanOptions = tc.TSanOptions
	}
	if opts.ToolsPath == "" {
		opts.ToolsPath = tc.LLVMTools
	}
	return opts
}

func (w *Workflow) compose(ctx context.Context, target types.FuzzTarget, opts types.BuildOptions) (*builder.BuildConfig, error) {
	caps, err := w.capabilities(ctx)
	if err != nil {
		return nil, err
	}
	return builder.Compose(target, w.withAmbient(opts), caps)
}

// engine resolves the engine options against the project defaults.
func (w *Workflow) engine(opts EngineOptions) (fuzz.LibFuzzer, time.Duration) {
	d := w.project.Defaults()
	engine := fuzz.LibFuzzer{
		Runs:         opts.Runs,
		MaxTotalTime: opts.MaxTotalTime,
		Jobs:         opts.Jobs,
		InputTimeout: opts.InputTimeout,
		MaxLen:       opts.MaxLen,
		ExtraArgs:    opts.Args,
	}
	if engine.Runs == 0 {
		engine.Runs = d.Runs
	}
	if engine.MaxTotalTime == 0 {
		engine.MaxTotalTime = d.MaxTotalTime
	}
	if engine.Jobs == 0 {
		engine.Jobs = d.Jobs
	}
	if len(engine.ExtraArgs) == 0 {
		engine.ExtraArgs = d.EngineArgs
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = d.Timeout
	}
	if timeout == 0 {
		timeout = w.config.Run.Timeout
	}
	return engine, timeout
}

// prepare builds the target and describes how to run the resulting binary.
func (w *Workflow) prepare(ctx context.Context, name string, opts types.BuildOptions, engine EngineOptions) (fuzz.Run, error) {
	cfg, err := w.configure(ctx, name, opts)
	if err != nil {
		return fuzz.Run{}, err
	}
	return w.launch(ctx, cfg, engine)
}

// configure resolves the target and composes its build configuration without
// running any tool but the toolchain probe.
func (w *Workflow) configure(ctx context.Context, name string, opts types.BuildOptions) (*builder.BuildConfig, error) {
	target, err := w.project.Target(name)
	if err != nil {
		return nil, err
	}
	if err := w.project.EnsureDirs(name); err != nil {
		return nil, err
	}
	return w.compose(ctx, target, opts)
}

// launch builds cfg and describes how to run the resulting binary.
func (w *Workflow) launch(ctx context.Context, cfg *builder.BuildConfig, engine EngineOptions) (fuzz.Run, error) {
	binary, err := w.build(ctx, cfg)
	if err != nil {
		return fuzz.Run{}, err
	}
	libfuzzer, timeout := w.engine(engine)
	return fuzz.Run{
		Target:     cfg.Target(),
		Binary:     binary,
		Env:        cfg.RuntimeEnv(),
		Sanitizers: cfg.Sanitizers(),
		Timeout:    timeout,
		Engine:     libfuzzer,
	}, nil
}

func (w *Workflow) build(ctx context.Context, cfg *builder.BuildConfig) (string, error) {
	binary, err := w.invoker.Build(ctx, cfg)
	result := "ok"
	if err != nil {
		result = "failed"
	}
	w.metrics.ObserveBuild(cfg.Target().Name, result)
	return binary, err
}

// span opens a span for one command; the returned func ends it with the
// status derived from the error it is given.
func (w *Workflow) span(ctx context.Context, name string, category telemetry.ActionCategory, target string) (context.Context, telemetry.Tracer, func(*error)) {
	tracer := w.tracers.NewTracer(ctx, "fuzzrig "+name).
		WithAttributes(telemetry.NewSpanAttributes(category).
			WithProject(w.project.Name()).
			WithTarget(target))
	tracer.Start()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)
	return ctx, tracer, func(errp *error) {
		if errp != nil && *errp != nil {
			tracer.SetStatus(codes.Error, (*errp).Error())
		} else {
			tracer.SetStatus(codes.Ok, "")
		}
		tracer.End()
	}
}

func sanitizerNames(sanitizers []types.Sanitizer) []string {
	names := make([]string, 0, len(sanitizers))
	for _, s := range sanitizers {
		names = append(names, string(s))
	}
	return names
}
