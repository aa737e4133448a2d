package main

import (
	"fuzzrig/internal/project"
	"fuzzrig/internal/types"
	"fuzzrig/internal/workflow"
	"time"

	"github.com/spf13/cobra"
)

// buildFlags are the build dimensions shared by every command that compiles.
type buildFlags struct {
	dev               bool
	release           bool
	debugAssertions   bool
	sanitizer         string
	careful           bool
	buildStd          bool
	stripDeadCode     bool
	noCfgFuzzing      bool
	noTraceCompares   bool
	codegenUnits      int
	verbose           bool
	noDefaultFeatures bool
	allFeatures       bool
	features          string
	unstable          []string
	triple            string
	targetDir         string
	toolsPath         string
}

func addBuildFlags(cmd *cobra.Command) *buildFlags {
	f := &buildFlags{}
	flags := cmd.Flags()
	flags.BoolVarP(&f.dev, "dev", "D", false, "build artifacts in development mode, without optimizations")
	flags.BoolVarP(&f.release, "release", "O", false, "build artifacts in release mode, with optimizations (default)")
	flags.BoolVarP(&f.debugAssertions, "debug-assertions", "a", false, "build artifacts with debug assertions and overflow checks enabled")
	flags.StringVarP(&f.sanitizer, "sanitizer", "s", "address", "comma separated sanitizers: address, leak, memory, thread, none")
	flags.BoolVar(&f.careful, "careful", false, "build with additional compiler checks, requires a nightly toolchain")
	flags.BoolVar(&f.buildStd, "build-std", false, "rebuild the standard library with the selected sanitizers")
	flags.BoolVar(&f.stripDeadCode, "strip-dead-code", false, "do not link dead code into the binary")
	flags.BoolVar(&f.noCfgFuzzing, "no-cfg-fuzzing", false, "do not pass --cfg fuzzing to the compiler")
	flags.BoolVar(&f.noTraceCompares, "no-trace-compares", false, "disable comparison tracing instrumentation")
	flags.IntVar(&f.codegenUnits, "codegen-units", 0, "number of codegen units (default 1 in release)")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "use verbose cargo output")
	flags.BoolVar(&f.noDefaultFeatures, "no-default-features", false, "build without the default features of the fuzz crate")
	flags.BoolVar(&f.allFeatures, "all-features", false, "build with every feature of the fuzz crate")
	flags.StringVar(&f.features, "features", "", "space or comma separated features to activate")
	flags.StringArrayVarP(&f.unstable, "unstable", "Z", nil, "unstable cargo flag, passed as -Z <flag>")
	flags.StringVar(&f.triple, "target", "", "target triple of the fuzz target (default: host)")
	flags.StringVar(&f.targetDir, "target-dir", "", "cargo target directory")
	flags.StringVar(&f.toolsPath, "llvm-tools", "", "directory holding llvm-profdata and friends")
	cmd.MarkFlagsMutuallyExclusive("dev", "release")
	return f
}

// options resolves the flags, falling back to the project defaults for any
// flag the user did not set.
func (f *buildFlags) options(cmd *cobra.Command, defaults project.Defaults) (types.BuildOptions, error) {
	opts := types.DefaultBuildOptions()
	changed := cmd.Flags().Changed

	profile := defaults.Profile
	switch {
	case f.dev:
		profile = string(types.ProfileDev)
	case f.release:
		profile = string(types.ProfileRelease)
	}
	var err error
	if opts.Profile, err = types.ParseProfile(profile); err != nil {
		return opts, err
	}

	sanitizer := f.sanitizer
	if !changed("sanitizer") && defaults.Sanitizer != "" {
		sanitizer = defaults.Sanitizer
	}
	if opts.Sanitizers, err = types.ParseSanitizers(sanitizer); err != nil {
		return opts, err
	}

	opts.Features = f.features
	if !changed("features") {
		opts.Features = defaults.Features
	}
	if changed("build-std") {
		opts.BuildStd = &f.buildStd
	}
	opts.DebugAssertions = f.debugAssertions
	opts.Careful = f.careful
	opts.StripDeadCode = f.stripDeadCode
	opts.NoCfgFuzzing = f.noCfgFuzzing
	opts.NoTraceCompares = f.noTraceCompares
	opts.CodegenUnits = f.codegenUnits
	opts.Verbose = f.verbose
	opts.NoDefaultFeatures = f.noDefaultFeatures
	opts.AllFeatures = f.allFeatures
	opts.UnstableFlags = f.unstable
	opts.Triple = f.triple
	opts.TargetDir = f.targetDir
	opts.ToolsPath = f.toolsPath
	return opts, nil
}

// engineFlags are the libFuzzer options of the run-like commands.
type engineFlags struct {
	jobs         int
	runs         int
	maxTotalTime time.Duration
	inputTimeout time.Duration
	maxLen       int
	timeout      time.Duration
}

func addEngineFlags(cmd *cobra.Command) *engineFlags {
	f := &engineFlags{}
	flags := cmd.Flags()
	flags.IntVarP(&f.jobs, "jobs", "j", 0, "number of concurrent fuzzing jobs (libFuzzer -fork)")
	flags.IntVar(&f.runs, "runs", 0, "number of individual test runs")
	flags.DurationVar(&f.maxTotalTime, "max-total-time", 0, "stop fuzzing after this long")
	flags.DurationVar(&f.inputTimeout, "input-timeout", 0, "per input timeout reported by the engine")
	flags.IntVar(&f.maxLen, "max-len", 0, "maximum length of generated inputs")
	flags.DurationVar(&f.timeout, "timeout", 0, "wall-clock bound of each execution, the process is killed when it elapses")
	return f
}

// options splits the positional arguments at "--"; what follows is passed to
// the engine verbatim.
func (f *engineFlags) options(cmd *cobra.Command, args []string) (workflow.EngineOptions, []string) {
	positional, extra := splitAtDash(cmd, args)
	return workflow.EngineOptions{
		Jobs:         f.jobs,
		Runs:         f.runs,
		MaxTotalTime: f.maxTotalTime,
		InputTimeout: f.inputTimeout,
		MaxLen:       f.maxLen,
		Args:         extra,
		Timeout:      f.timeout,
	}, positional
}

func splitAtDash(cmd *cobra.Command, args []string) ([]string, []string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}
