package builder

import (
	"fmt"
	"fuzzrig/internal/toolchain"
	"fuzzrig/internal/types"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

var sancovFlags = []string{
	"-Cpasses=sancov-module",
	"-Cllvm-args=-sanitizer-coverage-level=4",
	"-Cllvm-args=-sanitizer-coverage-inline-8bit-counters",
	"-Cllvm-args=-sanitizer-coverage-pc-table",
}

var carefulFlags = []string{
	"-Zextra-const-ub-checks",
	"-Zstrict-init-checks",
	"--cfg", "careful",
}

// pairs of sanitizers that cannot share one binary
var sanitizerConflicts = [][2]types.Sanitizer{
	{types.SanitizerAddress, types.SanitizerMemory},
	{types.SanitizerAddress, types.SanitizerThread},
	{types.SanitizerMemory, types.SanitizerThread},
	{types.SanitizerMemory, types.SanitizerLeak},
	{types.SanitizerThread, types.SanitizerLeak},
}

// Compose resolves the build configuration of target under opts. An empty
// target name builds every target of the project. Infeasible combinations
// fail with *types.UnsupportedOptionError before any tool runs.
//
// Compose is a pure function of its arguments.
func Compose(target types.FuzzTarget, opts types.BuildOptions, caps toolchain.Capabilities) (*BuildConfig, error) {
	if err := validate(opts, caps); err != nil {
		return nil, err
	}

	triple := opts.Triple
	if triple == "" {
		triple = caps.HostTriple
	}
	if triple == "" {
		return nil, &types.UnsupportedOptionError{Option: "target", Reason: "no target triple given and the host triple is unknown"}
	}
	sanitizers := opts.ActiveSanitizers()
	buildStd := resolveBuildStd(opts, caps)

	targetDir := opts.TargetDir
	explicitTargetDir := targetDir != ""
	switch {
	case explicitTargetDir:
	case opts.Coverage:
		targetDir = filepath.Join(target.ProjectRoot, "target", triple, "coverage")
		explicitTargetDir = true
	default:
		targetDir = filepath.Join(target.ProjectRoot, "target")
	}

	manifest := filepath.Join(target.ProjectRoot, "Cargo.toml")
	cfg := &BuildConfig{
		target:     target,
		manifest:   manifest,
		triple:     triple,
		profile:    opts.Profile,
		sanitizers: sanitizers,
		coverage:   opts.Coverage,
		buildStd:   buildStd,
		careful:    opts.Careful,
		targetDir:  targetDir,
		toolsPath:  opts.ToolsPath,
	}

	// cargo arguments; --target keeps RUSTFLAGS away from build scripts
	args := []string{"--manifest-path", manifest, "--target", triple}
	if opts.Profile == types.ProfileRelease {
		args = append(args, "--release")
	}
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	if opts.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if opts.AllFeatures {
		args = append(args, "--all-features")
	}
	if opts.Features != "" {
		args = append(args, "--features", opts.Features)
	}
	for _, flag := range opts.UnstableFlags {
		args = append(args, "-Z", flag)
	}
	if buildStd {
		args = append(args, "-Z", "build-std")
	}
	if target.Name != "" {
		args = append(args, "--bin", target.Name)
	} else {
		args = append(args, "--bins")
	}
	if explicitTargetDir {
		args = append(args, "--target-dir", targetDir)
	}
	args = append(args, "--message-format=json-render-diagnostics")
	cfg.cargoArgs = args

	cfg.rustFlags = composeRustFlags(opts, caps, triple, sanitizers)

	cfg.buildEnv = []string{"RUSTFLAGS=" + strings.Join(cfg.rustFlags, " ")}

	cfg.runtimeEnv = runtimeEnv(opts, sanitizers)
	return cfg, nil
}

func composeRustFlags(opts types.BuildOptions, caps toolchain.Capabilities, triple string, sanitizers []types.Sanitizer) []string {
	flags := slices.Clone(sancovFlags)
	if !opts.NoTraceCompares {
		flags = append(flags, "-Cllvm-args=-sanitizer-coverage-trace-compares")
	}
	if !opts.NoCfgFuzzing {
		flags = append(flags, "--cfg", "fuzzing")
	}
	if !opts.StripDeadCode {
		flags = append(flags, "-Clink-dead-code")
	}
	if opts.Coverage {
		flags = append(flags, "-Cinstrument-coverage")
	}
	if len(sanitizers) > 0 {
		names := make([]string, 0, len(sanitizers))
		for _, s := range sanitizers {
			names = append(names, string(s))
		}
		flags = append(flags, caps.SanitizerFlag()+"="+strings.Join(names, ","))
		if slices.Contains(sanitizers, types.SanitizerMemory) {
			flags = append(flags, "-Zsanitizer-memory-track-origins")
		}
	}
	if strings.Contains(triple, "-linux-") {
		flags = append(flags, "-Cllvm-args=-sanitizer-coverage-stack-depth")
	}
	if opts.Profile == types.ProfileDev || opts.DebugAssertions || opts.Careful {
		flags = append(flags, "-Cdebug-assertions")
	}
	if strings.Contains(triple, "-msvc") {
		// the entry point lives in the bundled libfuzzer rlib
		flags = append(flags, "-Clink-arg=/include:main")
	}
	switch {
	case opts.CodegenUnits > 0:
		flags = append(flags, "-Ccodegen-units="+strconv.Itoa(opts.CodegenUnits))
	case opts.Profile == types.ProfileRelease:
		// sancov blocks ThinLTO imports across units, a single unit keeps the maps precise
		flags = append(flags, "-Ccodegen-units=1")
	}
	if opts.Careful {
		flags = append(flags, carefulFlags...)
	}
	flags = append(flags, strings.Fields(opts.ExtraRustFlags)...)
	return flags
}

// runtimeEnv merges the default sanitizer runtime options into the user's own,
// colon separated.
func runtimeEnv(opts types.BuildOptions, sanitizers []types.Sanitizer) []string {
	var env []string
	if slices.Contains(sanitizers, types.SanitizerAddress) {
		env = append(env, "ASAN_OPTIONS="+joinOptions(opts.ASanOptions, "detect_odr_violation=0"))
	}
	if slices.Contains(sanitizers, types.SanitizerThread) {
		env = append(env, "TSAN_OPTIONS="+joinOptions(opts.TSanOptions, "report_signal_unsafe=0"))
	}
	if opts.ToolsPath != "" {
		// reports are symbolized by the llvm-symbolizer of the same toolchain
		symbolizer := filepath.Join(opts.ToolsPath, "llvm-symbolizer")
		if slices.Contains(sanitizers, types.SanitizerAddress) || slices.Contains(sanitizers, types.SanitizerLeak) {
			env = append(env, "ASAN_SYMBOLIZER_PATH="+symbolizer)
		}
		if slices.Contains(sanitizers, types.SanitizerMemory) {
			env = append(env, "MSAN_SYMBOLIZER_PATH="+symbolizer)
		}
	}
	return env
}

func joinOptions(user, defaults string) string {
	if user == "" {
		return defaults
	}
	return user + ":" + defaults
}

// build-std defaults to on when the toolchain can do it and coverage is off
func resolveBuildStd(opts types.BuildOptions, caps toolchain.Capabilities) bool {
	if opts.HasSanitizer(types.SanitizerMemory) || opts.Careful {
		return true
	}
	if opts.BuildStd != nil {
		return *opts.BuildStd
	}
	return caps.Nightly && !opts.Coverage
}

func unsupported(option, format string, args ...any) error {
	return &types.UnsupportedOptionError{Option: option, Reason: fmt.Sprintf(format, args...)}
}

func validate(opts types.BuildOptions, caps toolchain.Capabilities) error {
	if opts.Profile != types.ProfileDev && opts.Profile != types.ProfileRelease {
		return unsupported("profile", "unknown profile %q", opts.Profile)
	}
	if opts.AllFeatures && (opts.NoDefaultFeatures || opts.Features != "") {
		return unsupported("all-features", "cannot be combined with --no-default-features or --features")
	}
	if opts.CodegenUnits < 0 {
		return unsupported("codegen-units", "must be positive, got %d", opts.CodegenUnits)
	}

	for _, s := range opts.Sanitizers {
		if _, err := types.ParseSanitizer(string(s)); err != nil {
			return err
		}
	}
	active := opts.ActiveSanitizers()
	if opts.HasSanitizer(types.SanitizerNone) && len(active) > 0 {
		return unsupported("sanitizer", "none cannot be combined with %s", active[0])
	}
	for _, pair := range sanitizerConflicts {
		if opts.HasSanitizer(pair[0]) && opts.HasSanitizer(pair[1]) {
			return unsupported("sanitizer", "%s and %s cannot be combined", pair[0], pair[1])
		}
	}
	memory := opts.HasSanitizer(types.SanitizerMemory)
	if memory && opts.BuildStd != nil && !*opts.BuildStd {
		return unsupported("sanitizer", "the memory sanitizer requires rebuilding the standard library (build-std)")
	}
	if opts.Careful && opts.BuildStd != nil && !*opts.BuildStd {
		return unsupported("careful", "careful mode requires rebuilding the standard library (build-std)")
	}

	if opts.Coverage {
		if !caps.SupportsInstrumentCoverage() {
			return unsupported("coverage", "coverage instrumentation requires rustc 1.60 or newer, found %s", caps.Version)
		}
		if memory {
			return unsupported("coverage", "cannot be combined with the memory sanitizer, which rebuilds the standard library")
		}
		if opts.Careful {
			return unsupported("coverage", "cannot be combined with careful mode, which rebuilds the standard library")
		}
		if opts.BuildStd != nil && *opts.BuildStd {
			return unsupported("coverage", "cannot be combined with build-std")
		}
	}

	if !caps.Nightly {
		switch {
		case len(opts.UnstableFlags) > 0:
			return unsupported("-Z", "unstable cargo flags require a nightly toolchain")
		case memory:
			return unsupported("sanitizer", "the memory sanitizer requires a nightly toolchain")
		case opts.Careful:
			return unsupported("careful", "careful mode requires a nightly toolchain")
		case opts.BuildStd != nil && *opts.BuildStd:
			return unsupported("build-std", "build-std requires a nightly toolchain")
		case len(active) > 0 && caps.SanitizerFlag() == "-Zsanitizer":
			return unsupported("sanitizer", "sanitizers require a nightly toolchain before rustc 1.85, found %s", caps.Version)
		}
	}
	return nil
}
