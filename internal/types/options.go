package types

import (
	"fmt"
	"slices"
	"strings"
)

type Profile string

const (
	ProfileDev     Profile = "dev"
	ProfileRelease Profile = "release"
)

func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(s) {
	case "", "release":
		return ProfileRelease, nil
	case "dev", "debug":
		return ProfileDev, nil
	}
	return "", &UnsupportedOptionError{Option: "profile", Reason: fmt.Sprintf("unknown profile %q", s)}
}

type Sanitizer string

const (
	SanitizerNone    Sanitizer = "none"
	SanitizerAddress Sanitizer = "address"
	SanitizerLeak    Sanitizer = "leak"
	SanitizerMemory  Sanitizer = "memory"
	SanitizerThread  Sanitizer = "thread"
)

var knownSanitizers = []Sanitizer{SanitizerNone, SanitizerAddress, SanitizerLeak, SanitizerMemory, SanitizerThread}

func ParseSanitizer(s string) (Sanitizer, error) {
	san := Sanitizer(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(knownSanitizers, san) {
		return san, nil
	}
	return "", &UnsupportedOptionError{Option: "sanitizer", Reason: fmt.Sprintf("unknown sanitizer %q", s)}
}

// ParseSanitizers accepts a comma separated list, e.g. "address,leak".
func ParseSanitizers(s string) ([]Sanitizer, error) {
	var out []Sanitizer
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		san, err := ParseSanitizer(part)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, san) {
			out = append(out, san)
		}
	}
	if len(out) == 0 {
		out = []Sanitizer{SanitizerAddress}
	}
	return out, nil
}

// BuildOptions are the user selected build dimensions. The zero value is not
// meaningful; start from DefaultBuildOptions.
type BuildOptions struct {
	Profile           Profile
	Sanitizers        []Sanitizer
	Coverage          bool
	DebugAssertions   bool
	StripDeadCode     bool
	NoTraceCompares   bool
	NoCfgFuzzing      bool
	Careful           bool
	BuildStd          *bool // nil means "toolchain default"
	CodegenUnits      int   // 0 means "1 in release, compiler default in dev"
	Verbose           bool
	NoDefaultFeatures bool
	AllFeatures       bool
	Features          string
	UnstableFlags     []string // passed to cargo as -Z <flag>
	Triple            string   // empty means host triple
	TargetDir         string
	ToolsPath         string // custom LLVM tool search path

	// ambient inputs captured from the caller's configuration
	ExtraRustFlags string
	ASanOptions    string
	TSanOptions    string
}

func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Profile:    ProfileRelease,
		Sanitizers: []Sanitizer{SanitizerAddress},
	}
}

func (o BuildOptions) HasSanitizer(s Sanitizer) bool {
	return slices.Contains(o.Sanitizers, s)
}

// ActiveSanitizers returns the sanitizers that emit compiler flags, sorted.
func (o BuildOptions) ActiveSanitizers() []Sanitizer {
	var out []Sanitizer
	for _, s := range o.Sanitizers {
		if s == SanitizerNone || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// CLIArgs renders the non-default options as command line flags, used to print
// reproduction hints.
func (o BuildOptions) CLIArgs() []string {
	var args []string
	if o.Profile == ProfileDev {
		args = append(args, "--dev")
	}
	if o.DebugAssertions {
		args = append(args, "--debug-assertions")
	}
	if o.Verbose {
		args = append(args, "--verbose")
	}
	if o.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if o.AllFeatures {
		args = append(args, "--all-features")
	}
	if o.Features != "" {
		args = append(args, "--features="+o.Features)
	}
	if len(o.Sanitizers) != 1 || o.Sanitizers[0] != SanitizerAddress {
		names := make([]string, 0, len(o.Sanitizers))
		for _, s := range o.Sanitizers {
			names = append(names, string(s))
		}
		args = append(args, "--sanitizer="+strings.Join(names, ","))
	}
	if o.Careful {
		args = append(args, "--careful")
	}
	if o.BuildStd != nil {
		args = append(args, fmt.Sprintf("--build-std=%t", *o.BuildStd))
	}
	if o.CodegenUnits > 0 {
		args = append(args, fmt.Sprintf("--codegen-units=%d", o.CodegenUnits))
	}
	if o.StripDeadCode {
		args = append(args, "--strip-dead-code")
	}
	if o.NoCfgFuzzing {
		args = append(args, "--no-cfg-fuzzing")
	}
	if o.NoTraceCompares {
		args = append(args, "--no-trace-compares")
	}
	if o.Triple != "" {
		args = append(args, "--target="+o.Triple)
	}
	for _, flag := range o.UnstableFlags {
		args = append(args, "-Z"+flag)
	}
	if o.TargetDir != "" {
		args = append(args, "--target-dir="+o.TargetDir)
	}
	if o.ToolsPath != "" {
		args = append(args, "--llvm-tools="+o.ToolsPath)
	}
	return args
}
