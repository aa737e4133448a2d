package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"fuzzrig/internal/process"
	"fuzzrig/internal/types"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// sanitizers moved from -Zsanitizer to -Csanitizer
	sanitizersOnStable = RustVersion{Major: 1, Minor: 85}
	// -Cinstrument-coverage became stable
	instrumentCoverageStable = RustVersion{Major: 1, Minor: 60}
)

// Capabilities is what FlagComposer needs to know about the installed compiler.
type Capabilities struct {
	Version    RustVersion
	Nightly    bool
	HostTriple string
	Sysroot    string
}

func (c Capabilities) SanitizerFlag() string {
	if c.Version.AtLeast(sanitizersOnStable.Major, sanitizersOnStable.Minor) {
		return "-Csanitizer"
	}
	return "-Zsanitizer"
}

func (c Capabilities) SupportsInstrumentCoverage() bool {
	return c.Version.AtLeast(instrumentCoverageStable.Major, instrumentCoverageStable.Minor)
}

// Prober discovers Capabilities by asking rustc.
type Prober struct {
	runner         process.Runner
	rustc          string
	rustcBootstrap bool
}

func NewProber(runner process.Runner, rustc string, rustcBootstrap bool) *Prober {
	if rustc == "" {
		rustc = "rustc"
	}
	return &Prober{runner, rustc, rustcBootstrap}
}

func (p *Prober) Probe(ctx context.Context) (Capabilities, error) {
	verbose, err := p.output(ctx, "-vV")
	if err != nil {
		return Capabilities{}, err
	}
	version, err := ParseRustVersion(verbose)
	if err != nil {
		return Capabilities{}, &types.ToolError{Op: p.rustc + " -vV", Err: err}
	}
	caps := Capabilities{
		Version: version,
		Nightly: IsNightly(firstLine(verbose), p.rustcBootstrap),
	}

	scanner := bufio.NewScanner(strings.NewReader(verbose))
	for scanner.Scan() {
		if host, ok := strings.CutPrefix(scanner.Text(), "host: "); ok {
			caps.HostTriple = strings.TrimSpace(host)
		}
	}
	if caps.HostTriple == "" {
		caps.HostTriple = DefaultTriple()
	}

	sysroot, err := p.output(ctx, "--print", "sysroot")
	if err != nil {
		return Capabilities{}, err
	}
	caps.Sysroot = strings.TrimSpace(sysroot)
	return caps, nil
}

func (p *Prober) output(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := process.Command{Path: p.rustc, Args: args, Stdout: &stdout, Stderr: &stderr}
	exit, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("failed to invoke rustc, is it in your $PATH?: %w", err)
	}
	if !exit.Success() {
		return "", &types.ToolError{
			Op:  cmd.String(),
			Err: fmt.Errorf("exit code %d: %s", exit.Code, strings.TrimSpace(stderr.String())),
		}
	}
	return stdout.String(), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// DefaultTriple guesses the host triple when rustc does not report one.
func DefaultTriple() string {
	arch := map[string]string{"amd64": "x86_64", "arm64": "aarch64", "386": "i686"}[runtime.GOARCH]
	if arch == "" {
		arch = runtime.GOARCH
	}
	switch runtime.GOOS {
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	default:
		return arch + "-unknown-linux-gnu"
	}
}

// LocateProfdata finds llvm-profdata. A custom tools path overrides discovery
// entirely; otherwise the rustup llvm-tools component in the sysroot is used,
// then $PATH.
func LocateProfdata(caps Capabilities, toolsPath string) (string, error) {
	return locateTool("llvm-profdata", caps, toolsPath)
}

func locateTool(name string, caps Capabilities, toolsPath string) (string, error) {
	exe := name
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	if toolsPath != "" {
		candidate := filepath.Join(toolsPath, exe)
		if isExecutable(candidate) {
			return candidate, nil
		}
		return "", &types.ToolError{
			Op:  "locate " + name,
			Err: fmt.Errorf("%s not found in custom tools path %s", exe, toolsPath),
		}
	}
	if caps.Sysroot != "" && caps.HostTriple != "" {
		candidate := filepath.Join(caps.Sysroot, "lib", "rustlib", caps.HostTriple, "bin", exe)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}
	return "", &types.ToolError{
		Op: "locate " + name,
		Err: fmt.Errorf("%s not found; install it with `rustup component add llvm-tools-preview` "+
			"or point FUZZRIG_LLVM_TOOLS at an LLVM installation", exe),
	}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
