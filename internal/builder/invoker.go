package builder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"fuzzrig/internal/process"
	"fuzzrig/internal/types"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Invoker runs cargo for a BuildConfig. Toolchain diagnostics are passed
// through to stderr unmodified.
type Invoker struct {
	runner process.Runner
	logger *zap.Logger
	cargo  string
	stderr io.Writer

	// binaries built during this session, by BuildConfig.Key
	mu    sync.Mutex
	built map[string]builtBinary
}

type builtBinary struct {
	path       string
	sourceTime time.Time
}

func NewInvoker(runner process.Runner, logger *zap.Logger, cargo string, stderr io.Writer) *Invoker {
	if cargo == "" {
		cargo = "cargo"
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Invoker{
		runner: runner,
		logger: logger,
		cargo:  cargo,
		stderr: stderr,
		built:  make(map[string]builtBinary),
	}
}

// Build compiles the configuration and returns the path of the target
// binary, or "" when every target was built. A configuration already built in
// this session is reused as long as the target source has not changed.
func (i *Invoker) Build(ctx context.Context, cfg *BuildConfig) (string, error) {
	key := cfg.Key()
	sourceTime := modTime(cfg.Target())

	i.mu.Lock()
	prev, ok := i.built[key]
	i.mu.Unlock()
	if ok && prev.sourceTime.Equal(sourceTime) {
		i.logger.Debug("reusing binary built in this session", zap.String("binary", prev.path))
		return prev.path, nil
	}

	stdout, err := i.run(ctx, cfg, ModeBuild)
	if err != nil {
		return "", err
	}
	if cfg.Target().Name == "" {
		return "", nil
	}

	binary := findExecutable(stdout, cfg.Target().Name)
	if binary == "" {
		binary = cfg.BinaryPath()
	}
	if _, err := os.Stat(binary); err != nil {
		return "", &types.ToolError{Op: "locate built binary", Err: err}
	}

	i.mu.Lock()
	i.built[key] = builtBinary{binary, sourceTime}
	i.mu.Unlock()
	return binary, nil
}

// Check type-checks the configuration without producing binaries.
func (i *Invoker) Check(ctx context.Context, cfg *BuildConfig) error {
	_, err := i.run(ctx, cfg, ModeCheck)
	return err
}

func (i *Invoker) run(ctx context.Context, cfg *BuildConfig, mode BuildMode) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := process.Command{
		Path:   i.cargo,
		Args:   cfg.Args(mode),
		Env:    ToolEnv(cfg),
		Stdout: &stdout,
		Stderr: io.MultiWriter(i.stderr, &stderr),
	}

	i.logger.Info("running cargo",
		zap.String("mode", mode.Subcommand()),
		zap.String("target", cfg.Target().Name),
		zap.Strings("args", cmd.Args),
		zap.Strings("rustflags", cfg.RustFlags()))

	exit, err := i.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to run cargo %s: %w", mode.Subcommand(), err)
	}
	if exit.Cancelled {
		return nil, types.ErrCancelled
	}
	if !exit.Success() {
		return nil, &types.BuildFailedError{
			Target:   cfg.Target().Name,
			ExitCode: exit.Code,
			Stderr:   stderr.String(),
		}
	}
	return stdout.Bytes(), nil
}

// cargo --message-format=json message, only the fields we need
type cargoMessage struct {
	Reason string `json:"reason"`
	Target struct {
		Name string   `json:"name"`
		Kind []string `json:"kind"`
	} `json:"target"`
	Executable string `json:"executable"`
}

// findExecutable scans cargo's JSON messages for the binary of target.
func findExecutable(stdout []byte, target string) string {
	var found string
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(bytes.TrimSpace(line), []byte("{")) {
			continue
		}
		var msg cargoMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Reason == "compiler-artifact" && msg.Target.Name == target && msg.Executable != "" {
			found = msg.Executable
		}
	}
	return strings.TrimSpace(found)
}

func modTime(target types.FuzzTarget) time.Time {
	if target.Name == "" || target.SourcePath == "" {
		return time.Time{}
	}
	info, err := os.Stat(target.Source())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
