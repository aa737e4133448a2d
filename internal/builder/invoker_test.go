package builder

import (
	"bytes"
	"context"
	"fmt"
	"fuzzrig/internal/process"
	"fuzzrig/internal/process/processtest"
	"fuzzrig/internal/types"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fakeCargo(t *testing.T, binary string) processtest.Handler {
	t.Helper()
	return func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		require.NoError(t, os.MkdirAll(filepath.Dir(binary), 0755))
		require.NoError(t, os.WriteFile(binary, []byte("\x7fELF"), 0755))
		fmt.Fprintf(cmd.Stderr, "   Compiling decode v0.0.0\n")
		fmt.Fprintf(cmd.Stdout, `{"reason":"compiler-artifact","target":{"name":"libfuzzer-sys","kind":["lib"]},"executable":null}`+"\n")
		fmt.Fprintf(cmd.Stdout, `{"reason":"compiler-artifact","target":{"name":"decode","kind":["bin"]},"executable":%q}`+"\n", binary)
		fmt.Fprintf(cmd.Stdout, `{"reason":"build-finished","success":true}`+"\n")
		return process.Exit{}, nil
	}
}

func TestInvokerBuild(t *testing.T) {
	root := t.TempDir()
	binary := filepath.Join(root, "out", "decode")
	runner := processtest.New().On("cargo", fakeCargo(t, binary))
	var stderr bytes.Buffer
	inv := NewInvoker(runner, zap.NewNop(), "cargo", &stderr)

	cfg, err := Compose(types.FuzzTarget{Name: "decode", ProjectRoot: root}, types.DefaultBuildOptions(), nightly)
	require.NoError(t, err)

	got, err := inv.Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, binary, got)
	assert.Equal(t, "   Compiling decode v0.0.0\n", stderr.String(), "toolchain output is passed through")

	calls := runner.CallsTo("cargo")
	require.Len(t, calls, 1)
	assert.Equal(t, cfg.Args(ModeBuild), calls[0].Args)
	rustflags, ok := processtest.EnvValue(calls[0], "RUSTFLAGS")
	require.True(t, ok)
	assert.Contains(t, rustflags, "-Cpasses=sancov-module")

	// same configuration in the same session is reused
	_, err = inv.Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, runner.CallsTo("cargo"), 1)
}

func TestInvokerBuildFailed(t *testing.T) {
	runner := processtest.New().On("cargo", func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		fmt.Fprint(cmd.Stderr, "error[E0425]: cannot find value `x` in this scope\n")
		return process.Exit{Code: 101}, nil
	})
	var stderr bytes.Buffer
	inv := NewInvoker(runner, zap.NewNop(), "cargo", &stderr)

	cfg, err := Compose(target, types.DefaultBuildOptions(), nightly)
	require.NoError(t, err)
	_, err = inv.Build(context.Background(), cfg)

	var failed *types.BuildFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 101, failed.ExitCode)
	assert.Equal(t, "error[E0425]: cannot find value `x` in this scope\n", failed.Stderr)
	assert.Equal(t, failed.Stderr, stderr.String())
	assert.Equal(t, types.ExitToolFailure, types.ExitCode(err))
}

func TestInvokerSpawnFailure(t *testing.T) {
	runner := processtest.New().On("cargo", func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		return process.Exit{}, &types.ToolError{Op: "spawn cargo", Err: os.ErrNotExist}
	})
	inv := NewInvoker(runner, zap.NewNop(), "cargo", &bytes.Buffer{})
	cfg, err := Compose(target, types.DefaultBuildOptions(), nightly)
	require.NoError(t, err)

	err = inv.Check(context.Background(), cfg)
	var toolErr *types.ToolError
	assert.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "check", runner.CallsTo("cargo")[0].Args[0])
}

func TestFindExecutable(t *testing.T) {
	out := []byte("not json\n" +
		`{"reason":"compiler-artifact","target":{"name":"other","kind":["bin"]},"executable":"/t/other"}` + "\n" +
		`{"reason":"compiler-artifact","target":{"name":"decode","kind":["bin"]},"executable":"/t/decode"}` + "\n")
	assert.Equal(t, "/t/decode", findExecutable(out, "decode"))
	assert.Equal(t, "", findExecutable(out, "missing"))
}

func TestInvokerUsesCustomToolsPath(t *testing.T) {
	root := t.TempDir()
	binary := filepath.Join(root, "out", "decode")
	runner := processtest.New().On("cargo", fakeCargo(t, binary))
	inv := NewInvoker(runner, zap.NewNop(), "cargo", &bytes.Buffer{})

	opts := types.DefaultBuildOptions()
	opts.ToolsPath = "/opt/llvm/bin"
	cfg, err := Compose(types.FuzzTarget{Name: "decode", ProjectRoot: root}, opts, nightly)
	require.NoError(t, err)
	_, err = inv.Build(context.Background(), cfg)
	require.NoError(t, err)

	calls := runner.CallsTo("cargo")
	require.Len(t, calls, 1)
	path, ok := processtest.EnvValue(calls[0], "PATH")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(path, "/opt/llvm/bin"), path)
}
