package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"crash", Crashed(1, "", "artifacts/t/crash-aa", ArtifactCrash).Err(), ExitCrash},
		{"wrapped crash", fmt.Errorf("run: %w", &CrashFoundError{}), ExitCrash},
		{"unsupported", &UnsupportedOptionError{Option: "sanitizer", Reason: "x"}, ExitUnsupported},
		{"build failed", &BuildFailedError{ExitCode: 101}, ExitToolFailure},
		{"tool error", &ToolError{Op: "spawn cargo", Err: errors.New("not found")}, ExitToolFailure},
		{"timeout", TimedOut().Err(), ExitTimeout},
		{"cancelled", context.Canceled, ExitCancelled},
		{"other", errors.New("boom"), ExitToolFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func TestCrashAndToolErrorExitCodesDiffer(t *testing.T) {
	crash := ExitCode(Crashed(77, "", "", ArtifactCrash).Err())
	tool := ExitCode(ToolFailure("cannot spawn").Err())
	assert.NotEqual(t, ExitOK, crash)
	assert.NotEqual(t, ExitOK, tool)
	assert.NotEqual(t, crash, tool)
}

func TestKindFromFileName(t *testing.T) {
	assert.Equal(t, ArtifactCrash, KindFromFileName("crash-0123"))
	assert.Equal(t, ArtifactLeak, KindFromFileName("leak-0123"))
	assert.Equal(t, ArtifactTimeout, KindFromFileName("timeout-0123"))
	assert.Equal(t, ArtifactOOM, KindFromFileName("oom-0123"))
	assert.Equal(t, ArtifactSlowUnit, KindFromFileName("slow-unit-0123"))
	assert.Equal(t, ArtifactCrash, KindFromFileName("whatever"))
}

func TestParseSanitizers(t *testing.T) {
	got, err := ParseSanitizers("address, leak,address")
	require.NoError(t, err)
	assert.Equal(t, []Sanitizer{SanitizerAddress, SanitizerLeak}, got)

	got, err = ParseSanitizers("")
	require.NoError(t, err)
	assert.Equal(t, []Sanitizer{SanitizerAddress}, got)

	_, err = ParseSanitizers("undefined")
	var unsupported *UnsupportedOptionError
	assert.ErrorAs(t, err, &unsupported)
}

func TestActiveSanitizersDropsNone(t *testing.T) {
	opts := DefaultBuildOptions()
	opts.Sanitizers = []Sanitizer{SanitizerThread, SanitizerNone, SanitizerThread}
	assert.Equal(t, []Sanitizer{SanitizerThread}, opts.ActiveSanitizers())
}

func TestCLIArgs(t *testing.T) {
	assert.Empty(t, DefaultBuildOptions().CLIArgs())

	opts := DefaultBuildOptions()
	opts.Profile = ProfileDev
	opts.Sanitizers = []Sanitizer{SanitizerMemory}
	opts.Features = "simd"
	opts.UnstableFlags = []string{"sanitizer=memory"}
	assert.Equal(t,
		[]string{"--dev", "--features=simd", "--sanitizer=memory", "-Zsanitizer=memory"},
		opts.CLIArgs())

	opts = DefaultBuildOptions()
	opts.CodegenUnits = 16
	opts.ToolsPath = "/opt/llvm/bin"
	assert.Equal(t,
		[]string{"--codegen-units=16", "--llvm-tools=/opt/llvm/bin"},
		opts.CLIArgs())
}

func TestRunOutcomeString(t *testing.T) {
	assert.Equal(t, "clean", Clean().String())
	assert.Equal(t, "crashed (signal SIGSEGV)", Crashed(-1, "SIGSEGV", "", ArtifactCrash).String())
	assert.Equal(t, "crashed (exit code 77): a/crash-1", Crashed(77, "", "a/crash-1", ArtifactCrash).String())
	assert.Equal(t, "tool error: no such file", ToolFailure("no such %s", "file").String())
	assert.Nil(t, Clean().Err())
}
