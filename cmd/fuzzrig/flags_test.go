package main

import (
	"fuzzrig/internal/project"
	"fuzzrig/internal/types"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand(args ...string) (*cobra.Command, *buildFlags, *engineFlags) {
	cmd := &cobra.Command{Use: "test", Run: func(*cobra.Command, []string) {}}
	b := addBuildFlags(cmd)
	e := addEngineFlags(cmd)
	cmd.SetArgs(args)
	return cmd, b, e
}

func TestBuildFlagsFallBackToProjectDefaults(t *testing.T) {
	cmd, flags, _ := newTestCommand()
	require.NoError(t, cmd.Execute())

	opts, err := flags.options(cmd, project.Defaults{Sanitizer: "memory", Profile: "dev", Features: "simd"})
	require.NoError(t, err)
	assert.Equal(t, []types.Sanitizer{types.SanitizerMemory}, opts.Sanitizers)
	assert.Equal(t, types.ProfileDev, opts.Profile)
	assert.Equal(t, "simd", opts.Features)
	assert.Nil(t, opts.BuildStd)
}

func TestBuildFlagsOverrideProjectDefaults(t *testing.T) {
	cmd, flags, _ := newTestCommand("-O", "--sanitizer=address,leak", "--features=", "--build-std=false", "-Z", "sanitizer-memory-track-origins")
	require.NoError(t, cmd.Execute())

	opts, err := flags.options(cmd, project.Defaults{Sanitizer: "memory", Profile: "dev", Features: "simd"})
	require.NoError(t, err)
	assert.Equal(t, []types.Sanitizer{types.SanitizerAddress, types.SanitizerLeak}, opts.Sanitizers)
	assert.Equal(t, types.ProfileRelease, opts.Profile)
	assert.Empty(t, opts.Features)
	require.NotNil(t, opts.BuildStd)
	assert.False(t, *opts.BuildStd)
	assert.Equal(t, []string{"sanitizer-memory-track-origins"}, opts.UnstableFlags)
}

func TestBuildFlagsRejectUnknownSanitizer(t *testing.T) {
	cmd, flags, _ := newTestCommand("--sanitizer=undefined")
	require.NoError(t, cmd.Execute())

	_, err := flags.options(cmd, project.Defaults{})
	assert.Equal(t, types.ExitUnsupported, types.ExitCode(err))
}

func TestEngineArgsAfterDash(t *testing.T) {
	cmd, _, flags := newTestCommand("--runs=10", "-j", "4", "decode", "corpus/decode", "--", "-seed=1", "-only_ascii=1")
	require.NoError(t, cmd.Execute())

	engine, positional := flags.options(cmd, cmd.Flags().Args())
	assert.Equal(t, []string{"decode", "corpus/decode"}, positional)
	assert.Equal(t, []string{"-seed=1", "-only_ascii=1"}, engine.Args)
	assert.Equal(t, 10, engine.Runs)
	assert.Equal(t, 4, engine.Jobs)
}
