package fuzz

import (
	"context"
	"errors"
	"fmt"
	"fuzzrig/internal/crash"
	"fuzzrig/internal/process"
	"fuzzrig/internal/process/processtest"
	"fuzzrig/internal/project"
	"fuzzrig/internal/project/projecttest"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/watchdog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const binary = "/fake/target/x86_64-unknown-linux-gnu/release/decode"

type fixture struct {
	proj   *project.Project
	runner *processtest.Runner
	sup    *Supervisor
	run    Run
}

func newFixture(t *testing.T, handler processtest.Handler) *fixture {
	t.Helper()
	proj := projecttest.New(t, "decode")
	target, err := proj.Target("decode")
	require.NoError(t, err)

	runner := processtest.New().On("decode", handler)
	logger := zap.NewNop()
	sup := NewSupervisor(runner, crash.New(proj, logger), watchdog.NewWatchDogFactory(logger), logger, nil, nil)
	return &fixture{
		proj:   proj,
		runner: runner,
		sup:    sup,
		run: Run{
			Target:     target,
			Binary:     binary,
			Env:        []string{"ASAN_OPTIONS=detect_odr_violation=0"},
			Sanitizers: []types.Sanitizer{types.SanitizerAddress},
		},
	}
}

func (f *fixture) artifacts(t *testing.T) []types.CrashArtifact {
	t.Helper()
	var out []types.CrashArtifact
	for a, err := range crash.New(f.proj, zap.NewNop()).List("decode") {
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

// writeArtifact emulates the engine writing an artifact under -artifact_prefix.
func writeArtifact(cmd process.Command, name, content string) error {
	prefix, ok := processtest.Arg(cmd, "artifact_prefix")
	if !ok {
		return errors.New("no artifact prefix")
	}
	return os.WriteFile(prefix+name, []byte(content), 0644)
}

func alwaysCrash(ctx context.Context, cmd process.Command) (process.Exit, error) {
	if err := writeArtifact(cmd, "crash-0a1b", "boom"); err != nil {
		return process.Exit{}, err
	}
	return process.Exit{Code: ErrorExitCode}, nil
}

func TestFuzzAlwaysCrashing(t *testing.T) {
	f := newFixture(t, alwaysCrash)

	outcome := f.sup.Fuzz(context.Background(), f.run, []string{f.proj.CorpusDir("decode")})
	require.Equal(t, types.OutcomeCrashed, outcome.Kind, outcome.String())
	assert.Equal(t, ErrorExitCode, outcome.ExitCode)
	assert.Equal(t, types.ArtifactCrash, outcome.ArtifactKind)

	artifacts := f.artifacts(t)
	require.Len(t, artifacts, 1)
	assert.Equal(t, artifacts[0].Path, outcome.ArtifactPath)
	assert.Equal(t, []types.Sanitizer{types.SanitizerAddress}, artifacts[0].Sanitizers)

	calls := f.runner.CallsTo("decode")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args, "-error_exitcode=77")
	assert.Equal(t, f.proj.CorpusDir("decode"), calls[0].Args[len(calls[0].Args)-1])
	asan, _ := processtest.EnvValue(calls[0], "ASAN_OPTIONS")
	assert.Equal(t, "detect_odr_violation=0", asan)
}

func TestFuzzNeverCrashing(t *testing.T) {
	f := newFixture(t, processtest.ExitCode(0))
	f.run.Engine.Runs = 1000

	outcome := f.sup.Fuzz(context.Background(), f.run, []string{f.proj.CorpusDir("decode")})
	assert.Equal(t, types.OutcomeClean, outcome.Kind)
	assert.Empty(t, f.artifacts(t))

	runs, _ := processtest.Arg(f.runner.CallsTo("decode")[0], "runs")
	assert.Equal(t, "1000", runs)
}

func TestFuzzCancelledLeavesNoArtifact(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		if err := writeArtifact(cmd, "crash-partial", "half"); err != nil {
			return process.Exit{}, err
		}
		return process.Exit{Code: -1, Cancelled: true}, nil
	})

	outcome := f.sup.Fuzz(context.Background(), f.run, nil)
	assert.Equal(t, types.OutcomeCancelled, outcome.Kind)
	assert.Empty(t, f.artifacts(t))
}

func TestFuzzClassification(t *testing.T) {
	tests := []struct {
		name string
		exit process.Exit
		want types.OutcomeKind
	}{
		{"signal", process.Exit{Code: -1, Signal: "SIGSEGV"}, types.OutcomeCrashed},
		{"timeout exit code", process.Exit{Code: TimeoutExitCode}, types.OutcomeCrashed},
		{"wall clock", process.Exit{Code: -1, TimedOut: true}, types.OutcomeTimeout},
		{"engine refused", process.Exit{Code: 1}, types.OutcomeToolError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(ctx context.Context, cmd process.Command) (process.Exit, error) {
				fmt.Fprint(cmd.Stderr, "ERROR: something")
				return tt.exit, nil
			})
			outcome := f.sup.Fuzz(context.Background(), f.run, nil)
			assert.Equal(t, tt.want, outcome.Kind)
			if tt.want == types.OutcomeToolError {
				assert.Contains(t, outcome.Message, "ERROR: something")
			}
		})
	}
}

func TestFuzzSpawnFailure(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		return process.Exit{}, &types.ToolError{Op: "spawn " + cmd.Path, Err: os.ErrNotExist}
	})
	outcome := f.sup.Fuzz(context.Background(), f.run, nil)
	assert.Equal(t, types.OutcomeToolError, outcome.Kind)
}

func TestReplay(t *testing.T) {
	input := t.TempDir() + "/input"
	require.NoError(t, os.WriteFile(input, []byte("crashy"), 0644))

	f := newFixture(t, processtest.ExitCode(1))
	outcome := f.sup.Replay(context.Background(), f.run, input, false)
	require.Equal(t, types.OutcomeCrashed, outcome.Kind)
	assert.Equal(t, input, outcome.ArtifactPath)
	assert.Empty(t, f.artifacts(t))
	args := f.runner.CallsTo("decode")[0].Args
	assert.Equal(t, input, args[len(args)-1])

	outcome = f.sup.Replay(context.Background(), f.run, input, true)
	require.Equal(t, types.OutcomeCrashed, outcome.Kind)
	artifacts := f.artifacts(t)
	require.Len(t, artifacts, 1)
	assert.Equal(t, artifacts[0].Path, outcome.ArtifactPath)
	data, err := os.ReadFile(artifacts[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "crashy", string(data))
}

func TestReplayMissingInput(t *testing.T) {
	f := newFixture(t, processtest.ExitCode(0))
	outcome := f.sup.Replay(context.Background(), f.run, "/does/not/exist", false)
	assert.Equal(t, types.OutcomeToolError, outcome.Kind)
	assert.Empty(t, f.runner.Calls())
}

func crashOn(content string) processtest.Handler {
	return func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		data, err := os.ReadFile(cmd.Args[len(cmd.Args)-1])
		if err != nil {
			return process.Exit{}, err
		}
		if string(data) == content {
			return process.Exit{Code: 1}, nil
		}
		return process.Exit{}, nil
	}
}

func tenInputs(t *testing.T, f *fixture) {
	files := map[string]string{}
	for i := 1; i <= 10; i++ {
		files[fmt.Sprintf("input-%02d", i)] = fmt.Sprintf("payload-%d", i)
	}
	projecttest.WriteCorpus(t, f.proj.CorpusDir("decode"), files)
}

func TestReplayCorpusStopOnFirstCrash(t *testing.T) {
	f := newFixture(t, crashOn("payload-5"))
	tenInputs(t, f)

	report := f.sup.ReplayCorpus(context.Background(), f.run, Sweep{
		Dirs:   []string{f.proj.CorpusDir("decode")},
		Policy: StopOnFirstCrash,
	})
	assert.Len(t, report.Results, 5)
	assert.True(t, report.Stopped)
	assert.Len(t, f.runner.CallsTo("decode"), 5)
	require.Len(t, report.Crashes(), 1)
	assert.Equal(t, "input-05", report.Crashes()[0].Entry.Name())
	assert.True(t, report.Last().IsCrash())
}

func TestReplayCorpusContinueOnCrash(t *testing.T) {
	f := newFixture(t, crashOn("payload-5"))
	tenInputs(t, f)

	var envs []string
	report := f.sup.ReplayCorpus(context.Background(), f.run, Sweep{
		Dirs:   []string{f.proj.CorpusDir("decode"), "/missing/dir/is/skipped"},
		Policy: ContinueOnCrash,
		EnvFor: func(i int, entry types.CorpusEntry) []string {
			env := fmt.Sprintf("LLVM_PROFILE_FILE=/raw/%d-%s.profraw", i, entry.Name())
			envs = append(envs, env)
			return []string{env}
		},
		Quiet: true,
	})
	assert.Len(t, report.Results, 10)
	assert.False(t, report.Stopped)
	assert.Len(t, report.Crashes(), 1)
	assert.Len(t, envs, 10)

	calls := f.runner.CallsTo("decode")
	profile, _ := processtest.EnvValue(calls[9], "LLVM_PROFILE_FILE")
	assert.Equal(t, "/raw/9-input-10.profraw", profile)
}

func TestReplayCorpusStopsOnCancel(t *testing.T) {
	f := newFixture(t, processtest.ExitCode(0))
	tenInputs(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.sup.ReplayCorpus(ctx, f.run, Sweep{Dirs: []string{f.proj.CorpusDir("decode")}, Policy: ContinueOnCrash})
	require.Len(t, report.Results, 1)
	assert.Equal(t, types.OutcomeCancelled, report.Results[0].Outcome.Kind)
	assert.True(t, report.Stopped)
}

func TestLibFuzzerArgs(t *testing.T) {
	engine := LibFuzzer{
		Runs:         10,
		MaxTotalTime: 90 * time.Second,
		Jobs:         4,
		InputTimeout: 1500 * time.Millisecond,
		Dict:         "/d/decode.dict",
		ExtraArgs:    []string{"-only_ascii=1"},
	}
	assert.Equal(t, []string{
		"-error_exitcode=77",
		"-timeout_exitcode=70",
		"-timeout=2",
		"-runs=10",
		"-max_total_time=90",
		"-fork=4",
		"-dict=/d/decode.dict",
		"-only_ascii=1",
		"corpus/a", "corpus/b",
	}, engine.FuzzArgs([]string{"corpus/a", "corpus/b"}))

	assert.Equal(t, []string{
		"-error_exitcode=77",
		"-timeout_exitcode=70",
		"-minimize_crash=1",
		"-exact_artifact_path=out",
		"-max_len=12",
		"-runs=255",
		"in",
	}, LibFuzzer{}.MinimizeArgs("in", "out", 12, 255))

	assert.Equal(t, []string{
		"-error_exitcode=77",
		"-timeout_exitcode=70",
		"-merge=1",
		"-merge_control_file=ctl",
		"scratch", "c1",
	}, LibFuzzer{}.MergeArgs("ctl", "scratch", []string{"c1"}))
}
