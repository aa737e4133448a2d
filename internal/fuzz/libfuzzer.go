package fuzz

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Exit codes requested from the engine so that findings are told apart from
// harness misuse.
const (
	ErrorExitCode   = 77
	TimeoutExitCode = 70
)

// LibFuzzer holds the engine options of a run and renders the engine command
// lines for each mode.
type LibFuzzer struct {
	Runs         int           // -runs, 0 keeps the engine default
	MaxTotalTime time.Duration // -max_total_time
	Jobs         int           // -fork when more than one
	InputTimeout time.Duration // -timeout, per input
	MaxLen       int           // -max_len
	Dict         string
	ExtraArgs    []string

	artifactPrefix string
}

func (l LibFuzzer) common() []string {
	args := []string{
		"-error_exitcode=" + strconv.Itoa(ErrorExitCode),
		"-timeout_exitcode=" + strconv.Itoa(TimeoutExitCode),
	}
	if l.artifactPrefix != "" {
		args = append(args, "-artifact_prefix="+l.artifactPrefix+string(filepath.Separator))
	}
	if l.InputTimeout > 0 {
		args = append(args, fmt.Sprintf("-timeout=%d", seconds(l.InputTimeout)))
	}
	return args
}

// FuzzArgs runs the fuzzing loop over the corpus directories. The first
// directory receives new interesting inputs.
func (l LibFuzzer) FuzzArgs(corpus []string) []string {
	args := l.common()
	if l.Runs > 0 {
		args = append(args, "-runs="+strconv.Itoa(l.Runs))
	}
	if l.MaxTotalTime > 0 {
		args = append(args, fmt.Sprintf("-max_total_time=%d", seconds(l.MaxTotalTime)))
	}
	if l.MaxLen > 0 {
		args = append(args, "-max_len="+strconv.Itoa(l.MaxLen))
	}
	if l.Jobs > 1 {
		args = append(args, "-fork="+strconv.Itoa(l.Jobs))
	}
	if l.Dict != "" {
		args = append(args, "-dict="+l.Dict)
	}
	args = append(args, l.ExtraArgs...)
	return append(args, corpus...)
}

// ReplayArgs executes the target once per input without mutating.
func (l LibFuzzer) ReplayArgs(inputs ...string) []string {
	args := append(l.common(), l.ExtraArgs...)
	return append(args, inputs...)
}

// MinimizeArgs asks the engine for a smaller input of at most maxLen bytes
// reproducing the same crash, written to output.
func (l LibFuzzer) MinimizeArgs(input, output string, maxLen, runs int) []string {
	args := append(l.common(),
		"-minimize_crash=1",
		"-exact_artifact_path="+output,
	)
	if maxLen > 0 {
		args = append(args, "-max_len="+strconv.Itoa(maxLen))
	}
	if runs > 0 {
		args = append(args, "-runs="+strconv.Itoa(runs))
	}
	args = append(args, l.ExtraArgs...)
	return append(args, input)
}

// MergeArgs runs a merge pass that records, per input, the coverage features
// it reaches into controlFile.
func (l LibFuzzer) MergeArgs(controlFile, outDir string, corpus []string) []string {
	args := append(l.common(),
		"-merge=1",
		"-merge_control_file="+controlFile,
	)
	args = append(args, l.ExtraArgs...)
	args = append(args, outDir)
	return append(args, corpus...)
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return max(s, 1)
}
