package minimize

import (
	"context"
	"fmt"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/process"
	"fuzzrig/internal/process/processtest"
	"fuzzrig/internal/project/projecttest"
	"fuzzrig/internal/types"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseControlFile(t *testing.T) {
	ctl := strings.Join([]string{
		"3",
		"1",
		"/out/seed",
		"/corpus/a",
		"/corpus/b",
		"STARTED 0 4",
		"FT 0 1 2",
		"COV 0 10 11",
		"STARTED 1 8",
		"FT 1 2 3",
		"STARTED 2 16",
		"",
	}, "\n")
	records, first, err := parseControlFile(strings.NewReader(ctl))
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	require.Len(t, records, 3)
	assert.Equal(t, []uint64{2, 3}, records[1].Features)
	assert.Equal(t, int64(8), records[1].Size)
	assert.True(t, records[2].crashed())
	assert.False(t, records[1].crashed())

	_, _, err = parseControlFile(strings.NewReader("2\n0\n/only-one\n"))
	assert.Error(t, err)
	_, _, err = parseControlFile(strings.NewReader("1\n0\n/a\nFT 7 1\n"))
	assert.Error(t, err)
}

func TestSelectGreedy(t *testing.T) {
	records := []mergeRecord{
		{Path: "big", Size: 30, Started: true, Done: true, Features: []uint64{1, 2, 3}},
		{Path: "small", Size: 1, Started: true, Done: true, Features: []uint64{1}},
		{Path: "mid", Size: 5, Started: true, Done: true, Features: []uint64{1, 2}},
		{Path: "dup", Size: 5, Started: true, Done: true, Features: []uint64{2}},
		{Path: "crash", Size: 2, Started: true},
		{Path: "unseen"},
	}
	kept, features := selectGreedy(records)
	var names []string
	for _, r := range kept {
		names = append(names, r.Path)
	}
	assert.Equal(t, []string{"unseen", "small", "dup", "big"}, names)
	assert.Equal(t, 3, features)
}

// mergeHandler emulates a merge pass: each corpus file's features are the
// comma-separated numbers it contains, "crash" never finishes.
func mergeHandler(ctx context.Context, cmd process.Command) (process.Exit, error) {
	control, ok := processtest.Arg(cmd, "merge_control_file")
	if !ok {
		return process.Exit{Code: 1}, nil
	}
	corpus := cmd.Args[len(cmd.Args)-1]
	entries, err := os.ReadDir(corpus)
	if err != nil {
		return process.Exit{}, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, filepath.Join(corpus, e.Name()))
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%d\n0\n", len(names))
	for _, n := range names {
		b.WriteString(n + "\n")
	}
	for i, n := range names {
		data, _ := os.ReadFile(n)
		fmt.Fprintf(&b, "STARTED %d %d\n", i, len(data))
		if string(data) == "crash" {
			continue
		}
		fmt.Fprintf(&b, "FT %d %s\n", i, strings.ReplaceAll(string(data), ",", " "))
	}
	return process.Exit{}, os.WriteFile(control, []byte(b.String()), 0644)
}

func TestCorpusMinimizer(t *testing.T) {
	proj := projecttest.New(t, "decode")
	corpus := proj.CorpusDir("decode")
	projecttest.WriteCorpus(t, corpus, map[string]string{
		"a": "2,5",
		"b": "2",
		"c": "1,2,3,4",
		"d": "crash",
		"e": "5",
	})

	runner := processtest.New().On("decode", mergeHandler)
	cmin := NewCorpusMinimizer(runner, zap.NewNop(), nil)
	res, err := cmin.Minimize(context.Background(), fuzz.Run{Binary: "/bin/decode"}, corpus)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Before)
	assert.Equal(t, 3, res.After)
	assert.Equal(t, 5, res.Features)
	assert.Equal(t, []string{filepath.Join(corpus, "d")}, res.Crashed)
	assert.Equal(t, []string{filepath.Join(corpus, "a")}, res.Dropped)

	entries, err := os.ReadDir(corpus)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"b", "c", "e"}, names)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(corpus), ".cmin-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCorpusMinimizerMissingControlFile(t *testing.T) {
	proj := projecttest.New(t, "decode")
	corpus := proj.CorpusDir("decode")
	projecttest.WriteCorpus(t, corpus, map[string]string{"a": "1"})

	runner := processtest.New().On("decode", processtest.ExitCode(1))
	_, err := NewCorpusMinimizer(runner, zap.NewNop(), nil).Minimize(context.Background(), fuzz.Run{Binary: "/bin/decode"}, corpus)
	var toolErr *types.ToolError
	assert.ErrorAs(t, err, &toolErr)
	assert.FileExists(t, filepath.Join(corpus, "a"))
}

func TestEngineShrinker(t *testing.T) {
	runner := processtest.New().On("decode", func(ctx context.Context, cmd process.Command) (process.Exit, error) {
		out, _ := processtest.Arg(cmd, "exact_artifact_path")
		maxLen, _ := processtest.Arg(cmd, "max_len")
		data, err := os.ReadFile(cmd.Args[len(cmd.Args)-1])
		if err != nil {
			return process.Exit{}, err
		}
		var n int
		fmt.Sscan(maxLen, &n)
		if n == 0 {
			return process.Exit{Code: 1}, nil
		}
		return process.Exit{}, os.WriteFile(out, data[len(data)-n:], 0644)
	})
	s := NewEngineShrinker(runner, fuzz.Run{Binary: "/bin/decode"}, t.TempDir(), 255, zap.NewNop())

	candidate, err := s.Shrink(context.Background(), []byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, "bcd", string(candidate))

	candidate, err = s.Shrink(context.Background(), []byte("a"))
	require.NoError(t, err)
	assert.Nil(t, candidate)

	runs, _ := processtest.Arg(runner.CallsTo("decode")[0], "runs")
	assert.Equal(t, "255", runs)
}
