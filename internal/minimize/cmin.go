package minimize

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/process"
	"fuzzrig/internal/types"
	"fuzzrig/internal/utils"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CminResult struct {
	Before   int
	After    int
	Features int
	Dropped  []string // inputs adding no new coverage
	Crashed  []string // inputs that crashed the merge pass, also dropped
}

// CorpusMinimizer keeps the smallest set of inputs that together reach every
// coverage feature the whole corpus reaches.
type CorpusMinimizer struct {
	runner process.Runner
	logger *zap.Logger
	stderr io.Writer
}

func NewCorpusMinimizer(runner process.Runner, logger *zap.Logger, stderr io.Writer) *CorpusMinimizer {
	if stderr == nil {
		stderr = io.Discard
	}
	return &CorpusMinimizer{runner, logger.Named("cmin"), stderr}
}

// Minimize rewrites corpusDir in place. The selection is staged in a scratch
// directory next to the corpus and swapped in only once complete.
func (c *CorpusMinimizer) Minimize(ctx context.Context, run fuzz.Run, corpusDir string) (CminResult, error) {
	var result CminResult
	var entries []types.CorpusEntry
	for entry, err := range fuzz.CorpusEntries(corpusDir) {
		if err != nil {
			return result, err
		}
		entries = append(entries, entry)
	}
	result.Before = len(entries)
	if len(entries) == 0 {
		c.logger.Info("corpus is empty, nothing to minimize", zap.String("corpus", corpusDir))
		return result, nil
	}

	scratch := filepath.Join(filepath.Dir(corpusDir), ".cmin-"+uuid.NewString())
	mergeOut := filepath.Join(scratch, "merge-out")
	if err := os.MkdirAll(mergeOut, 0755); err != nil {
		return result, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	records, err := c.measure(ctx, run, filepath.Join(scratch, "merge.ctl"), mergeOut, corpusDir)
	if err != nil {
		return result, err
	}

	kept, features := selectGreedy(records)
	result.Features = features
	keep := make(map[string]bool, len(kept))
	for _, r := range kept {
		keep[r.Path] = true
	}
	for _, r := range records {
		switch {
		case r.crashed():
			result.Crashed = append(result.Crashed, r.Path)
		case !keep[r.Path]:
			result.Dropped = append(result.Dropped, r.Path)
		}
	}

	staged := filepath.Join(scratch, "corpus")
	if err := os.MkdirAll(staged, 0755); err != nil {
		return result, fmt.Errorf("failed to create staging corpus: %w", err)
	}
	for _, r := range kept {
		if err := utils.CopyFile(r.Path, filepath.Join(staged, filepath.Base(r.Path))); err != nil {
			return result, err
		}
	}
	if err := swapDir(corpusDir, staged, filepath.Join(scratch, "old")); err != nil {
		return result, err
	}
	result.After = len(kept)

	c.logger.Info("corpus minimized",
		zap.String("corpus", corpusDir),
		zap.Int("before", result.Before),
		zap.Int("after", result.After),
		zap.Int("features", result.Features),
		zap.Int("crashed", len(result.Crashed)),
	)
	return result, nil
}

func (c *CorpusMinimizer) measure(ctx context.Context, run fuzz.Run, control, mergeOut, corpusDir string) ([]mergeRecord, error) {
	exit, err := c.runner.Run(ctx, process.Command{
		Path:   run.Binary,
		Args:   run.Engine.MergeArgs(control, mergeOut, []string{corpusDir}),
		Env:    process.Environ(run.Env...),
		Stdout: io.Discard,
		Stderr: c.stderr,
		// no wall-clock bound: the merge pass restarts itself past crashing inputs
	})
	if err != nil {
		return nil, err
	}
	if exit.Cancelled {
		return nil, types.ErrCancelled
	}

	f, err := os.Open(control)
	if err != nil {
		return nil, &types.ToolError{
			Op:  "merge pass",
			Err: fmt.Errorf("no control file written (exit code %d): %w", exit.Code, err),
		}
	}
	defer f.Close()
	records, firstCorpus, err := parseControlFile(f)
	if err != nil {
		return nil, &types.ToolError{Op: "merge pass", Err: err}
	}
	// the first corpus is the empty merge output directory
	return records[firstCorpus:], nil
}

// selectGreedy visits inputs smallest first and keeps those reaching a
// feature no previously kept input reaches. Inputs that crashed are dropped;
// inputs the merge pass never reached are kept.
func selectGreedy(records []mergeRecord) ([]mergeRecord, int) {
	order := slices.Clone(records)
	slices.SortStableFunc(order, func(a, b mergeRecord) int {
		return cmp.Or(cmp.Compare(a.Size, b.Size), cmp.Compare(a.Path, b.Path))
	})

	seen := make(map[uint64]struct{})
	var kept []mergeRecord
	for _, r := range order {
		if r.crashed() {
			continue
		}
		if !r.Started {
			kept = append(kept, r)
			continue
		}
		novel := false
		for _, f := range r.Features {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				novel = true
			}
		}
		if novel {
			kept = append(kept, r)
		}
	}
	return kept, len(seen)
}

// swapDir replaces dir with staged, moving the original to backup first and
// restoring it if the second rename fails.
func swapDir(dir, staged, backup string) error {
	if err := os.Rename(dir, backup); err != nil {
		return fmt.Errorf("failed to move corpus aside: %w", err)
	}
	if err := os.Rename(staged, dir); err != nil {
		if rerr := os.Rename(backup, dir); rerr != nil {
			return errors.Join(fmt.Errorf("failed to install minimized corpus: %w", err), rerr)
		}
		return fmt.Errorf("failed to install minimized corpus: %w", err)
	}
	return nil
}
