package coverage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/process"
	"fuzzrig/internal/project"
	"fuzzrig/internal/types"
	"fuzzrig/internal/utils"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const rawExt = ".profraw"

// Merger collects raw profiles by replaying a corpus under a coverage build
// and folds them into the target's merged profile.
type Merger struct {
	runner  process.Runner
	sup     *fuzz.Supervisor
	project *project.Project
	logger  *zap.Logger
	stderr  io.Writer
}

func NewMerger(runner process.Runner, sup *fuzz.Supervisor, proj *project.Project, logger *zap.Logger, stderr io.Writer) *Merger {
	if stderr == nil {
		stderr = io.Discard
	}
	return &Merger{runner, sup, proj, logger.Named("coverage"), stderr}
}

type CollectOptions struct {
	Dirs   []string
	Policy fuzz.CrashPolicy
	// BuildKey is the key of the coverage build being replayed; it prefixes
	// every raw profile name so Merge can tell builds apart.
	BuildKey string
	// BatchSize > 0 writes one raw profile per batch of inputs instead of one per input.
	BatchSize int
}

type Collection struct {
	ID       string
	Report   fuzz.SweepReport
	RawFiles []string
}

// Collect replays every corpus input once with LLVM_PROFILE_FILE pointing
// into the raw profile directory. Raw profile names are unique per
// collection, so collecting the same corpus again never reuses a name.
func (m *Merger) Collect(ctx context.Context, run fuzz.Run, opts CollectOptions) (Collection, error) {
	rawDir := m.project.RawProfileDir(run.Target.Name)
	if err := os.MkdirAll(rawDir, 0755); err != nil {
		return Collection{}, fmt.Errorf("failed to create raw profile directory: %w", err)
	}
	before, err := rawFiles(rawDir)
	if err != nil {
		return Collection{}, err
	}

	id := uuid.NewString()[:8]
	prefix := rawPrefix(opts.BuildKey) + id
	report := m.sup.ReplayCorpus(ctx, run, fuzz.Sweep{
		Dirs:   opts.Dirs,
		Policy: opts.Policy,
		Quiet:  true,
		EnvFor: func(i int, entry types.CorpusEntry) []string {
			return []string{"LLVM_PROFILE_FILE=" + profileFile(rawDir, prefix, i, entry, opts.BatchSize)}
		},
	})

	after, err := rawFiles(rawDir)
	if err != nil {
		return Collection{}, err
	}
	var created []string
	for _, f := range after {
		if !slices.Contains(before, f) {
			created = append(created, f)
		}
	}
	m.logger.Info("raw profiles collected",
		zap.String("target", run.Target.Name),
		zap.String("collection", id),
		zap.Int("inputs", len(report.Results)),
		zap.Int("raw_files", len(created)),
		zap.Int("crashes", len(report.Crashes())),
	)

	result := Collection{ID: id, Report: report, RawFiles: created}
	if report.Stopped {
		last := report.Last()
		switch last.Kind {
		case types.OutcomeCancelled, types.OutcomeToolError:
			return result, last.Err()
		}
	}
	return result, nil
}

func profileFile(rawDir, prefix string, i int, entry types.CorpusEntry, batch int) string {
	if batch > 0 {
		// %m merges online into one pool file per binary signature
		return filepath.Join(rawDir, fmt.Sprintf("%s-batch-%06d-%%m%s", prefix, i/batch, rawExt))
	}
	corpus := filepath.Base(filepath.Dir(entry.Path))
	return filepath.Join(rawDir, prefix+"-"+corpus+"-"+entry.Name()+rawExt)
}

// rawPrefix is the name prefix shared by every raw profile of one build.
func rawPrefix(buildKey string) string {
	if buildKey == "" {
		return ""
	}
	if len(buildKey) > 12 {
		buildKey = buildKey[:12]
	}
	return buildKey + "-"
}

type MergeOptions struct {
	Profdata string // llvm-profdata executable
	Rebuild  bool   // merge every raw profile ever collected from scratch
	// BuildKey, when set, is the build the profile must describe. Counters of
	// any other build, merged or raw, are discarded instead of being summed.
	BuildKey string
}

// Merge folds the raw profile directory into coverage.profdata with a single
// llvm-profdata invocation over the directory. Merged raw files move to the
// merged directory; merging again with no new raw files changes nothing.
// When the build changed, the previous profile is replaced by the new
// collection rather than added to.
func (m *Merger) Merge(ctx context.Context, target string, opts MergeOptions) (types.CoverageProfile, error) {
	rawDir := m.project.RawProfileDir(target)
	mergedDir := m.project.MergedProfileDir(target)
	out := m.project.ProfdataPath(target)
	profile := types.CoverageProfile{Target: target, Path: out, RawDir: rawDir}

	for _, dir := range []string{rawDir, mergedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return profile, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	ledgerFile := ledgerPath(m.project.CoverageDir(target))
	led, err := loadLedger(ledgerFile)
	if err != nil {
		return profile, err
	}

	hasProfile := fileExists(out)
	switch {
	case opts.BuildKey == "":
	case led.Build == "":
		led.Build = opts.BuildKey
	case led.Build != opts.BuildKey:
		m.logger.Info("target was rebuilt, discarding the previous coverage profile",
			zap.String("target", target),
			zap.String("previous_build", led.Build),
			zap.String("build", opts.BuildKey))
		if err := removeRaw(mergedDir); err != nil {
			return profile, err
		}
		led.reset(opts.BuildKey)
		hasProfile = false
	}

	pending, err := rawFiles(rawDir)
	if err != nil {
		return profile, err
	}
	var fresh []string
	for _, f := range pending {
		name := filepath.Base(f)
		if opts.BuildKey != "" && !strings.HasPrefix(name, rawPrefix(opts.BuildKey)) {
			m.logger.Warn("dropping raw profile of another build", zap.String("file", f))
			if err := os.Remove(f); err != nil {
				return profile, fmt.Errorf("failed to remove stale raw profile: %w", err)
			}
			continue
		}
		// files a previous merge already counted but did not get to move
		if !opts.Rebuild && led.counted(f) {
			if err := utils.MoveFile(f, filepath.Join(mergedDir, name)); err != nil {
				return profile, err
			}
			continue
		}
		fresh = append(fresh, f)
	}
	if len(fresh) == 0 && !opts.Rebuild {
		if !hasProfile {
			return profile, fmt.Errorf("no raw profiles to merge in %s", rawDir)
		}
		m.logger.Info("coverage profile is up to date", zap.String("profile", out))
		return profile, nil
	}

	args := []string{"merge", "-sparse"}
	var inputs []string
	if len(fresh) > 0 {
		inputs = append(inputs, rawDir)
	}
	if opts.Rebuild {
		merged, err := rawFiles(mergedDir)
		if err != nil {
			return profile, err
		}
		if len(merged) > 0 {
			inputs = append(inputs, mergedDir)
		}
		led.reset(opts.BuildKey)
	} else if hasProfile {
		inputs = append(inputs, out)
	}
	if len(inputs) == 0 {
		return profile, fmt.Errorf("no raw profiles to merge for %s", target)
	}
	tmp := out + ".tmp-" + uuid.NewString()
	args = append(args, inputs...)
	args = append(args, "-o", tmp)

	var stderr bytes.Buffer
	exit, err := m.runner.Run(ctx, process.Command{
		Path:   opts.Profdata,
		Args:   args,
		Stdout: m.stderr,
		Stderr: io.MultiWriter(m.stderr, &stderr),
	})
	if err != nil {
		return profile, err
	}
	if exit.Cancelled {
		os.Remove(tmp)
		return profile, types.ErrCancelled
	}
	if !exit.Success() {
		os.Remove(tmp)
		return profile, &types.ToolError{
			Op:  "llvm-profdata merge",
			Err: fmt.Errorf("exit code %d: %s", exit.Code, strings.TrimSpace(stderr.String())),
		}
	}
	if err := os.Rename(tmp, out); err != nil {
		return profile, fmt.Errorf("failed to install merged profile: %w", err)
	}

	counted := append([]string(nil), fresh...)
	if opts.Rebuild {
		merged, err := rawFiles(mergedDir)
		if err != nil {
			return profile, err
		}
		counted = append(counted, merged...)
	}
	stamps := make(map[string]rawStamp, len(counted))
	for _, f := range counted {
		st, err := stampOf(f)
		if err != nil {
			return profile, fmt.Errorf("failed to stat raw profile: %w", err)
		}
		stamps[filepath.Base(f)] = st
	}
	led.record(stamps, time.Now().UTC())
	if err := led.save(ledgerFile); err != nil {
		return profile, err
	}

	var errs []error
	for _, f := range fresh {
		if err := utils.MoveFile(f, filepath.Join(mergedDir, filepath.Base(f))); err != nil {
			errs = append(errs, err)
		}
	}
	profile.RawFiles = fresh
	m.logger.Info("coverage profile merged",
		zap.String("target", target),
		zap.String("profile", out),
		zap.Int("new_raw_files", len(fresh)),
		zap.Bool("rebuild", opts.Rebuild),
	)
	return profile, errors.Join(errs...)
}

func rawFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list raw profiles: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), rawExt) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func removeRaw(dir string) error {
	files, err := rawFiles(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove stale raw profile: %w", err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
