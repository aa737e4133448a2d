package fuzz

import (
	"context"
	"errors"
	"fmt"
	"fuzzrig/internal/process"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/watchdog"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const stderrTail = 4096

// Supervisor executes fuzz target binaries and turns every execution into
// exactly one RunOutcome. Artifacts written by the engine land in a private
// staging directory and are persisted through the sink only when the run
// crashed.
type Supervisor struct {
	runner    process.Runner
	sink      ArtifactSink
	watchdogs *watchdog.WatchDogFactory
	logger    *zap.Logger

	stdout io.Writer
	stderr io.Writer
}

func NewSupervisor(runner process.Runner, sink ArtifactSink, watchdogs *watchdog.WatchDogFactory, logger *zap.Logger, stdout, stderr io.Writer) *Supervisor {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Supervisor{
		runner:    runner,
		sink:      sink,
		watchdogs: watchdogs,
		logger:    logger.Named("supervisor"),
		stdout:    stdout,
		stderr:    stderr,
	}
}

// execution tracks one run through NotStarted -> Running -> Completed.
type execution struct {
	logger  *zap.Logger
	state   State
	outcome types.RunOutcome
}

func (s *Supervisor) newExecution(target, mode string) *execution {
	return &execution{logger: s.logger.With(zap.String("target", target), zap.String("mode", mode))}
}

func (e *execution) running() {
	if e.state == NotStarted {
		e.state = Running
		e.logger.Debug("execution running")
	}
}

// complete records the outcome once; later calls return the first outcome.
func (e *execution) complete(o types.RunOutcome) types.RunOutcome {
	if e.state == Completed {
		return e.outcome
	}
	e.state = Completed
	e.outcome = o
	e.logger.Debug("execution completed", zap.Stringer("outcome", o))
	return o
}

// Fuzz runs the fuzzing loop until the engine stops, a crash is found, the
// wall-clock bound elapses or ctx is cancelled.
func (s *Supervisor) Fuzz(ctx context.Context, run Run, corpus []string) types.RunOutcome {
	exec := s.newExecution(run.Target.Name, "fuzz")
	for _, dir := range corpus {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return exec.complete(types.ToolFailure("failed to create corpus directory %s: %v", dir, err))
		}
	}
	return s.supervise(ctx, exec, run, nil, false, func(engine LibFuzzer) []string {
		return engine.FuzzArgs(corpus)
	}, s.stdout, s.stderr)
}

// Replay executes the target once on input. With persist set a crashing input
// is stored as an artifact; otherwise the outcome points at input itself.
func (s *Supervisor) Replay(ctx context.Context, run Run, input string, persist bool) types.RunOutcome {
	return s.replay(ctx, run, input, persist, s.stdout, s.stderr)
}

func (s *Supervisor) replay(ctx context.Context, run Run, input string, persist bool, stdout, stderr io.Writer) types.RunOutcome {
	exec := s.newExecution(run.Target.Name, "replay")
	data, err := os.ReadFile(input)
	if err != nil {
		return exec.complete(types.ToolFailure("failed to read input: %v", err))
	}
	captured := &capturedInput{path: input, data: data}
	if !persist {
		captured = nil
	}
	outcome := s.supervise(ctx, exec, run, captured, true, func(engine LibFuzzer) []string {
		return engine.ReplayArgs(input)
	}, stdout, stderr)
	if outcome.IsCrash() && outcome.ArtifactPath == "" {
		outcome.ArtifactPath = input
	}
	return outcome
}

// ReplayCorpus replays every regular file of the sweep directories, in
// directory order and by name within a directory. It stops at the first crash
// under StopOnFirstCrash, and always on cancellation or a tool error.
func (s *Supervisor) ReplayCorpus(ctx context.Context, run Run, sweep Sweep) SweepReport {
	var report SweepReport
	stdout, stderr := s.stdout, s.stderr
	if sweep.Quiet {
		stdout, stderr = io.Discard, io.Discard
	}

	i := 0
	for entry, err := range CorpusEntries(sweep.Dirs...) {
		if err != nil {
			report.Results = append(report.Results, EntryOutcome{Entry: entry, Outcome: types.ToolFailure("%v", err)})
			report.Stopped = true
			return report
		}

		entryRun := run
		if sweep.EnvFor != nil {
			entryRun.Env = append(slices.Clone(run.Env), sweep.EnvFor(i, entry)...)
		}
		outcome := s.replay(ctx, entryRun, entry.Path, sweep.Persist, stdout, stderr)
		report.Results = append(report.Results, EntryOutcome{Entry: entry, Outcome: outcome})
		i++

		switch outcome.Kind {
		case types.OutcomeCrashed:
			s.logger.Info("input crashed", zap.String("input", entry.Path), zap.Stringer("outcome", outcome))
			if sweep.Policy == StopOnFirstCrash {
				report.Stopped = true
				return report
			}
		case types.OutcomeCancelled, types.OutcomeToolError:
			report.Stopped = true
			return report
		}
	}
	return report
}

type capturedInput struct {
	path string
	data []byte
}

type stagedArtifact struct {
	name string
	data []byte
}

func (s *Supervisor) supervise(
	ctx context.Context,
	exec *execution,
	run Run,
	input *capturedInput,
	replay bool,
	argsFor func(LibFuzzer) []string,
	stdout, stderr io.Writer,
) types.RunOutcome {
	staging, err := os.MkdirTemp("", "fuzzrig-staging-*")
	if err != nil {
		return exec.complete(types.ToolFailure("failed to create staging directory: %v", err))
	}
	defer os.RemoveAll(staging)

	engine := run.Engine
	engine.artifactPrefix = staging
	tail := newTailBuffer(stderrTail)
	cmd := process.Command{
		Path:    run.Binary,
		Args:    argsFor(engine),
		Env:     process.Environ(run.Env...),
		Stdout:  stdout,
		Stderr:  io.MultiWriter(stderr, tail),
		Timeout: run.Timeout,
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	notify := make(chan string, 16)
	s.watch(watchCtx, staging, notify)

	var exit process.Exit
	var g errgroup.Group
	g.Go(func() error {
		defer stopWatch()
		var err error
		exit, err = s.runner.Run(ctx, cmd)
		return err
	})
	g.Go(func() error {
		for path := range notify {
			exec.logger.Info("engine wrote artifact", zap.String("path", path))
		}
		return nil
	})
	exec.running()
	if err := g.Wait(); err != nil {
		return exec.complete(types.ToolFailure("%v", err))
	}

	staged, err := readStaged(staging)
	if err != nil {
		exec.logger.Warn("failed to read staged artifacts", zap.Error(err))
	}

	outcome := classify(exit, replay, len(staged) > 0)
	if outcome.Kind == types.OutcomeToolError && tail.String() != "" {
		outcome.Message += "\n" + strings.TrimSpace(tail.String())
	}
	exec.logger.Info("execution finished",
		zap.Stringer("outcome", outcome),
		zap.Duration("duration", exit.Duration),
	)

	// a cancelled run never leaves artifacts behind
	if outcome.Kind == types.OutcomeCancelled {
		return exec.complete(outcome)
	}
	if outcome.Kind != types.OutcomeCrashed && !(outcome.Kind == types.OutcomeTimeout && len(staged) > 0) {
		return exec.complete(outcome)
	}

	toPersist := staged
	if input != nil {
		kind := types.ArtifactCrash
		if len(staged) > 0 {
			kind = types.KindFromFileName(staged[0].name)
		}
		toPersist = []stagedArtifact{{name: string(kind) + "-", data: input.data}}
	} else if replay {
		toPersist = nil
	}
	if len(toPersist) > 0 {
		outcome.ArtifactKind = types.KindFromFileName(toPersist[0].name)
	}

	for _, a := range toPersist {
		artifact, err := s.sink.Persist(context.WithoutCancel(ctx), types.CrashInput{
			Target:     run.Target,
			Kind:       types.KindFromFileName(a.name),
			Data:       a.data,
			Outcome:    outcome,
			Sanitizers: run.Sanitizers,
		})
		if err != nil {
			exec.logger.Error("failed to persist artifact", zap.Error(err))
			continue
		}
		if outcome.ArtifactPath == "" {
			outcome.ArtifactPath = artifact.Path
		}
	}
	return exec.complete(outcome)
}

func (s *Supervisor) watch(ctx context.Context, dir string, notify chan string) {
	if s.watchdogs == nil {
		close(notify)
		return
	}
	dog, err := s.watchdogs.New(ctx, notify, isArtifactName)
	if err != nil {
		s.logger.Warn("artifact watcher unavailable", zap.Error(err))
		close(notify)
		return
	}
	if err := dog.AddDir(dir); err != nil {
		s.logger.Warn("failed to watch staging directory", zap.Error(err))
	}
}

func isArtifactName(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// readStaged loads every artifact the engine left in dir, sorted by name.
func readStaged(dir string) ([]stagedArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []stagedArtifact
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isArtifactName(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, stagedArtifact{e.Name(), data})
	}
	return out, errors.Join(errs...)
}

// classify maps how the process ended to an outcome. Exit code 1 is what the
// sanitizers report with by default, so it is a crash when replaying a single
// input or when the engine left an artifact behind; otherwise the engine
// refused to run.
func classify(exit process.Exit, replay, haveArtifact bool) types.RunOutcome {
	switch {
	case exit.Cancelled:
		return types.Cancelled()
	case exit.TimedOut:
		return types.TimedOut()
	case exit.Signal != "":
		return types.Crashed(exit.Code, exit.Signal, "", "")
	case exit.Code == 0:
		return types.Clean()
	case haveArtifact, exit.Code == ErrorExitCode, exit.Code == TimeoutExitCode:
		return types.Crashed(exit.Code, "", "", "")
	case replay && exit.Code == 1:
		return types.Crashed(exit.Code, "", "", "")
	}
	return types.ToolFailure("fuzz target exited with unexpected code %d", exit.Code)
}

// CorpusEntries lazily lists the regular files of dirs, directory by
// directory, sorted by name within each. Missing directories are skipped.
func CorpusEntries(dirs ...string) iter.Seq2[types.CorpusEntry, error] {
	return func(yield func(types.CorpusEntry, error) bool) {
		for _, dir := range dirs {
			info, err := os.Stat(dir)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				yield(types.CorpusEntry{Path: dir}, err)
				return
			}
			if !info.IsDir() {
				if !yield(types.CorpusEntry{Path: dir, Size: info.Size()}, nil) {
					return
				}
				continue
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				yield(types.CorpusEntry{Path: dir}, fmt.Errorf("failed to read corpus %s: %w", dir, err))
				return
			}
			for _, e := range entries {
				if !e.Type().IsRegular() {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				if !yield(types.CorpusEntry{Path: filepath.Join(dir, e.Name()), Size: info.Size()}, nil) {
					return
				}
			}
		}
	}
}
