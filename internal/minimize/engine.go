package minimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"fuzzrig/internal/fuzz"
	"fuzzrig/internal/process"
	"fuzzrig/internal/types"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineShrinker delegates each round to the engine's crash minimizer,
// bounding the output to one byte less than the current best.
type EngineShrinker struct {
	runner  process.Runner
	run     fuzz.Run
	scratch string
	runs    int
	logger  *zap.Logger
}

func NewEngineShrinker(runner process.Runner, run fuzz.Run, scratch string, runsPerRound int, logger *zap.Logger) *EngineShrinker {
	return &EngineShrinker{runner, run, scratch, runsPerRound, logger.Named("shrinker")}
}

func (s *EngineShrinker) Shrink(ctx context.Context, current []byte) ([]byte, error) {
	id := uuid.NewString()
	in := filepath.Join(s.scratch, "tmin-in-"+id)
	out := filepath.Join(s.scratch, "tmin-out-"+id)
	if err := os.WriteFile(in, current, 0644); err != nil {
		return nil, fmt.Errorf("failed to write shrink input: %w", err)
	}
	defer os.Remove(in)
	defer os.Remove(out)

	var stderr bytes.Buffer
	exit, err := s.runner.Run(ctx, process.Command{
		Path:    s.run.Binary,
		Args:    s.run.Engine.MinimizeArgs(in, out, len(current)-1, s.runs),
		Env:     process.Environ(s.run.Env...),
		Stdout:  io.Discard,
		Stderr:  &stderr,
		Timeout: s.run.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if exit.Cancelled {
		return nil, types.ErrCancelled
	}

	candidate, err := os.ReadFile(out)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("engine produced no candidate", zap.Int("exit_code", exit.Code), zap.Bool("timed_out", exit.TimedOut))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shrink output: %w", err)
	}
	return candidate, nil
}

// ReplayPredicate replays the candidate once under the supervisor; only a
// crash counts as reproducing.
func ReplayPredicate(sup *fuzz.Supervisor, run fuzz.Run, scratch string) Predicate {
	return func(ctx context.Context, candidate []byte) (bool, error) {
		path := filepath.Join(scratch, "candidate-"+uuid.NewString())
		if err := os.WriteFile(path, candidate, 0644); err != nil {
			return false, fmt.Errorf("failed to write candidate: %w", err)
		}
		defer os.Remove(path)

		outcome := sup.Replay(ctx, run, path, false)
		switch outcome.Kind {
		case types.OutcomeCrashed:
			return true, nil
		case types.OutcomeClean, types.OutcomeTimeout:
			return false, nil
		}
		return false, outcome.Err()
	}
}
