package minimize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Predicate reports whether candidate still reproduces the failure.
type Predicate func(ctx context.Context, candidate []byte) (bool, error)

// Shrinker proposes a smaller input than current. A nil candidate means the
// shrinker found nothing this round.
type Shrinker interface {
	Shrink(ctx context.Context, current []byte) ([]byte, error)
}

type ShrinkerFunc func(ctx context.Context, current []byte) ([]byte, error)

func (f ShrinkerFunc) Shrink(ctx context.Context, current []byte) ([]byte, error) {
	return f(ctx, current)
}

// Budget bounds a minimization. Zero fields are unbounded, except MaxStalls
// which defaults to DefaultMaxStalls.
type Budget struct {
	MaxStalls int // consecutive rounds without an accepted reduction
	MaxRounds int
	Deadline  time.Time
}

const DefaultMaxStalls = 8

type StopReason int

const (
	Stalled StopReason = iota
	BudgetExhausted
	Cancelled
)

func (r StopReason) String() string {
	switch r {
	case BudgetExhausted:
		return "budget exhausted"
	case Cancelled:
		return "cancelled"
	}
	return "stalled"
}

type Result struct {
	Input    []byte
	Reason   StopReason
	Rounds   int
	Accepted int
	Rejected int
}

var ErrDoesNotReproduce = errors.New("initial input does not reproduce the failure")

// Engine drives a shrinker until no further reduction is accepted or the
// budget runs out. Every accepted candidate is strictly smaller than the
// previous best and satisfies the predicate, so the result always reproduces.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("minimize")}
}

func (e *Engine) Minimize(ctx context.Context, initial []byte, shrinker Shrinker, reproduces Predicate, budget Budget) (Result, error) {
	if budget.MaxStalls <= 0 {
		budget.MaxStalls = DefaultMaxStalls
	}
	result := Result{Input: initial}

	ok, err := reproduces(ctx, initial)
	if err != nil {
		if ctx.Err() != nil {
			result.Reason = Cancelled
			return result, nil
		}
		return result, fmt.Errorf("failed to verify initial input: %w", err)
	}
	if !ok {
		return result, ErrDoesNotReproduce
	}

	stalls := 0
	for {
		switch {
		case ctx.Err() != nil:
			result.Reason = Cancelled
			return result, nil
		case stalls >= budget.MaxStalls:
			result.Reason = Stalled
			return result, nil
		case budget.MaxRounds > 0 && result.Rounds >= budget.MaxRounds,
			!budget.Deadline.IsZero() && !time.Now().Before(budget.Deadline):
			result.Reason = BudgetExhausted
			return result, nil
		}
		if len(result.Input) == 0 {
			result.Reason = Stalled
			return result, nil
		}

		result.Rounds++
		candidate, err := shrinker.Shrink(ctx, result.Input)
		if err != nil {
			if ctx.Err() != nil {
				result.Reason = Cancelled
				return result, nil
			}
			return result, err
		}
		if candidate == nil || len(candidate) >= len(result.Input) {
			stalls++
			result.Rejected++
			e.logger.Debug("no smaller candidate", zap.Int("round", result.Rounds), zap.Int("size", len(result.Input)))
			continue
		}

		ok, err := reproduces(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				result.Reason = Cancelled
				return result, nil
			}
			return result, err
		}
		if !ok {
			// keep the previous best
			stalls++
			result.Rejected++
			e.logger.Info("candidate does not reproduce, discarded",
				zap.Int("round", result.Rounds),
				zap.Int("candidate_size", len(candidate)),
			)
			continue
		}

		stalls = 0
		result.Accepted++
		e.logger.Info("reduction accepted",
			zap.Int("round", result.Rounds),
			zap.Int("from", len(result.Input)),
			zap.Int("to", len(candidate)),
		)
		result.Input = candidate
	}
}
