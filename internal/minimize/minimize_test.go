package minimize

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// dropFirst removes one byte per round.
var dropFirst = ShrinkerFunc(func(ctx context.Context, current []byte) ([]byte, error) {
	return bytes.Clone(current[1:]), nil
})

func containsX(ctx context.Context, candidate []byte) (bool, error) {
	return bytes.Contains(candidate, []byte("X")), nil
}

func TestMinimizeNeverReturnsNonReproducingInput(t *testing.T) {
	var accepted [][]byte
	predicate := func(ctx context.Context, candidate []byte) (bool, error) {
		ok, _ := containsX(ctx, candidate)
		if ok {
			accepted = append(accepted, candidate)
		}
		return ok, nil
	}

	res, err := NewEngine(zap.NewNop()).Minimize(context.Background(), []byte("abcXdef"), dropFirst, predicate, Budget{MaxStalls: 3})
	require.NoError(t, err)
	assert.Equal(t, "Xdef", string(res.Input))
	assert.Equal(t, Stalled, res.Reason)
	assert.Equal(t, 3, res.Accepted)

	ok, _ := containsX(context.Background(), res.Input)
	assert.True(t, ok)
	for _, a := range accepted {
		assert.LessOrEqual(t, len(res.Input), len(a))
	}
}

func TestMinimizeDiscardsLargerCandidates(t *testing.T) {
	grow := ShrinkerFunc(func(ctx context.Context, current []byte) ([]byte, error) {
		return append(bytes.Clone(current), 'X'), nil
	})
	res, err := NewEngine(zap.NewNop()).Minimize(context.Background(), []byte("X"), grow, containsX, Budget{MaxStalls: 2})
	require.NoError(t, err)
	assert.Equal(t, "X", string(res.Input))
	assert.Equal(t, 2, res.Rejected)
	assert.Zero(t, res.Accepted)
}

func TestMinimizeInitialMustReproduce(t *testing.T) {
	_, err := NewEngine(zap.NewNop()).Minimize(context.Background(), []byte("abc"), dropFirst, containsX, Budget{})
	assert.ErrorIs(t, err, ErrDoesNotReproduce)
}

func TestMinimizeBudget(t *testing.T) {
	res, err := NewEngine(zap.NewNop()).Minimize(context.Background(), []byte("aaaaaaaaX"), dropFirst, containsX, Budget{MaxRounds: 2})
	require.NoError(t, err)
	assert.Equal(t, BudgetExhausted, res.Reason)
	assert.Equal(t, "aaaaaaX", string(res.Input))
}

func TestMinimizeCancelledKeepsBest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rounds := 0
	shrinker := ShrinkerFunc(func(ctx context.Context, current []byte) ([]byte, error) {
		rounds++
		if rounds == 2 {
			cancel()
			return nil, ctx.Err()
		}
		return bytes.Clone(current[1:]), nil
	})
	res, err := NewEngine(zap.NewNop()).Minimize(ctx, []byte("aaX"), shrinker, containsX, Budget{})
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.Reason)
	assert.Equal(t, "aX", string(res.Input))
}

func TestMinimizeShrinkerError(t *testing.T) {
	boom := errors.New("engine missing")
	failing := ShrinkerFunc(func(ctx context.Context, current []byte) ([]byte, error) { return nil, boom })
	res, err := NewEngine(zap.NewNop()).Minimize(context.Background(), []byte("X"), failing, containsX, Budget{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "X", string(res.Input))
}
