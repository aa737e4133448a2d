//go:build unix

package process

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecRunnerExitCode(t *testing.T) {
	r := NewExecRunner(zap.NewNop(), time.Second)
	exit, err := r.Run(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "exit 77"}})
	require.NoError(t, err)
	assert.Equal(t, 77, exit.Code)
	assert.Empty(t, exit.Signal)
	assert.False(t, exit.Success())
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	var stdout bytes.Buffer
	r := NewExecRunner(zap.NewNop(), time.Second)
	exit, err := r.Run(context.Background(), Command{
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo $GREETING"},
		Env:    []string{"GREETING=hello"},
		Stdout: &stdout,
	})
	require.NoError(t, err)
	assert.True(t, exit.Success())
	assert.Equal(t, "hello\n", stdout.String())
}

func TestExecRunnerSignal(t *testing.T) {
	r := NewExecRunner(zap.NewNop(), time.Second)
	exit, err := r.Run(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "kill -SEGV $$"}})
	require.NoError(t, err)
	assert.Equal(t, "SIGSEGV", exit.Signal)
	assert.Equal(t, -1, exit.Code)
}

func TestExecRunnerTimeout(t *testing.T) {
	r := NewExecRunner(zap.NewNop(), 200*time.Millisecond)
	start := time.Now()
	exit, err := r.Run(context.Background(), Command{
		Path:    "/bin/sh",
		Args:    []string{"-c", "trap '' INT; sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, exit.TimedOut)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecRunnerCancel(t *testing.T) {
	r := NewExecRunner(zap.NewNop(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	exit, err := r.Run(ctx, Command{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)
	assert.True(t, exit.Cancelled)
	assert.False(t, exit.TimedOut)
}

func TestExecRunnerSpawnFailure(t *testing.T) {
	r := NewExecRunner(zap.NewNop(), time.Second)
	_, err := r.Run(context.Background(), Command{Path: "/nonexistent/fuzz-target"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn /nonexistent/fuzz-target")
}
