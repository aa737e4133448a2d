package process

import (
	"context"
	"errors"
	"fuzzrig/internal/types"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const DefaultKillGrace = 5 * time.Second

type ExecRunner struct {
	logger    *zap.Logger
	killGrace time.Duration
}

func NewExecRunner(logger *zap.Logger, killGrace time.Duration) *ExecRunner {
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &ExecRunner{logger: logger, killGrace: killGrace}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Exit, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	setProcessGroup(cmd)

	if err := ctx.Err(); err != nil {
		return Exit{Code: -1, Cancelled: true}, nil
	}

	start := time.Now()
	r.logger.Debug("starting process", zap.String("command", c.String()))
	if err := cmd.Start(); err != nil {
		return Exit{}, &types.ToolError{Op: "spawn " + c.Path, Err: err}
	}

	// Wait must be the only reader of the process state
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return exitFrom(cmd, err, start), nil

	case <-timeout:
		// wall-clock bound reached → ask for a graceful shutdown first
		r.logger.Info("process exceeded its time bound, interrupting",
			zap.String("command", c.Path),
			zap.Duration("timeout", c.Timeout))
		_ = interruptGroup(cmd)

		grace := time.NewTimer(r.killGrace)
		defer grace.Stop()
		select {
		case err := <-done:
			exit := exitFrom(cmd, err, start)
			exit.TimedOut = true
			return exit, nil
		case <-grace.C:
		case <-ctx.Done():
		}
		_ = killGroup(cmd)
		exit := exitFrom(cmd, <-done, start)
		exit.TimedOut = true
		return exit, nil

	case <-ctx.Done():
		r.logger.Debug("context done, killing process", zap.String("command", c.Path))
		_ = killGroup(cmd)
		exit := exitFrom(cmd, <-done, start)
		exit.Cancelled = true
		return exit, nil
	}
}

func exitFrom(cmd *exec.Cmd, waitErr error, start time.Time) Exit {
	exit := Exit{Duration: time.Since(start)}
	state := cmd.ProcessState
	if state == nil {
		exit.Code = -1
		return exit
	}
	exit.Code = state.ExitCode()
	exit.Signal = signalName(state)

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && exit.Code == 0 {
		// I/O copy failures surface here even when the process itself succeeded
		exit.Code = -1
	}
	return exit
}
