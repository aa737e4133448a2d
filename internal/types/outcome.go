package types

import "fmt"

type OutcomeKind int

const (
	OutcomeClean OutcomeKind = iota
	OutcomeCrashed
	OutcomeTimeout
	OutcomeCancelled
	OutcomeToolError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeClean:
		return "clean"
	case OutcomeCrashed:
		return "crashed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeToolError:
		return "tool_error"
	default:
		return "unknown"
	}
}

// RunOutcome is the result of exactly one supervised execution. Only the fields
// relevant to Kind are populated.
type RunOutcome struct {
	Kind OutcomeKind `msgpack:"kind"`

	// Crashed
	ExitCode     int          `msgpack:"exit_code"`
	Signal       string       `msgpack:"signal,omitempty"`
	ArtifactPath string       `msgpack:"artifact_path,omitempty"`
	ArtifactKind ArtifactKind `msgpack:"artifact_kind,omitempty"`

	// ToolError
	Message string `msgpack:"message,omitempty"`
}

func Clean() RunOutcome {
	return RunOutcome{Kind: OutcomeClean}
}

func Crashed(exitCode int, signal string, artifactPath string, kind ArtifactKind) RunOutcome {
	return RunOutcome{
		Kind:         OutcomeCrashed,
		ExitCode:     exitCode,
		Signal:       signal,
		ArtifactPath: artifactPath,
		ArtifactKind: kind,
	}
}

func TimedOut() RunOutcome {
	return RunOutcome{Kind: OutcomeTimeout}
}

func Cancelled() RunOutcome {
	return RunOutcome{Kind: OutcomeCancelled}
}

func ToolFailure(format string, args ...any) RunOutcome {
	return RunOutcome{Kind: OutcomeToolError, Message: fmt.Sprintf(format, args...)}
}

func (o RunOutcome) IsCrash() bool { return o.Kind == OutcomeCrashed }

// Err converts the outcome into the error taxonomy, nil for a clean run.
func (o RunOutcome) Err() error {
	switch o.Kind {
	case OutcomeCrashed:
		return &CrashFoundError{Outcome: o}
	case OutcomeTimeout:
		return ErrTimeout
	case OutcomeCancelled:
		return ErrCancelled
	case OutcomeToolError:
		return &ToolError{Op: "run", Err: fmt.Errorf("%s", o.Message)}
	}
	return nil
}

func (o RunOutcome) String() string {
	switch o.Kind {
	case OutcomeCrashed:
		cause := fmt.Sprintf("exit code %d", o.ExitCode)
		if o.Signal != "" {
			cause = "signal " + o.Signal
		}
		if o.ArtifactPath != "" {
			return fmt.Sprintf("crashed (%s): %s", cause, o.ArtifactPath)
		}
		return fmt.Sprintf("crashed (%s)", cause)
	case OutcomeToolError:
		return "tool error: " + o.Message
	}
	return o.Kind.String()
}
