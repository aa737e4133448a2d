package fuzz

import (
	"context"
	"fuzzrig/internal/types"
	"time"
)

// ArtifactSink persists crashing inputs captured from the engine.
type ArtifactSink interface {
	Persist(ctx context.Context, in types.CrashInput) (types.CrashArtifact, error)
}

// CrashPolicy decides whether a corpus sweep goes on after a crashing input.
type CrashPolicy int

const (
	StopOnFirstCrash CrashPolicy = iota
	ContinueOnCrash
)

func (p CrashPolicy) String() string {
	if p == ContinueOnCrash {
		return "continue"
	}
	return "stop"
}

// State is the lifecycle of one supervised execution.
type State int

const (
	NotStarted State = iota
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	}
	return "not_started"
}

// Run describes the binary under supervision and how to execute it.
type Run struct {
	Target     types.FuzzTarget
	Binary     string
	Env        []string // KEY=VALUE added to the current environment
	Sanitizers []types.Sanitizer

	// Timeout bounds the wall-clock time of each execution, 0 means unbounded.
	Timeout time.Duration
	Engine  LibFuzzer
}

// Sweep replays every file of the given corpus directories one by one.
type Sweep struct {
	Dirs    []string
	Policy  CrashPolicy
	Persist bool // persist crashing inputs as artifacts

	// EnvFor returns extra environment for the i-th input.
	EnvFor func(i int, entry types.CorpusEntry) []string
	// Quiet discards the engine output of each replay.
	Quiet bool
}

type EntryOutcome struct {
	Entry   types.CorpusEntry
	Outcome types.RunOutcome
}

type SweepReport struct {
	Results []EntryOutcome
	// Stopped is set when the sweep ended before visiting every input.
	Stopped bool
}

func (r SweepReport) Crashes() []EntryOutcome {
	var out []EntryOutcome
	for _, res := range r.Results {
		if res.Outcome.IsCrash() {
			out = append(out, res)
		}
	}
	return out
}

// Last is the outcome of the last visited input, Clean for an empty sweep.
func (r SweepReport) Last() types.RunOutcome {
	if len(r.Results) == 0 {
		return types.Clean()
	}
	return r.Results[len(r.Results)-1].Outcome
}
