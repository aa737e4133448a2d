package types

import (
	"strings"
	"time"
)

// ArtifactKind is the file name prefix of a persisted input, following the
// names libFuzzer uses for its own artifacts.
type ArtifactKind string

const (
	ArtifactCrash     ArtifactKind = "crash"
	ArtifactLeak      ArtifactKind = "leak"
	ArtifactTimeout   ArtifactKind = "timeout"
	ArtifactOOM       ArtifactKind = "oom"
	ArtifactSlowUnit  ArtifactKind = "slow-unit"
	ArtifactMinimized ArtifactKind = "minimized"
)

var artifactKinds = []ArtifactKind{
	ArtifactSlowUnit, // before the others so "slow-unit-" wins over shorter prefixes
	ArtifactCrash,
	ArtifactLeak,
	ArtifactTimeout,
	ArtifactOOM,
	ArtifactMinimized,
}

// KindFromFileName derives the artifact kind from a libFuzzer artifact name,
// e.g. "leak-4f2c..." -> ArtifactLeak. Unknown names are treated as crashes.
func KindFromFileName(name string) ArtifactKind {
	for _, kind := range artifactKinds {
		if strings.HasPrefix(name, string(kind)+"-") {
			return kind
		}
	}
	return ArtifactCrash
}

// CrashArtifact is a persisted crashing input and the outcome that produced it.
type CrashArtifact struct {
	Target    string       `msgpack:"target"`
	Kind      ArtifactKind `msgpack:"kind"`
	ID        string       `msgpack:"id"` // hex sha1 of the content
	Path      string       `msgpack:"path"`
	Size      int64        `msgpack:"size"`
	Outcome   RunOutcome   `msgpack:"outcome"`
	CreatedAt time.Time    `msgpack:"created_at"`

	Sanitizers []Sanitizer `msgpack:"sanitizers,omitempty"`
}

// CrashInput is a crashing input captured from the engine, not yet persisted.
type CrashInput struct {
	Target     FuzzTarget
	Kind       ArtifactKind
	Data       []byte
	Outcome    RunOutcome
	Sanitizers []Sanitizer
}

func (a CrashArtifact) FileName() string {
	return ArtifactFileName(a.Kind, a.ID)
}

func ArtifactFileName(kind ArtifactKind, id string) string {
	return string(kind) + "-" + id
}

// CoverageProfile is the merged profile of a target plus the raw files it was built from.
type CoverageProfile struct {
	Target   string
	Path     string   // coverage.profdata
	RawDir   string   // raw profiles not yet merged
	RawFiles []string // raw files folded in by the last merge
}
