package types

// CrashMessage is published to downstream consumers when a new crash artifact is persisted.
type CrashMessage struct {
	Project    string       `json:"project"`
	Target     string       `json:"target"`
	Kind       ArtifactKind `json:"kind"`
	ID         string       `json:"id"`
	Path       string       `json:"path"`
	Sanitizers []string     `json:"sanitizers,omitempty"`
	Outcome    string       `json:"outcome"`
}

func NewCrashMessage(project string, artifact CrashArtifact) CrashMessage {
	names := make([]string, 0, len(artifact.Sanitizers))
	for _, s := range artifact.Sanitizers {
		names = append(names, string(s))
	}
	return CrashMessage{
		Project:    project,
		Target:     artifact.Target,
		Kind:       artifact.Kind,
		ID:         artifact.ID,
		Path:       artifact.Path,
		Sanitizers: names,
		Outcome:    artifact.Outcome.String(),
	}
}
