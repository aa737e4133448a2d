package types

import "path/filepath"

// FuzzTarget is a single fuzz entry point enumerated from the fuzz manifest.
type FuzzTarget struct {
	Name        string `json:"name" msgpack:"name"`
	ProjectRoot string `json:"project_root" msgpack:"project_root"` // the fuzz directory holding the manifest
	SourcePath  string `json:"source_path" msgpack:"source_path"`
}

// Source returns the absolute path of the target's entry point.
func (t FuzzTarget) Source() string {
	if filepath.IsAbs(t.SourcePath) {
		return t.SourcePath
	}
	return filepath.Join(t.ProjectRoot, t.SourcePath)
}

func (t FuzzTarget) String() string {
	return t.Name
}

// CorpusEntry is one input file inside a corpus directory.
type CorpusEntry struct {
	Path string
	Size int64
}

func (e CorpusEntry) Name() string {
	return filepath.Base(e.Path)
}
