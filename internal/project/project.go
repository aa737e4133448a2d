package project

import (
	"errors"
	"fmt"
	"fuzzrig/internal/types"
	"os"
	"path/filepath"
	"strings"
)

// Project is a fuzz project rooted at the directory holding the fuzz manifest.
// It is passed explicitly to every component instead of relying on the
// working directory.
type Project struct {
	root     string
	name     string
	targets  []types.FuzzTarget
	defaults Defaults
}

// Open loads the fuzz project whose manifest lives in fuzzDir.
func Open(fuzzDir string) (*Project, error) {
	root, err := filepath.Abs(fuzzDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fuzz directory: %w", err)
	}
	manifest, err := loadManifest(filepath.Join(root, ManifestName))
	if err != nil {
		return nil, err
	}
	defaults, err := loadDefaults(filepath.Join(root, DefaultsName))
	if err != nil {
		return nil, err
	}

	p := &Project{root: root, name: manifest.Package.Name, defaults: defaults}
	for _, bin := range manifest.targets() {
		p.targets = append(p.targets, types.FuzzTarget{
			Name:        bin.Name,
			ProjectRoot: root,
			SourcePath:  filepath.FromSlash(bin.Path),
		})
	}
	return p, nil
}

// Discover walks up from startDir looking for a fuzz manifest, either in the
// directory itself or in its fuzz/ subdirectory.
func Discover(startDir string) (*Project, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		for _, candidate := range []string{dir, filepath.Join(dir, "fuzz")} {
			manifestPath := filepath.Join(candidate, ManifestName)
			if _, err := os.Stat(manifestPath); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("failed to stat %q: %w", manifestPath, err)
				}
				continue
			}
			if m, err := loadManifest(manifestPath); err == nil && isFuzzManifest(m) {
				return Open(candidate)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, fmt.Errorf("could not find a fuzz project (a Cargo.toml with cargo-fuzz metadata) from %s", startDir)
}

func (p *Project) Root() string         { return p.root }
func (p *Project) Name() string         { return p.name }
func (p *Project) ManifestPath() string { return filepath.Join(p.root, ManifestName) }
func (p *Project) Defaults() Defaults   { return p.defaults }

func (p *Project) Targets() []types.FuzzTarget {
	out := make([]types.FuzzTarget, len(p.targets))
	copy(out, p.targets)
	return out
}

func (p *Project) Target(name string) (types.FuzzTarget, error) {
	names := make([]string, 0, len(p.targets))
	for _, t := range p.targets {
		if t.Name == name {
			return t, nil
		}
		names = append(names, t.Name)
	}
	return types.FuzzTarget{}, fmt.Errorf("unknown fuzz target %q, known targets: %s", name, strings.Join(names, ", "))
}

// CorpusDir is <root>/corpus/<target>.
func (p *Project) CorpusDir(target string) string {
	return filepath.Join(p.root, "corpus", target)
}

// ArtifactsDir is <root>/artifacts/<target>.
func (p *Project) ArtifactsDir(target string) string {
	return filepath.Join(p.root, "artifacts", target)
}

// MetaDir holds sidecar metadata for persisted artifacts, outside the
// artifact directory itself so that it only ever contains inputs.
func (p *Project) MetaDir(target string) string {
	return filepath.Join(p.root, "artifacts", ".meta", target)
}

func (p *Project) CoverageDir(target string) string {
	return filepath.Join(p.root, "coverage", target)
}

// RawProfileDir holds raw profiles that have not been merged yet.
func (p *Project) RawProfileDir(target string) string {
	return filepath.Join(p.CoverageDir(target), "raw")
}

// MergedProfileDir holds raw profiles already folded into ProfdataPath.
func (p *Project) MergedProfileDir(target string) string {
	return filepath.Join(p.CoverageDir(target), "merged")
}

func (p *Project) ProfdataPath(target string) string {
	return filepath.Join(p.CoverageDir(target), "coverage.profdata")
}

// DefaultTargetDir is cargo's target directory for the fuzz crate.
func (p *Project) DefaultTargetDir() string {
	return filepath.Join(p.root, "target")
}

// CoverageTargetDir keeps coverage builds apart from fuzzing builds.
func (p *Project) CoverageTargetDir(triple string) string {
	return filepath.Join(p.root, "target", triple, "coverage")
}

// EnsureDirs creates the corpus and artifact directories of a target.
func (p *Project) EnsureDirs(target string) error {
	for _, dir := range []string{p.CorpusDir(target), p.ArtifactsDir(target)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
