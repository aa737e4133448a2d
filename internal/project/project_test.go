package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fuzzManifest = `[package]
name = "parser-fuzz"
version = "0.0.0"
publish = false
edition = "2021"

[package.metadata]
cargo-fuzz = true

[dependencies]
libfuzzer-sys = "0.4"

[[bin]]
name = "parse_header"
path = "fuzz_targets/parse_header.rs"
test = false
doc = false

[[bin]]
name = "decode"
test = false
`

func writeProject(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(fuzzManifest), 0644))
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root)

	p, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, "parser-fuzz", p.Name())

	targets := p.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, "decode", targets[0].Name)
	assert.Equal(t, filepath.Join(root, "fuzz_targets", "decode.rs"), targets[0].Source())
	assert.Equal(t, "parse_header", targets[1].Name)

	_, err = p.Target("missing")
	assert.ErrorContains(t, err, "known targets: decode, parse_header")

	assert.Equal(t, filepath.Join(root, "corpus", "decode"), p.CorpusDir("decode"))
	assert.Equal(t, filepath.Join(root, "artifacts", "decode"), p.ArtifactsDir("decode"))
	assert.Equal(t, filepath.Join(root, "coverage", "decode", "raw"), p.RawProfileDir("decode"))
	assert.Equal(t, filepath.Join(root, "coverage", "decode", "coverage.profdata"), p.ProfdataPath("decode"))
}

func TestOpenRejectsPlainCrate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestName), []byte("[package]\nname = \"app\"\n"), 0644))
	_, err := Open(root)
	assert.ErrorContains(t, err, "not a fuzz manifest")
}

func TestDiscoverFromNestedDirectory(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, ManifestName), []byte("[package]\nname = \"app\"\n"), 0644))
	writeProject(t, filepath.Join(repo, "fuzz"))
	nested := filepath.Join(repo, "src", "bin")
	require.NoError(t, os.MkdirAll(nested, 0755))

	p, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, "fuzz"), p.Root())
}

func TestDefaults(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root)
	yaml := "sanitizer: memory\njobs: 4\nmax_total_time: 10m\nengine_args:\n  - -max_len=4096\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultsName), []byte(yaml), 0644))

	p, err := Open(root)
	require.NoError(t, err)
	d := p.Defaults()
	assert.Equal(t, "memory", d.Sanitizer)
	assert.Equal(t, 4, d.Jobs)
	assert.Equal(t, 10*time.Minute, d.MaxTotalTime)
	assert.Equal(t, []string{"-max_len=4096"}, d.EngineArgs)
}
