// Package projecttest creates throwaway fuzz projects for tests.
package projecttest

import (
	"fmt"
	"fuzzrig/internal/project"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// New writes a fuzz manifest declaring targets into a temporary directory and opens it.
func New(t testing.TB, targets ...string) *project.Project {
	t.Helper()
	root := t.TempDir()

	var b strings.Builder
	b.WriteString("[package]\nname = \"demo-fuzz\"\nversion = \"0.0.0\"\nedition = \"2021\"\n\n")
	b.WriteString("[package.metadata]\ncargo-fuzz = true\n")
	for _, name := range targets {
		fmt.Fprintf(&b, "\n[[bin]]\nname = %q\npath = \"fuzz_targets/%s.rs\"\ntest = false\ndoc = false\n", name, name)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, project.ManifestName), []byte(b.String()), 0644))

	p, err := project.Open(root)
	require.NoError(t, err)
	for _, name := range targets {
		require.NoError(t, p.EnsureDirs(name))
	}
	return p
}

// WriteCorpus writes one file per entry of files into dir.
func WriteCorpus(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}
