package project

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

const ManifestName = "Cargo.toml"

type cargoManifest struct {
	Package struct {
		Name     string         `toml:"name"`
		Edition  string         `toml:"edition"`
		Metadata map[string]any `toml:"metadata"`
	} `toml:"package"`
	Bin []cargoBin `toml:"bin"`
}

type cargoBin struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// loadManifest parses a fuzz crate manifest, i.e. one carrying
// `[package.metadata] cargo-fuzz = true`.
func loadManifest(path string) (*cargoManifest, error) {
	var m cargoManifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("package") {
		return nil, fmt.Errorf("%s: missing [package]", path)
	}
	if !isFuzzManifest(&m) {
		return nil, fmt.Errorf("%s: not a fuzz manifest, [package.metadata] cargo-fuzz = true is missing", path)
	}
	return &m, nil
}

func isFuzzManifest(m *cargoManifest) bool {
	enabled, ok := m.Package.Metadata["cargo-fuzz"].(bool)
	return ok && enabled
}

// targets returns the [[bin]] entries sorted by name, with their default paths filled in.
func (m *cargoManifest) targets() []cargoBin {
	bins := make([]cargoBin, 0, len(m.Bin))
	for _, bin := range m.Bin {
		if strings.TrimSpace(bin.Name) == "" {
			continue
		}
		if bin.Path == "" {
			bin.Path = "fuzz_targets/" + bin.Name + ".rs"
		}
		bins = append(bins, bin)
	}
	slices.SortFunc(bins, func(a, b cargoBin) int { return strings.Compare(a.Name, b.Name) })
	return bins
}
