package project

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultsName = "fuzzrig.yaml"

// Defaults are per-project settings read from fuzzrig.yaml next to the
// manifest. Command line flags take precedence over every field.
type Defaults struct {
	Sanitizer    string        `yaml:"sanitizer"`
	Profile      string        `yaml:"profile"`
	Features     string        `yaml:"features"`
	Jobs         int           `yaml:"jobs"`
	Runs         int           `yaml:"runs"`
	MaxTotalTime time.Duration `yaml:"max_total_time"`
	Timeout      time.Duration `yaml:"timeout"`
	EngineArgs   []string      `yaml:"engine_args"`
	TminRuns     int           `yaml:"tmin_runs"`
}

func loadDefaults(path string) (Defaults, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults{}, nil
	}
	if err != nil {
		return Defaults{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var d Defaults
	if err := yaml.Unmarshal(content, &d); err != nil {
		return Defaults{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return d, nil
}
