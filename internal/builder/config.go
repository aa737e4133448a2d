package builder

import (
	"crypto/sha256"
	"encoding/hex"
	"fuzzrig/internal/process"
	"fuzzrig/internal/types"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

type BuildMode int

const (
	ModeBuild BuildMode = iota
	ModeCheck
)

func (m BuildMode) Subcommand() string {
	if m == ModeCheck {
		return "check"
	}
	return "build"
}

// BuildConfig is the fully resolved flag set and environment of one toolchain
// invocation. It is created by Compose and never modified afterwards; every
// accessor returns a copy.
type BuildConfig struct {
	target     types.FuzzTarget // empty Name means every target of the project
	manifest   string
	triple     string
	profile    types.Profile
	sanitizers []types.Sanitizer
	coverage   bool
	buildStd   bool
	careful    bool
	targetDir  string // resolved, never empty
	toolsPath  string
	cargoArgs  []string
	rustFlags  []string
	buildEnv   []string
	runtimeEnv []string
}

// canonical form hashed by Key; field order is part of the encoding
type configKey struct {
	Target     string   `msgpack:"target"`
	Manifest   string   `msgpack:"manifest"`
	Triple     string   `msgpack:"triple"`
	Profile    string   `msgpack:"profile"`
	Sanitizers []string `msgpack:"sanitizers"`
	Coverage   bool     `msgpack:"coverage"`
	BuildStd   bool     `msgpack:"build_std"`
	Careful    bool     `msgpack:"careful"`
	TargetDir  string   `msgpack:"target_dir"`
	ToolsPath  string   `msgpack:"tools_path"`
	CargoArgs  []string `msgpack:"cargo_args"`
	RustFlags  []string `msgpack:"rust_flags"`
	BuildEnv   []string `msgpack:"build_env"`
	RuntimeEnv []string `msgpack:"runtime_env"`
}

// Key identifies the configuration: equal keys mean byte-identical flags and
// environment.
func (c *BuildConfig) Key() string {
	sanitizers := make([]string, 0, len(c.sanitizers))
	for _, s := range c.sanitizers {
		sanitizers = append(sanitizers, string(s))
	}
	payload, err := msgpack.Marshal(configKey{
		Target:     c.target.Name,
		Manifest:   c.manifest,
		Triple:     c.triple,
		Profile:    string(c.profile),
		Sanitizers: sanitizers,
		Coverage:   c.coverage,
		BuildStd:   c.buildStd,
		Careful:    c.careful,
		TargetDir:  c.targetDir,
		ToolsPath:  c.toolsPath,
		CargoArgs:  c.cargoArgs,
		RustFlags:  c.rustFlags,
		BuildEnv:   c.buildEnv,
		RuntimeEnv: c.runtimeEnv,
	})
	if err != nil {
		// only plain strings and bools are encoded
		panic("builder: failed to encode build config: " + err.Error())
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (c *BuildConfig) Target() types.FuzzTarget { return c.target }
func (c *BuildConfig) Triple() string           { return c.triple }
func (c *BuildConfig) Profile() types.Profile   { return c.profile }
func (c *BuildConfig) Coverage() bool           { return c.coverage }
func (c *BuildConfig) BuildStd() bool           { return c.buildStd }
func (c *BuildConfig) Careful() bool            { return c.careful }
func (c *BuildConfig) TargetDir() string        { return c.targetDir }
func (c *BuildConfig) ToolsPath() string        { return c.toolsPath }
func (c *BuildConfig) ManifestPath() string     { return c.manifest }

func (c *BuildConfig) Sanitizers() []types.Sanitizer { return slices.Clone(c.sanitizers) }

// Args returns the cargo arguments, subcommand included.
func (c *BuildConfig) Args(mode BuildMode) []string {
	return append([]string{mode.Subcommand()}, c.cargoArgs...)
}

func (c *BuildConfig) RustFlags() []string { return slices.Clone(c.rustFlags) }

// BuildEnv holds the KEY=VALUE pairs set on the toolchain process.
func (c *BuildConfig) BuildEnv() []string { return slices.Clone(c.buildEnv) }

// Environ applies the build environment to base. A custom tools path is put in
// front of PATH so every tool cargo and rustc spawn resolves there first.
func (c *BuildConfig) Environ(base []string) []string {
	env := process.MergeEnv(base, c.buildEnv...)
	if c.toolsPath == "" {
		return env
	}
	path := c.toolsPath
	for _, kv := range env {
		if old, ok := strings.CutPrefix(kv, "PATH="); ok && old != "" {
			path += string(os.PathListSeparator) + old
		}
	}
	return process.MergeEnv(env, "PATH="+path)
}

// RuntimeEnv holds the KEY=VALUE pairs set on the fuzz target process.
func (c *BuildConfig) RuntimeEnv() []string { return slices.Clone(c.runtimeEnv) }

// BinaryPath is where cargo places the target binary for this configuration.
func (c *BuildConfig) BinaryPath() string {
	return binaryPath(c.targetDir, c.triple, c.profile, c.target.Name)
}

func binaryPath(targetDir, triple string, profile types.Profile, name string) string {
	dir := "release"
	if profile == types.ProfileDev {
		dir = "debug"
	}
	if strings.Contains(triple, "-windows") {
		name += ".exe"
	}
	return filepath.Join(targetDir, triple, dir, name)
}

func (c *BuildConfig) String() string {
	name := c.target.Name
	if name == "" {
		name = "<all targets>"
	}
	return name + " [" + c.triple + " " + string(c.profile) + "] RUSTFLAGS=" + strings.Join(c.rustFlags, " ")
}
