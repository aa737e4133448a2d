package toolchain

import (
	"fmt"
	"strconv"
	"strings"
)

// RustVersion is the major/minor version of rustc; patch levels do not change
// which flags are accepted.
type RustVersion struct {
	Major int
	Minor int
}

// ParseRustVersion parses the first line of `rustc --version` / `rustc -vV`,
// e.g. "rustc 1.81.0-nightly (d7f6ebace 2024-06-16)".
func ParseRustVersion(s string) (RustVersion, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	rest, ok := strings.CutPrefix(line, "rustc ")
	if !ok {
		return RustVersion{}, fmt.Errorf("rust version string does not start with 'rustc': %q", line)
	}
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) < 2 {
		return RustVersion{}, fmt.Errorf("no minor version found in %q", line)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return RustVersion{}, fmt.Errorf("failed to parse major version in %q: %w", line, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return RustVersion{}, fmt.Errorf("failed to parse minor version in %q: %w", line, err)
	}
	return RustVersion{Major: major, Minor: minor}, nil
}

func (v RustVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v RustVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsNightly reports whether unstable (-Z) flags are usable.
func IsNightly(versionString string, rustcBootstrap bool) bool {
	return strings.Contains(versionString, "-nightly ") || rustcBootstrap
}
