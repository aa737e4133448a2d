package process

import (
	"os"
	"strings"
)

// MergeEnv returns base with every KEY=VALUE of overrides applied, replacing
// existing keys instead of appending duplicates.
func MergeEnv(base []string, overrides ...string) []string {
	values := make(map[string]string, len(overrides))
	var order []string
	for _, kv := range overrides {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := values[k]; !ok {
			order = append(order, k)
		}
		values[k] = kv
	}

	out := make([]string, 0, len(base)+len(overrides))
	done := make(map[string]bool, len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		override, ok := values[k]
		if !ok {
			out = append(out, kv)
			continue
		}
		if !done[k] {
			out = append(out, override)
			done[k] = true
		}
	}
	for _, k := range order {
		if !done[k] {
			out = append(out, values[k])
		}
	}
	return out
}

// Environ is the current process environment with overrides applied.
func Environ(overrides ...string) []string {
	return MergeEnv(os.Environ(), overrides...)
}
