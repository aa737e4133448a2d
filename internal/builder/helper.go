package builder

import (
	"fuzzrig/internal/process"
	"strings"
)

// get rid of all environment variables that are related to OpenTelemetry
func filterOtelEnv(env []string) []string {
	var filtered []string
	for _, e := range env {
		if strings.HasPrefix(e, "OTEL_") || strings.HasPrefix(e, "OTLP_") {
			continue // Skip OpenTelemetry related environment variables
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// ToolEnv is the environment of a toolchain process: the current environment
// without telemetry exporter settings, with cfg applied on top.
func ToolEnv(cfg *BuildConfig) []string {
	return cfg.Environ(filterOtelEnv(process.Environ()))
}
