package secureenv

import (
	"path/filepath"
	"strings"
)

// FilterSpec is the subset of an OutboundServerDescriptor the environment
// filter needs: whether to inherit the parent process's safe environment,
// glob patterns further restricting that inheritance, and descriptor-level
// custom variables (already ${VAR}-expanded by internal/secret by the time
// they reach here).
type FilterSpec struct {
	InheritParentEnv bool
	EnvFilter        []string
	CustomVars       map[string]string
}

// BuildFilteredEnvironment builds the environment slice for a stdio child
// process from a descriptor's env_filter/inherit_parent_env/env fields,
// using the Manager's safe-system-variable allow-list and PATH discovery
// (manager.go) as its inheritance source.
//
// When InheritParentEnv is false, no system variables are inherited at
// all — the child sees only CustomVars plus a discovered PATH, matching
// the descriptor's "env_filter: pattern[]" semantics of narrowing rather
// than widening access.
func (m *Manager) BuildFilteredEnvironment(spec FilterSpec) []string {
	var envVars []string

	if spec.InheritParentEnv {
		base := m.getFilteredSystemEnv()
		if len(spec.EnvFilter) > 0 {
			base = filterByPatterns(base, spec.EnvFilter)
		}
		envVars = append(envVars, base...)
	}

	for k, v := range spec.CustomVars {
		envVars = append(envVars, k+"="+v)
	}

	return m.ensureComprehensivePath(envVars)
}

// filterByPatterns keeps only "KEY=VALUE" entries whose key matches at
// least one glob pattern (path.Match semantics: "*" and "?" wildcards).
func filterByPatterns(envVars, patterns []string) []string {
	var kept []string
	for _, envVar := range envVars {
		key := envVar
		if idx := strings.IndexByte(envVar, '='); idx >= 0 {
			key = envVar[:idx]
		}
		for _, pattern := range patterns {
			if ok, _ := filepath.Match(pattern, key); ok {
				kept = append(kept, envVar)
				break
			}
		}
	}
	return kept
}

// LookupAllowed exposes GetSystemEnvVar's allow-list check for a single key,
// used by the stdio transport when it needs one variable (e.g. inheriting
// the parent's SHELL) without building the full environment.
func (m *Manager) LookupAllowed(key string) (string, bool) {
	return m.GetSystemEnvVar(key)
}
