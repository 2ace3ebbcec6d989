//go:build windows

package secureenv

import (
	"os"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// expandWindowsEnvVars expands %VAR% references; os.ExpandEnv only
// understands $VAR/${VAR}.
func expandWindowsEnvVars(s string) string {
	expanded, err := registry.ExpandString(s)
	if err != nil {
		return s
	}
	return expanded
}

// readWindowsRegistryPath reads PATH from the registry directly, since a
// process launched as a service or via an installer does not inherit the
// interactive user's PATH.
func readWindowsRegistryPath() (string, error) {
	var paths []string

	userKey, err := registry.OpenKey(registry.CURRENT_USER,
		`Environment`, registry.QUERY_VALUE)
	if err == nil {
		defer userKey.Close()
		if userPath, _, err := userKey.GetStringValue("Path"); err == nil && userPath != "" {
			paths = append(paths, expandWindowsEnvVars(userPath))
		}
	}

	sysKey, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SYSTEM\CurrentControlSet\Control\Session Manager\Environment`,
		registry.QUERY_VALUE)
	if err == nil {
		defer sysKey.Close()
		if systemPath, _, err := sysKey.GetStringValue("Path"); err == nil && systemPath != "" {
			paths = append(paths, expandWindowsEnvVars(systemPath))
		}
	}

	fullPath := strings.Join(paths, string(os.PathListSeparator))
	if fullPath == "" {
		return "", registry.ErrNotExist
	}
	return fullPath, nil
}

// discoverWindowsPathsFromRegistry reads PATH from registry and returns as slice
// This replaces the hardcoded discovery list when registry is available
func discoverWindowsPathsFromRegistry() []string {
	registryPath, err := readWindowsRegistryPath()
	if err != nil {
		// Registry read failed, return empty slice (caller will use hardcoded fallback)
		return nil
	}

	// Split the combined PATH into individual directories
	parts := strings.Split(registryPath, string(os.PathListSeparator))

	// Filter to only existing directories
	var existingPaths []string
	for _, path := range parts {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}

		// Check if directory exists
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			existingPaths = append(existingPaths, path)
		}
	}

	return existingPaths
}
