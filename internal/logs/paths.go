package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// logDirConvention describes where logs live on one OS and why, so
// GetLogDirInfo can explain the choice back to an operator.
type logDirConvention struct {
	resolve     func() (string, error)
	description string
	standard    string
}

var logDirConventions = map[string]logDirConvention{
	"windows": {
		resolve:     windowsLogDir,
		description: "Windows Local AppData logs directory",
		standard:    "Windows Application Data Guidelines",
	},
	"darwin": {
		resolve:     macOSLogDir,
		description: "macOS Library Logs directory",
		standard:    "macOS File System Programming Guide",
	},
	"linux": {
		resolve:     linuxLogDir,
		description: "Linux XDG state directory or system logs",
		standard:    "XDG Base Directory Specification",
	},
}

func currentLogDirConvention() logDirConvention {
	if c, ok := logDirConventions[runtime.GOOS]; ok {
		return c
	}
	return logDirConvention{
		resolve:     defaultLogDir,
		description: "Fallback logs directory",
		standard:    "Default behavior",
	}
}

// GetLogDir returns the standard log directory for the current OS.
func GetLogDir() (string, error) {
	return currentLogDirConvention().resolve()
}

// windowsLogDir uses %LOCALAPPDATA%\1mcp\logs, falling back to
// %USERPROFILE%\AppData\Local when LOCALAPPDATA is unset.
func windowsLogDir() (string, error) {
	localAppData := os.Getenv("LOCALAPPDATA")
	if localAppData == "" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return defaultLogDir()
		}
		localAppData = filepath.Join(userProfile, "AppData", "Local")
	}
	return filepath.Join(localAppData, "1mcp", "logs"), nil
}

// macOSLogDir uses ~/Library/Logs/1mcp.
func macOSLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return defaultLogDir()
	}
	return filepath.Join(homeDir, "Library", "Logs", "1mcp"), nil
}

// linuxLogDir follows the XDG Base Directory Specification:
// $XDG_STATE_HOME/1mcp/logs (or ~/.local/state/1mcp/logs), except for root,
// which gets /var/log/1mcp.
func linuxLogDir() (string, error) {
	if os.Getuid() == 0 {
		return "/var/log/1mcp", nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return defaultLogDir()
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "1mcp", "logs"), nil
}

func defaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "1mcp", "logs"), nil
	}
	return filepath.Join(homeDir, ".1mcp", "logs"), nil
}

// EnsureLogDir creates dir (and any missing parents) if it doesn't exist.
func EnsureLogDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// GetLogFilePath joins filename onto the standard log directory, creating
// the directory first.
func GetLogFilePath(filename string) (string, error) {
	return GetLogFilePathWithDir("", filename)
}

// GetLogFilePathWithDir joins filename onto logDir, expanding a leading
// "~/" and falling back to the standard log directory when logDir is
// empty. The directory is created if it doesn't exist.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	} else if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}
	return filepath.Join(logDir, filename), nil
}

// LogDirInfo describes the standard log directory for the running OS, for
// diagnostics commands to print.
type LogDirInfo struct {
	Path        string `json:"path"`
	OS          string `json:"os"`
	Description string `json:"description"`
	Standard    string `json:"standard"`
}

// GetLogDirInfo returns LogDirInfo for the current OS.
func GetLogDirInfo() (*LogDirInfo, error) {
	convention := currentLogDirConvention()
	path, err := convention.resolve()
	if err != nil {
		return nil, err
	}

	return &LogDirInfo{
		Path:        path,
		OS:          runtime.GOOS,
		Description: convention.description,
		Standard:    convention.standard,
	}, nil
}
