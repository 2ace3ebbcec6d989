// Package secureenv builds the environment variable list a stdio outbound
// server's child process receives. Nothing is inherited by default: a
// descriptor opts in to parent-environment inheritance and may narrow it
// with glob patterns (FilterSpec, filter.go), and PATH is always widened
// with whatever common tool install locations this host actually has, so
// npx/uvx/docker-launched servers can still find their own runtime even
// when the parent process's PATH is minimal (e.g. launchd on macOS).
package secureenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
)

// safeSystemVars is the baseline allow-list consulted when a descriptor
// inherits the parent environment: locale, shell, and user-identity
// variables that are safe to hand to any child process, never secrets.
func safeSystemVars() []string {
	vars := []string{
		"PATH", "HOME", "TMPDIR", "TEMP", "TMP",
		"SHELL", "TERM", "LANG", "USER", "USERNAME",
	}

	if runtime.GOOS == osWindows {
		vars = append(vars,
			"USERPROFILE", "APPDATA", "LOCALAPPDATA", "PROGRAMFILES",
			"SYSTEMROOT", "COMSPEC",
		)
	} else {
		vars = append(vars, "XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR")
	}

	vars = append(vars,
		"LC_ALL", "LC_CTYPE", "LC_NUMERIC", "LC_TIME", "LC_COLLATE",
		"LC_MONETARY", "LC_MESSAGES", "LC_PAPER", "LC_NAME", "LC_ADDRESS",
		"LC_TELEPHONE", "LC_MEASUREMENT", "LC_IDENTIFICATION",
	)
	return vars
}

// PathDiscovery holds the tool-install directories found on this host,
// used to widen PATH beyond whatever the parent process already has.
type PathDiscovery struct {
	HomePath        string
	BrewPaths       []string
	NodePaths       []string
	PythonPaths     []string
	RustPaths       []string
	GoPaths         []string
	SystemPaths     []string
	DiscoveredPaths []string
	AvailableTools  map[string]string
}

// Manager filters and widens the environment handed to outbound stdio
// servers. One Manager is shared by every descriptor in a process.
type Manager struct {
	allowedVars   []string
	pathDiscovery *PathDiscovery
}

// NewManager builds a Manager and runs path discovery once up front —
// discovery touches the filesystem, so it is not worth repeating per
// descriptor.
func NewManager() *Manager {
	m := &Manager{allowedVars: safeSystemVars()}
	m.pathDiscovery = m.discoverPaths()
	return m
}

// discoverPaths automatically discovers common tool installation paths
func (m *Manager) discoverPaths() *PathDiscovery {
	discovery := &PathDiscovery{
		AvailableTools: make(map[string]string),
	}

	homeDir, _ := os.UserHomeDir()
	discovery.HomePath = homeDir

	switch runtime.GOOS {
	case osDarwin:
		discovery = m.discoverMacOSPaths(discovery)
	case osWindows:
		discovery = m.discoverWindowsPaths(discovery)
	default:
		discovery = m.discoverUnixPaths(discovery)
	}

	discovery.DiscoveredPaths = m.buildDiscoveredPaths(discovery)
	discovery.AvailableTools = m.discoverAvailableTools(discovery.DiscoveredPaths)

	return discovery
}

// discoverMacOSPaths discovers paths specific to macOS
func (m *Manager) discoverMacOSPaths(discovery *PathDiscovery) *PathDiscovery {
	homeDir := discovery.HomePath

	discovery.SystemPaths = []string{
		"/usr/bin", "/bin", "/usr/sbin", "/sbin", "/usr/local/bin", "/usr/local/sbin",
	}

	potentialBrewPaths := []string{
		"/opt/homebrew/bin", // Apple Silicon
		"/opt/homebrew/sbin",
		"/usr/local/bin", // Intel (also in system paths)
		"/usr/local/sbin",
	}
	for _, path := range potentialBrewPaths {
		if m.pathExists(path) {
			discovery.BrewPaths = append(discovery.BrewPaths, path)
		}
	}

	if homeDir != "" {
		potentialNodePaths := []string{
			filepath.Join(homeDir, ".nvm/versions/node/*/bin"),
			filepath.Join(homeDir, ".volta/bin"),
			filepath.Join(homeDir, ".fnm/versions/*/installation/bin"),
		}
		for _, pathPattern := range potentialNodePaths {
			if strings.Contains(pathPattern, "*") {
				discovery.NodePaths = append(discovery.NodePaths, m.expandGlobPath(pathPattern)...)
			} else if m.pathExists(pathPattern) {
				discovery.NodePaths = append(discovery.NodePaths, pathPattern)
			}
		}

		potentialPythonPaths := []string{
			filepath.Join(homeDir, ".pyenv/versions/*/bin"),
			filepath.Join(homeDir, ".local/bin"), // pip user installs
			filepath.Join(homeDir, "Library/Python/*/bin"),
		}
		for _, pathPattern := range potentialPythonPaths {
			if strings.Contains(pathPattern, "*") {
				discovery.PythonPaths = append(discovery.PythonPaths, m.expandGlobPath(pathPattern)...)
			} else if m.pathExists(pathPattern) {
				discovery.PythonPaths = append(discovery.PythonPaths, pathPattern)
			}
		}

		if rustPath := filepath.Join(homeDir, ".cargo/bin"); m.pathExists(rustPath) {
			discovery.RustPaths = append(discovery.RustPaths, rustPath)
		}
	}

	goPaths := []string{"/usr/local/go/bin"}
	if homeDir != "" {
		goPaths = append(goPaths, filepath.Join(homeDir, "go/bin"))
	}
	for _, path := range goPaths {
		if m.pathExists(path) {
			discovery.GoPaths = append(discovery.GoPaths, path)
		}
	}

	return discovery
}

// discoverWindowsPaths discovers paths specific to Windows
func (m *Manager) discoverWindowsPaths(discovery *PathDiscovery) *PathDiscovery {
	discovery.SystemPaths = []string{
		`C:\Windows\System32`,
		`C:\Windows`,
		`C:\Windows\System32\Wbem`,
		`C:\Windows\System32\WindowsPowerShell\v1.0\`,
	}

	if registryPaths := discoverWindowsPathsFromRegistry(); len(registryPaths) > 0 {
		discovery.SystemPaths = append(registryPaths, discovery.SystemPaths...)
	}

	programFilesPaths := []string{
		`C:\Program Files\Git\bin`,
		`C:\Program Files\nodejs`,
		`C:\Program Files (x86)\nodejs`,
	}
	for _, path := range programFilesPaths {
		if m.pathExists(path) {
			discovery.NodePaths = append(discovery.NodePaths, path)
		}
	}

	return discovery
}

// discoverUnixPaths discovers paths for generic Unix systems
func (m *Manager) discoverUnixPaths(discovery *PathDiscovery) *PathDiscovery {
	discovery.SystemPaths = []string{
		"/usr/bin", "/bin", "/usr/sbin", "/sbin", "/usr/local/bin", "/usr/local/sbin",
	}
	return discovery
}

// buildDiscoveredPaths orders discovered paths so user-installed toolchains
// take precedence over bare system directories.
func (m *Manager) buildDiscoveredPaths(discovery *PathDiscovery) []string {
	var paths []string
	paths = append(paths, discovery.BrewPaths...)
	paths = append(paths, discovery.NodePaths...)
	paths = append(paths, discovery.PythonPaths...)
	paths = append(paths, discovery.RustPaths...)
	paths = append(paths, discovery.GoPaths...)
	paths = append(paths, discovery.SystemPaths...)
	return m.removeDuplicatePaths(paths)
}

// discoverAvailableTools checks which tools are actually available in the discovered paths
func (m *Manager) discoverAvailableTools(paths []string) map[string]string {
	tools := make(map[string]string)
	commonTools := []string{
		"node", "npm", "npx", "yarn", "pnpm",
		"python", "python3", "pip", "pip3", "uvx",
		"go", "cargo", "rustc",
		"git", "curl", "wget",
	}
	for _, tool := range commonTools {
		if toolPath := m.findToolInPaths(tool, paths); toolPath != "" {
			tools[tool] = toolPath
		}
	}
	return tools
}

// findToolInPaths searches for a tool executable in the given paths
func (m *Manager) findToolInPaths(tool string, paths []string) string {
	for _, path := range paths {
		var toolPath string
		if runtime.GOOS == osWindows {
			toolPath = filepath.Join(path, tool+".exe")
		} else {
			toolPath = filepath.Join(path, tool)
		}
		if m.fileExists(toolPath) && m.isExecutable(toolPath) {
			return toolPath
		}
	}
	return ""
}

// ensureComprehensivePath ensures PATH includes all discovered tool paths
func (m *Manager) ensureComprehensivePath(envVars []string) []string {
	var existingPath string
	pathIndex := -1

	for i, envVar := range envVars {
		if strings.HasPrefix(envVar, "PATH=") {
			existingPath = strings.TrimPrefix(envVar, "PATH=")
			pathIndex = i
			break
		}
	}

	pathVar := "PATH=" + m.buildEnhancedPath(existingPath)
	if pathIndex >= 0 {
		envVars[pathIndex] = pathVar
	} else {
		envVars = append(envVars, pathVar)
	}
	return envVars
}

// buildEnhancedPath combines the discovered tool paths with whatever PATH
// was already present, discovered paths first, de-duplicated, and checked
// for existence.
func (m *Manager) buildEnhancedPath(existingPath string) string {
	var pathComponents []string
	pathComponents = append(pathComponents, m.pathDiscovery.DiscoveredPaths...)

	if existingPath != "" {
		for _, component := range strings.Split(existingPath, string(os.PathListSeparator)) {
			component = strings.TrimSpace(component)
			if component != "" && !m.containsPath(pathComponents, component) {
				pathComponents = append(pathComponents, component)
			}
		}
	}

	validPaths := make([]string, 0, len(pathComponents))
	seen := make(map[string]bool)
	for _, path := range pathComponents {
		if path != "" && !seen[path] && m.pathExists(path) {
			validPaths = append(validPaths, path)
			seen[path] = true
		}
	}

	return strings.Join(validPaths, string(os.PathListSeparator))
}

// getFilteredSystemEnv returns the parent process's environment, narrowed
// to the safe-system-variable allow-list.
func (m *Manager) getFilteredSystemEnv() []string {
	var filtered []string
	for _, envVar := range os.Environ() {
		if m.isEnvVarAllowed(envVar) {
			filtered = append(filtered, envVar)
		}
	}
	return filtered
}

// isEnvVarAllowed checks a "KEY=VALUE" entry against the allow-list.
func (m *Manager) isEnvVarAllowed(envVar string) bool {
	key, _, ok := strings.Cut(envVar, "=")
	if !ok {
		return false
	}
	return m.isKeyAllowed(key)
}

// isKeyAllowed checks a bare key against the allow-list, supporting a
// trailing "*" wildcard (used for the LC_* locale family).
func (m *Manager) isKeyAllowed(key string) bool {
	for _, allowedVar := range m.allowedVars {
		if key == allowedVar {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowedVar, "*"); ok && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// GetSystemEnvVar gets a specific system environment variable if allowed
func (m *Manager) GetSystemEnvVar(key string) (string, bool) {
	if !m.isKeyAllowed(key) {
		return "", false
	}
	value := os.Getenv(key)
	return value, value != ""
}

// GetPathDiscovery returns the path discovery information for debugging
func (m *Manager) GetPathDiscovery() *PathDiscovery {
	return m.pathDiscovery
}

func (m *Manager) pathExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (m *Manager) fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (m *Manager) isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if runtime.GOOS == osWindows {
		return strings.HasSuffix(strings.ToLower(path), ".exe")
	}
	return info.Mode()&0111 != 0
}

func (m *Manager) expandGlobPath(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	var validPaths []string
	for _, match := range matches {
		if m.pathExists(match) {
			validPaths = append(validPaths, match)
		}
	}
	return validPaths
}

func (m *Manager) removeDuplicatePaths(paths []string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, path := range paths {
		if path != "" && !seen[path] {
			unique = append(unique, path)
			seen[path] = true
		}
	}
	return unique
}

func (m *Manager) containsPath(paths []string, target string) bool {
	for _, path := range paths {
		if path == target {
			return true
		}
	}
	return false
}
