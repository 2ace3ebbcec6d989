package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// BinaryTestEnv manages a test environment running the actual 1mcp binary,
// used by end-to-end tests that need a real process rather than an
// in-process *app.App.
type BinaryTestEnv struct {
	t          *testing.T
	binaryPath string
	configPath string
	dataDir    string
	port       int
	baseURL    string
	cmd        *exec.Cmd
	cleanup    func()
}

const (
	binaryEnvPreferred = "ONEMCP_BINARY_PATH"
	binaryEnvLegacy     = "ONEMCP_BINARY"
)

// resolveBinaryPath determines where the 1mcp binary lives.
// Preference order:
//  1. Explicit absolute path via ONEMCP_BINARY_PATH
//  2. Legacy ONEMCP_BINARY environment variable
//  3. A discovered 1mcp binary in the current or parent directories
func resolveBinaryPath() string {
	if path, ok := os.LookupEnv(binaryEnvPreferred); ok && path != "" {
		return ensureAbsolute(path)
	}
	if path, ok := os.LookupEnv(binaryEnvLegacy); ok && path != "" {
		return ensureAbsolute(path)
	}

	searchDirs := []string{"."}
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != "" && dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			searchDirs = append(searchDirs, dir)
		}
	}

	binaryName := "1mcp"
	if runtime.GOOS == "windows" {
		binaryName = "1mcp.exe"
	}

	for _, dir := range searchDirs {
		candidate := ensureAbsolute(filepath.Join(dir, binaryName))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0 {
			return candidate
		}
	}
	return ensureAbsolute(filepath.Join(".", binaryName))
}

func ensureAbsolute(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// NewBinaryTestEnv allocates a free port and a scratch data/config
// directory for one binary run.
func NewBinaryTestEnv(t *testing.T) *BinaryTestEnv {
	port := findAvailablePort(t)

	tempDir, err := os.MkdirTemp("", "1mcp-binary-test-*")
	require.NoError(t, err)

	dataDir := filepath.Join(tempDir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o700))

	configPath := filepath.Join(tempDir, "mcp.json")
	createTestConfig(t, configPath, port, dataDir)

	env := &BinaryTestEnv{
		t:          t,
		binaryPath: resolveBinaryPath(),
		configPath: configPath,
		dataDir:    dataDir,
		port:       port,
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
	}

	env.cleanup = func() {
		if env.cmd != nil && env.cmd.Process != nil {
			_ = env.cmd.Process.Signal(syscall.SIGTERM)
			done := make(chan error, 1)
			go func() { done <- env.cmd.Wait() }()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				_ = env.cmd.Process.Kill()
				<-done
			}
		}
		os.RemoveAll(filepath.Dir(env.configPath))
	}

	return env
}

// Start launches `1mcp serve --config <path> --listen <port>` and waits
// for /health/mcp to answer.
func (env *BinaryTestEnv) Start() {
	if _, err := os.Stat(env.binaryPath); os.IsNotExist(err) {
		env.t.Fatalf("1mcp binary not found at %s. Set %s to the built binary or run: go build -o 1mcp ./cmd/1mcp",
			env.binaryPath, binaryEnvPreferred)
	}

	env.cmd = exec.Command(env.binaryPath, "serve",
		"--config", env.configPath,
		"--data-dir", env.dataDir,
		"--listen", fmt.Sprintf("127.0.0.1:%d", env.port),
		"--log-level", "debug",
	)
	env.cmd.Env = os.Environ()

	require.NoError(env.t, env.cmd.Start(), "failed to start 1mcp binary")
	env.t.Logf("started 1mcp binary with PID %d on port %d", env.cmd.Process.Pid, env.port)

	env.WaitForReady()
}

// WaitForReady polls /health/mcp until it answers 200 or the timeout elapses.
func (env *BinaryTestEnv) WaitForReady() {
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			env.t.Fatal("timeout waiting for 1mcp binary to become ready")
		case <-ticker.C:
			if env.isServerReady() {
				return
			}
		}
	}
}

func (env *BinaryTestEnv) isServerReady() bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get(env.baseURL + "/health/mcp")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Cleanup stops the process and removes the scratch directory.
func (env *BinaryTestEnv) Cleanup() {
	if env.cleanup != nil {
		env.cleanup()
	}
}

// GetBaseURL returns the server's HTTP base URL.
func (env *BinaryTestEnv) GetBaseURL() string { return env.baseURL }

// GetConfigPath returns the generated mcp.json path.
func (env *BinaryTestEnv) GetConfigPath() string { return env.configPath }

// GetPort returns the allocated listen port.
func (env *BinaryTestEnv) GetPort() int { return env.port }

func findAvailablePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func createTestConfig(t *testing.T, configPath string, port int, dataDir string) {
	cfg := fmt.Sprintf(`{
  "listen": "127.0.0.1:%d",
  "data_dir": %q,
  "mcpServers": {
    "echo": {
      "name": "echo",
      "type": "stdio",
      "command": "cat"
    }
  }
}`, port, dataDir)

	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))
}

// HealthSummary is the decoded body of GET /health/mcp.
type HealthSummary struct {
	Summary json.RawMessage `json:"summary"`
	Servers json.RawMessage `json:"servers"`
}

// FetchHealthSummary calls /health/mcp and decodes the response.
func (env *BinaryTestEnv) FetchHealthSummary() (*HealthSummary, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(env.baseURL + "/health/mcp")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out HealthSummary
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode health summary: %w", err)
	}
	return &out, nil
}
