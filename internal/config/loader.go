package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/1mcp-ai/1mcp/internal/secret"
	"github.com/1mcp-ai/1mcp/internal/store"
)

const (
	DefaultDataDirName = ".1mcp"
	ConfigFileName     = "mcp.json"
)

// Load reads, env-expands, and validates the configuration file at path. An
// empty path resolves to <DataDir>/mcp.json, creating a default file there
// if none exists yet — matching the teacher's LoadOrCreateConfig behavior.
func Load(path string) (*Config, error) {
	if path == "" {
		dataDir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dataDir, ConfigFileName)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.DataDir = dataDir
			if err := Save(cfg, path); err != nil {
				return nil, fmt.Errorf("config: create default config: %w", err)
			}
			return cfg, nil
		}
	}

	return LoadFromFile(path)
}

// LoadFromFile reads exactly the file at path, with no fallback creation.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}

	if err := expandDescriptorSecrets(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	for name, desc := range cfg.Servers {
		if err := ValidateSchema(name, desc); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// expandDescriptorSecrets applies ${VAR} environment expansion (internal/secret)
// to every string field of every descriptor that may legitimately carry a
// secret reference: env values, headers, and OAuth client secret.
func expandDescriptorSecrets(cfg *Config) error {
	for name, desc := range cfg.Servers {
		if err := secret.ExpandMap(desc.Env); err != nil {
			return fmt.Errorf("mcpServers.%s.env: %w", name, err)
		}
		if err := secret.ExpandMap(desc.Headers); err != nil {
			return fmt.Errorf("mcpServers.%s.headers: %w", name, err)
		}
		if desc.OAuth != nil && desc.OAuth.ClientSecret != "" {
			expanded, err := secret.Expand(desc.OAuth.ClientSecret)
			if err != nil {
				return fmt.Errorf("mcpServers.%s.oauth.client_secret: %w", name, err)
			}
			desc.OAuth.ClientSecret = expanded
		}
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(cfg *Config, path string) error {
	dir, err := store.New(filepath.Dir(path))
	if err != nil {
		return err
	}
	return dir.WriteJSON(filepath.Base(path), cfg)
}

func defaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	dir := filepath.Join(homeDir, DefaultDataDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create data directory %s: %w", dir, err)
	}
	return dir, nil
}
