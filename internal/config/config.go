package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the root of mcp.json: the set of outbound server descriptors
// plus the proxy's own listen/logging/preset settings.
type Config struct {
	Listen  string                        `json:"listen" mapstructure:"listen"`
	DataDir string                        `json:"data_dir" mapstructure:"data_dir"`
	Servers map[string]*OutboundServerDescriptor `json:"mcpServers" mapstructure:"mcpServers"`

	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	// LoadOptions governs the loading manager (C4): concurrency, retry,
	// and timeout knobs shared by every outbound server.
	Load LoadOptions `json:"load,omitempty" mapstructure:"load"`

	EnablePagination bool `json:"enable_pagination" mapstructure:"enable_pagination"`

	Tracing *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
}

// TracingConfig governs internal/tracing's OpenTelemetry exporter. Nil or
// zero-valued (Enabled: false) means no spans are ever emitted.
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name,omitempty" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version,omitempty" mapstructure:"service_version"`
	OTLPEndpoint   string  `json:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate,omitempty" mapstructure:"sample_rate"`
}

// LogConfig mirrors the teacher's internal/logs configuration surface.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log_dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max_size"`
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAge        int    `json:"max_age" mapstructure:"max_age"`
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}

// LoadOptions is the C4 option bag named in SPEC_FULL.md §9: every loading
// manager knob lives here as a named field, never behind a map[string]any
// escape hatch.
type LoadOptions struct {
	MaxConcurrentLoads        int      `json:"max_concurrent_loads,omitempty" mapstructure:"max_concurrent_loads"`
	ServerTimeoutMs           int      `json:"server_timeout_ms,omitempty" mapstructure:"server_timeout_ms"`
	MaxRetries                int      `json:"max_retries,omitempty" mapstructure:"max_retries"`
	RetryDelayMs              int      `json:"retry_delay_ms,omitempty" mapstructure:"retry_delay_ms"`
	RetryBackoffFactor        float64  `json:"retry_backoff_factor,omitempty" mapstructure:"retry_backoff_factor"`
	RetryJitterFraction       float64  `json:"retry_jitter_fraction,omitempty" mapstructure:"retry_jitter_fraction"`
	RetryDelayMaxMs           int      `json:"retry_delay_max_ms,omitempty" mapstructure:"retry_delay_max_ms"`
	BackgroundRetryIntervalMs int      `json:"background_retry_interval_ms,omitempty" mapstructure:"background_retry_interval_ms"`
	ShutdownGraceMs           int      `json:"shutdown_grace_ms,omitempty" mapstructure:"shutdown_grace_ms"`
	BatchDelayMs              int      `json:"batch_delay_ms,omitempty" mapstructure:"batch_delay_ms"`
}

// DefaultLoadOptions returns the SPEC_FULL.md §4.4 defaults.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		MaxConcurrentLoads:        5,
		ServerTimeoutMs:           30000,
		MaxRetries:                3,
		RetryDelayMs:              2000,
		RetryBackoffFactor:        2,
		RetryJitterFraction:       0.2,
		RetryDelayMaxMs:           30000,
		BackgroundRetryIntervalMs: 60000,
		ShutdownGraceMs:           5000,
		BatchDelayMs:              100,
	}
}

// withDefaults fills zero-valued fields with DefaultLoadOptions, so a
// partially specified "load" block in mcp.json only overrides what it sets.
func (o LoadOptions) withDefaults() LoadOptions {
	d := DefaultLoadOptions()
	if o.MaxConcurrentLoads <= 0 {
		o.MaxConcurrentLoads = d.MaxConcurrentLoads
	}
	if o.ServerTimeoutMs <= 0 {
		o.ServerTimeoutMs = d.ServerTimeoutMs
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryDelayMs <= 0 {
		o.RetryDelayMs = d.RetryDelayMs
	}
	if o.RetryBackoffFactor <= 0 {
		o.RetryBackoffFactor = d.RetryBackoffFactor
	}
	if o.RetryJitterFraction <= 0 {
		o.RetryJitterFraction = d.RetryJitterFraction
	}
	if o.RetryDelayMaxMs <= 0 {
		o.RetryDelayMaxMs = d.RetryDelayMaxMs
	}
	if o.BackgroundRetryIntervalMs <= 0 {
		o.BackgroundRetryIntervalMs = d.BackgroundRetryIntervalMs
	}
	if o.ShutdownGraceMs <= 0 {
		o.ShutdownGraceMs = d.ShutdownGraceMs
	}
	if o.BatchDelayMs <= 0 {
		o.BatchDelayMs = d.BatchDelayMs
	}
	return o
}

// ServerTimeout, BackgroundRetryInterval, ShutdownGrace and BatchDelay
// convert the millisecond fields to time.Duration for callers in
// internal/outbound and internal/loading.
func (o LoadOptions) ServerTimeout() time.Duration {
	return time.Duration(o.ServerTimeoutMs) * time.Millisecond
}

func (o LoadOptions) RetryDelay() time.Duration {
	return time.Duration(o.RetryDelayMs) * time.Millisecond
}

func (o LoadOptions) RetryDelayMax() time.Duration {
	return time.Duration(o.RetryDelayMaxMs) * time.Millisecond
}

func (o LoadOptions) BackgroundRetryInterval() time.Duration {
	return time.Duration(o.BackgroundRetryIntervalMs) * time.Millisecond
}

func (o LoadOptions) ShutdownGrace() time.Duration {
	return time.Duration(o.ShutdownGraceMs) * time.Millisecond
}

func (o LoadOptions) BatchDelay() time.Duration {
	return time.Duration(o.BatchDelayMs) * time.Millisecond
}

// DefaultConfig returns a minimal, valid configuration: no servers, default
// load options and logging.
func DefaultConfig() *Config {
	return &Config{
		Listen:  "127.0.0.1:8080",
		Servers: map[string]*OutboundServerDescriptor{},
		Load:    DefaultLoadOptions(),
		Logging: &LogConfig{
			Level:         "info",
			EnableConsole: true,
			Filename:      "1mcp.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
		EnablePagination: false,
	}
}

// Validate applies defaults and structurally validates every descriptor,
// returning the first error found. Use schema.Validate (schema.go) for the
// full JSON-Schema pass; this is the cheap, always-run structural check.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	c.Load = c.Load.withDefaults()

	seen := make(map[string]bool, len(c.Servers))
	for key, desc := range c.Servers {
		if desc.Name == "" {
			desc.Name = key
		}
		if desc.Name != key {
			return fmt.Errorf("mcpServers: key %q does not match descriptor name %q", key, desc.Name)
		}
		if seen[desc.Name] {
			return fmt.Errorf("mcpServers: duplicate server name %q", desc.Name)
		}
		seen[desc.Name] = true

		if desc.Restart == (RestartPolicy{}) {
			desc.Restart = DefaultRestartPolicy()
		}

		if err := desc.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// MarshalJSON/UnmarshalJSON use a type alias to avoid infinite recursion
// while still going through the default json encoding, matching the
// teacher's Config (de)serialization idiom.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	return json.Marshal((*alias)(c))
}

func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := &struct{ *alias }{alias: (*alias)(c)}
	return json.Unmarshal(data, aux)
}
