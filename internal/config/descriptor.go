package config

import (
	"fmt"

	"github.com/1mcp-ai/1mcp/internal/errs"
)

// TransportType is the wire protocol used to reach an outbound server.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
)

// StderrMode controls what happens to a stdio child's stderr stream.
type StderrMode string

const (
	StderrIgnore StderrMode = "ignore"
	StderrLog    StderrMode = "log"
	StderrInherit StderrMode = "inherit"
)

// RestartPolicy governs whether and how a restartable stdio transport
// relaunches its child process after an unexpected exit.
type RestartPolicy struct {
	OnExit   bool     `json:"on_exit" mapstructure:"on_exit"`
	Max      int      `json:"max,omitempty" mapstructure:"max"`
	DelayMs  int      `json:"delay_ms,omitempty" mapstructure:"delay_ms"`
}

// DefaultRestartPolicy is applied when a descriptor omits "restart" entirely.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{OnExit: true, Max: 5, DelayMs: 1000}
}

// OAuthConfig is the descriptor-level OAuth configuration for an http/sse
// outbound. An empty, non-nil OAuthConfig still signals "this server needs
// OAuth" to the transport factory — Dynamic Client Registration (RFC 7591)
// fills in ClientID when it is blank.
type OAuthConfig struct {
	ClientID    string            `json:"client_id,omitempty" mapstructure:"client_id"`
	ClientSecret string           `json:"client_secret,omitempty" mapstructure:"client_secret"`
	RedirectURI string            `json:"redirect_uri,omitempty" mapstructure:"redirect_uri"`
	Scopes      []string          `json:"scopes,omitempty" mapstructure:"scopes"`
	PKCEEnabled bool              `json:"pkce_enabled,omitempty" mapstructure:"pkce_enabled"`
	ExtraParams map[string]string `json:"extra_params,omitempty" mapstructure:"extra_params"`
}

// OutboundServerDescriptor is one entry of mcp.json's "mcpServers" map: the
// full configuration of a single outbound MCP server the proxy dials.
// Exactly one of Command (stdio) or URL (http/sse) must be set; Name is the
// sole stable identity used everywhere else in the system (aggregator
// dedup, router lookups, health rows, OAuth token file names).
type OutboundServerDescriptor struct {
	Name     string        `json:"name" mapstructure:"name"`
	Type     TransportType `json:"type,omitempty" mapstructure:"type"`
	Disabled bool          `json:"disabled,omitempty" mapstructure:"disabled"`
	Tags     []string      `json:"tags,omitempty" mapstructure:"tags"`
	TimeoutMs int          `json:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
	Restart  RestartPolicy `json:"restart,omitempty" mapstructure:"restart"`

	// stdio fields
	Command          string            `json:"command,omitempty" mapstructure:"command"`
	Args             []string          `json:"args,omitempty" mapstructure:"args"`
	Cwd              string            `json:"cwd,omitempty" mapstructure:"cwd"`
	Env              map[string]string `json:"env,omitempty" mapstructure:"env"`
	InheritParentEnv bool              `json:"inherit_parent_env,omitempty" mapstructure:"inherit_parent_env"`
	EnvFilter        []string          `json:"env_filter,omitempty" mapstructure:"env_filter"`
	StderrMode       StderrMode        `json:"stderr_mode,omitempty" mapstructure:"stderr_mode"`

	// http/sse fields
	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	OAuth   *OAuthConfig      `json:"oauth,omitempty" mapstructure:"oauth"`
}

// InferredType returns Type if set, otherwise infers it: a Command implies
// stdio; a URL ending in "/mcp" implies streamable HTTP; any other URL
// implies SSE. Matches the transport factory's (C1) inference rule.
func (d *OutboundServerDescriptor) InferredType() TransportType {
	if d.Type != "" {
		return d.Type
	}
	if d.Command != "" {
		return TransportStdio
	}
	if len(d.URL) >= 4 && d.URL[len(d.URL)-4:] == "/mcp" {
		return TransportHTTP
	}
	return TransportSSE
}

// EffectiveTimeout returns the per-call timeout for this descriptor,
// defaulting to 30s when unset.
func (d *OutboundServerDescriptor) EffectiveTimeout() int {
	if d.TimeoutMs > 0 {
		return d.TimeoutMs
	}
	return 30000
}

// Validate performs structural checks that precede JSON-schema validation:
// exactly one of Command/URL, a non-empty Name, a recognized Type when set.
func (d *OutboundServerDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: descriptor name is required", errs.ErrValidation)
	}
	hasCommand := d.Command != ""
	hasURL := d.URL != ""
	if hasCommand == hasURL {
		return fmt.Errorf("%w: %s: exactly one of command or url is required", errs.ErrValidation, d.Name)
	}
	switch d.Type {
	case "", TransportStdio, TransportHTTP, TransportSSE:
	default:
		return fmt.Errorf("%w: %s: unrecognized type %q", errs.ErrValidation, d.Name, d.Type)
	}
	if hasCommand && d.InferredType() != TransportStdio {
		return fmt.Errorf("%w: %s: command set but type %q is not stdio", errs.ErrValidation, d.Name, d.Type)
	}
	if hasURL && d.InferredType() == TransportStdio {
		return fmt.Errorf("%w: %s: url set but type is stdio", errs.ErrValidation, d.Name)
	}
	return nil
}
