package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/1mcp-ai/1mcp/internal/errs"
)

// descriptorSchemaJSON is the JSON Schema contract for one entry of
// mcp.json's "mcpServers" map (SPEC_FULL.md §3.1). It gives ValidationError
// a precise, machine-checkable shape instead of a hand-rolled field walk,
// and is reused unchanged by the external "1mcp config validate" CLI
// collaborator.
const descriptorSchemaJSON = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "type": {"enum": ["stdio", "http", "sse", ""]},
    "disabled": {"type": "boolean"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "timeout_ms": {"type": "integer", "minimum": 0},
    "restart": {
      "type": "object",
      "properties": {
        "on_exit": {"type": "boolean"},
        "max": {"type": "integer", "minimum": 0},
        "delay_ms": {"type": "integer", "minimum": 0}
      }
    },
    "command": {"type": "string"},
    "args": {"type": "array", "items": {"type": "string"}},
    "cwd": {"type": "string"},
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "inherit_parent_env": {"type": "boolean"},
    "env_filter": {"type": "array", "items": {"type": "string"}},
    "stderr_mode": {"enum": ["ignore", "log", "inherit", ""]},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "oauth": {
      "type": "object",
      "properties": {
        "client_id": {"type": "string"},
        "client_secret": {"type": "string"},
        "redirect_uri": {"type": "string"},
        "scopes": {"type": "array", "items": {"type": "string"}},
        "pkce_enabled": {"type": "boolean"}
      }
    }
  }
}`

var (
	resolvedDescriptorSchema *jsonschema.Resolved
	resolveOnce              sync.Once
	resolveErr               error
)

func descriptorSchema() (*jsonschema.Resolved, error) {
	resolveOnce.Do(func() {
		var s jsonschema.Schema
		if err := json.Unmarshal([]byte(descriptorSchemaJSON), &s); err != nil {
			resolveErr = fmt.Errorf("config: parse descriptor schema: %w", err)
			return
		}
		resolved, err := s.Resolve(nil)
		if err != nil {
			resolveErr = fmt.Errorf("config: resolve descriptor schema: %w", err)
			return
		}
		resolvedDescriptorSchema = resolved
	})
	return resolvedDescriptorSchema, resolveErr
}

// ValidateSchema checks a descriptor against the JSON Schema contract,
// returning an errs.ErrValidation-wrapped error naming the offending
// descriptor on failure. Called after OutboundServerDescriptor.Validate's
// cheaper structural checks.
func ValidateSchema(name string, desc *OutboundServerDescriptor) error {
	schema, err := descriptorSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("%w: %s: marshal for schema validation: %v", errs.ErrValidation, name, err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %s: unmarshal for schema validation: %v", errs.ErrValidation, name, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrValidation, name, err)
	}
	return nil
}
