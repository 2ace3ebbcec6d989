package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/secureenv"
)

// Handle is what Dial hands back to the caller (internal/outbound): the
// live MCP client plus, for stdio descriptors only, the restart-capable
// wrapper that owns the child process's lifecycle.
type Handle struct {
	Client *client.Client
	Stdio  *RestartableStdio // nil for http/sse
}

// Close tears down whichever side of the transport is live.
func (h *Handle) Close() error {
	if h.Stdio != nil {
		return h.Stdio.Close()
	}
	if h.Client != nil {
		return h.Client.Close()
	}
	return nil
}

// Dial builds and starts a transport for descriptor, dispatching on its
// inferred type (C1). Disabled descriptors are rejected by the caller
// before Dial is ever invoked — this function assumes desc.Disabled is
// false.
func Dial(ctx context.Context, desc *config.OutboundServerDescriptor, envManager *secureenv.Manager, oauth OAuthTokenSource, logger *zap.Logger, onExit ExitFunc) (*Handle, error) {
	transportType := desc.Type
	if transportType == "" {
		transportType = desc.InferredType()
	}

	switch transportType {
	case config.TransportStdio:
		stdio := NewRestartableStdio(desc, envManager, logger, onExit)
		c, err := stdio.Start(ctx)
		if err != nil {
			return nil, err
		}
		return &Handle{Client: c, Stdio: stdio}, nil

	case config.TransportHTTP:
		oauthCfg, _ := lookupOAuth(oauth, desc.Name)
		c, err := DialHTTP(HTTPDialConfig{ServerName: desc.Name, URL: desc.URL, Headers: desc.Headers, OAuth: oauthCfg})
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, desc.Name, err)
		}
		return &Handle{Client: c}, nil

	case config.TransportSSE:
		oauthCfg, _ := lookupOAuth(oauth, desc.Name)
		c, err := DialSSE(HTTPDialConfig{ServerName: desc.Name, URL: desc.URL, Headers: desc.Headers, OAuth: oauthCfg})
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, desc.Name, err)
		}
		return &Handle{Client: c}, nil

	default:
		return nil, fmt.Errorf("%w: %s: unrecognized transport type %q", errs.ErrValidation, desc.Name, transportType)
	}
}

func lookupOAuth(src OAuthTokenSource, serverName string) (*client.OAuthConfig, bool) {
	if src == nil {
		return nil, false
	}
	return src.OAuthConfig(serverName)
}
