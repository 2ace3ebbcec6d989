package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/errs"
)

// HTTPTimeout bounds how long an HTTP/SSE dial and subsequent long-poll may
// take before the underlying transport gives up. Outbound-level call
// timeouts (LoadOptions.ServerTimeoutMs) are enforced separately, above
// this.
const HTTPTimeout = 180 * time.Second

// OAuthTokenSource supplies an OAuth config for an HTTP/SSE transport when
// the descriptor has an oauth block. Implemented by internal/oauthprovider;
// kept as an interface here so internal/transport never imports it directly
// (it would create an import cycle, since the OAuth provider dials its own
// discovery requests through this same package).
type OAuthTokenSource interface {
	OAuthConfig(serverName string) (*client.OAuthConfig, bool)
}

// HTTPDialConfig is the subset of an OutboundServerDescriptor needed to
// dial a streamable-HTTP or SSE transport.
type HTTPDialConfig struct {
	ServerName string
	URL        string
	Headers    map[string]string
	OAuth      *client.OAuthConfig
}

// DialHTTP creates an MCP client over streamable HTTP, optionally OAuth-enabled.
func DialHTTP(cfg HTTPDialConfig) (*client.Client, error) {
	logger := zap.L().Named("transport").With(zap.String("server", cfg.ServerName))

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: no URL specified for http transport", errs.ErrValidation, cfg.ServerName)
	}

	if cfg.OAuth != nil {
		logger.Info("dialing OAuth-enabled streamable HTTP client", zap.String("url", cfg.URL))
		c, err := client.NewOAuthStreamableHttpClient(cfg.URL, *cfg.OAuth)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, cfg.ServerName, err)
		}
		return c, nil
	}

	var httpTransport *mcptransport.StreamableHTTP
	var err error
	if len(cfg.Headers) > 0 {
		httpTransport, err = mcptransport.NewStreamableHTTP(cfg.URL, mcptransport.WithHTTPHeaders(cfg.Headers))
	} else {
		httpTransport, err = mcptransport.NewStreamableHTTP(cfg.URL, mcptransport.WithHTTPTimeout(HTTPTimeout))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, cfg.ServerName, err)
	}
	return client.NewClient(httpTransport), nil
}

// DialSSE creates an MCP client over SSE, optionally OAuth-enabled.
func DialSSE(cfg HTTPDialConfig) (*client.Client, error) {
	logger := zap.L().Named("transport").With(zap.String("server", cfg.ServerName))

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: no URL specified for sse transport", errs.ErrValidation, cfg.ServerName)
	}

	if cfg.OAuth != nil {
		logger.Info("dialing OAuth-enabled SSE client", zap.String("url", cfg.URL))
		c, err := client.NewOAuthSSEClient(cfg.URL, *cfg.OAuth)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, cfg.ServerName, err)
		}
		return c, nil
	}

	httpClient := &http.Client{
		Timeout: HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 5,
		},
	}

	sseOpts := []client.ClientOption{client.WithHTTPClient(httpClient)}
	if len(cfg.Headers) > 0 {
		sseOpts = append(sseOpts, client.WithHeaders(cfg.Headers))
	}

	sseClient, err := client.NewSSEMCPClient(cfg.URL, sseOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, cfg.ServerName, err)
	}
	return sseClient, nil
}
