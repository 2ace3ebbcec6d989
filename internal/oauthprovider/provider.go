// Package oauthprovider supplies OAuth client configuration and token
// persistence for outbound http/sse servers (C14), implementing
// transport.OAuthTokenSource so internal/transport's Dial can stay
// ignorant of how credentials are stored. Persistence goes through
// internal/store, the same atomic JSON-file primitive the preset manager
// uses, rather than the teacher's BBolt database — spec.md §6 names a
// plain JSON file layout under the session directory, and this repo
// already has one shared store for exactly that shape.
package oauthprovider

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/store"
)

const sessionsDir = "sessions"

// DefaultScopes is used for a descriptor whose oauth block omits scopes.
var DefaultScopes = []string{"mcp.read", "mcp.write"}

// Provider builds a *client.OAuthConfig per outbound server name, backed by
// a persistent token store and the descriptor's oauth block. It satisfies
// transport.OAuthTokenSource.
type Provider struct {
	dir    *store.Dir
	logger *zap.Logger

	mu    sync.RWMutex
	descs map[string]*config.OAuthConfig
	flow  *Flow
}

// New constructs a Provider rooted at <dataDir>/sessions, creating the
// directory if it does not exist.
func New(dataDir string, logger *zap.Logger) (*Provider, error) {
	dir, err := store.New(filepath.Join(dataDir, sessionsDir))
	if err != nil {
		return nil, fmt.Errorf("%w: oauth session store: %v", errs.ErrStorage, err)
	}
	p := &Provider{
		dir:    dir,
		logger: logger.Named("oauthprovider"),
		descs:  map[string]*config.OAuthConfig{},
	}
	p.flow = newFlow(dir, p.logger)
	return p, nil
}

// RegisterServer records serverName's oauth block, so a later OAuthConfig
// call can find it. A descriptor with a nil OAuth block is simply not
// registered — OAuthConfig then reports ok=false and the transport factory
// dials without OAuth.
func (p *Provider) RegisterServer(desc *config.OutboundServerDescriptor) {
	if desc == nil || desc.OAuth == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.descs[desc.Name] = desc.OAuth
}

// Unregister drops a server's oauth block, called when a descriptor is
// removed or its oauth config changes and will be re-registered.
func (p *Provider) Unregister(serverName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.descs, serverName)
}

// OAuthConfig implements transport.OAuthTokenSource: it returns nil, false
// for a server with no registered oauth block (the common case), and
// otherwise a ready-to-use *client.OAuthConfig whose TokenStore persists
// through this Provider.
func (p *Provider) OAuthConfig(serverName string) (*client.OAuthConfig, bool) {
	p.mu.RLock()
	desc, ok := p.descs[serverName]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}

	scopes := desc.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &client.OAuthConfig{
		ClientID:     desc.ClientID,
		ClientSecret: desc.ClientSecret,
		RedirectURI:  desc.RedirectURI,
		Scopes:       scopes,
		TokenStore:   newPersistentTokenStore(serverName, p.dir, p.logger),
		PKCEEnabled:  desc.PKCEEnabled,
	}, true
}

// Flow exposes the authorization-session bookkeeping (sess-/code- files)
// to whatever external collaborator drives the authorization-code UI —
// out of scope here, but the session/auth-code persistence it depends on
// is not.
func (p *Provider) Flow() *Flow {
	return p.flow
}

// ClearToken deletes a server's persisted client/token record entirely,
// used when a descriptor is removed or the user forces re-authorization.
func (p *Provider) ClearToken(serverName string) error {
	if err := p.dir.Delete(clientFileKey(serverName)); err != nil {
		return fmt.Errorf("%w: clear oauth token for %s: %v", errs.ErrStorage, serverName, err)
	}
	return nil
}

// HasToken reports whether a server has any persisted client record at
// all (used for the health surface's AwaitingOAuth-vs-never-registered
// distinction in tests and diagnostics).
func (p *Provider) HasToken(serverName string) bool {
	return p.dir.Exists(clientFileKey(serverName))
}
