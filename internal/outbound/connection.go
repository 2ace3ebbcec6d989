package outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/secureenv"
	"github.com/1mcp-ai/1mcp/internal/transport"
)

// Capabilities is the per-server slice of a CapabilitySnapshot (C6 merges
// these across every Ready connection).
type Capabilities struct {
	Tools     []mcp.Tool
	Resources []mcp.Resource
	Prompts   []mcp.Prompt
}

// Connection is one outbound MCP server: descriptor, live transport handle,
// state machine, and the capabilities/instructions cached at last Ready.
// Exclusively mutated by the loading manager (C4); the aggregator (C6) and
// router (C10) only read through snapshot accessors.
type Connection struct {
	Descriptor *config.OutboundServerDescriptor
	State      *StateManager

	envManager *secureenv.Manager
	oauth      transport.OAuthTokenSource
	logger     *zap.Logger

	mu           sync.RWMutex
	handle       *transport.Handle
	caps         Capabilities
	instructions string
	serverInfo   mcp.Implementation
}

func NewConnection(desc *config.OutboundServerDescriptor, envManager *secureenv.Manager, oauth transport.OAuthTokenSource, logger *zap.Logger) *Connection {
	return &Connection{
		Descriptor: desc,
		State:      NewStateManager(desc.Name),
		envManager: envManager,
		oauth:      oauth,
		logger:     logger.Named("outbound").With(zap.String("server", desc.Name)),
	}
}

// Connect dials the transport, runs the MCP initialize handshake, and on
// success queries capabilities and instructions before transitioning to
// Ready. An auth-shaped failure transitions to AwaitingOAuth instead of
// Failed so the loading manager does not keep retrying a dial that needs
// user interaction.
func (c *Connection) Connect(ctx context.Context, timeout time.Duration, onExit transport.ExitFunc) error {
	if err := c.State.TransitionTo(StateConnecting); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := transport.Dial(dialCtx, c.Descriptor, c.envManager, c.oauth, c.logger, onExit)
	if err != nil {
		return c.fail(err)
	}

	serverInfo, err := c.initialize(dialCtx, handle.Client)
	if err != nil {
		_ = handle.Close()
		if isAuthError(err) {
			if tErr := c.State.TransitionTo(StateAwaitingOAuth); tErr != nil {
				c.logger.Warn("invalid transition to AwaitingOAuth", zap.Error(tErr))
			}
			return fmt.Errorf("%w: %s: %v", errs.ErrAwaitingOAuth, c.Descriptor.Name, err)
		}
		return c.fail(err)
	}

	caps, err := c.queryCapabilities(dialCtx, handle.Client)
	if err != nil {
		c.logger.Debug("capability query failed, proceeding with empty set", zap.Error(err))
	}

	c.mu.Lock()
	c.handle = handle
	c.caps = caps
	c.instructions = serverInfo.Instructions
	c.serverInfo = serverInfo.ServerInfo
	c.mu.Unlock()

	return c.State.TransitionTo(StateReady)
}

func (c *Connection) fail(err error) error {
	c.State.SetError(err)
	return fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, c.Descriptor.Name, err)
}

func (c *Connection) initialize(ctx context.Context, mcpClient *client.Client) (*mcp.InitializeResult, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "1mcp", Version: "1.0.0"}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	result, err := mcpClient.Initialize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return result, nil
}

func (c *Connection) queryCapabilities(ctx context.Context, mcpClient *client.Client) (Capabilities, error) {
	var caps Capabilities

	toolsResult, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err == nil && toolsResult != nil {
		caps.Tools = toolsResult.Tools
	}

	resourcesResult, err := mcpClient.ListResources(ctx, mcp.ListResourcesRequest{})
	if err == nil && resourcesResult != nil {
		caps.Resources = resourcesResult.Resources
	}

	promptsResult, err := mcpClient.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err == nil && promptsResult != nil {
		caps.Prompts = promptsResult.Prompts
	}

	return caps, nil
}

// Snapshot returns the cached capabilities and instructions as of the last
// successful Connect. Safe to call regardless of current state; callers
// should check State().IsReady() first if staleness matters.
func (c *Connection) Snapshot() (Capabilities, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps, c.instructions
}

// SetCapabilitiesForTesting seeds the cached capabilities/instructions a
// real Connect would populate, for packages that need a Ready connection
// with a known tool/resource/prompt set without dialing a real transport.
func (c *Connection) SetCapabilitiesForTesting(caps Capabilities, instructions string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps = caps
	c.instructions = instructions
}

// Client returns the live MCP client, or nil if not currently Ready.
func (c *Connection) Client() *client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.handle == nil {
		return nil
	}
	return c.handle.Client
}

// Disconnect closes the live transport and transitions to Disconnected.
// Used for intentional shutdown/removal, not for unexpected exits (those go
// through SetError via the restart/exit callback).
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	var closeErr error
	if handle != nil {
		closeErr = handle.Close()
	}

	if err := c.State.TransitionTo(StateDisconnected); err != nil {
		c.logger.Debug("disconnect transition rejected", zap.Error(err))
	}
	return closeErr
}

// isAuthError mirrors the teacher's substring-based auth-failure detection:
// upstream MCP servers signal OAuth-required failures through plain HTTP
// status text, not a typed error the mcp-go client exposes.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "unauthorized", "403", "forbidden", "invalid_token", "authentication"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
