package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// ServerInfo is the serverInfo spec.md §4.9 mandates for every session's
// virtual MCP server.
var ServerInfo = mcp.Implementation{Name: "1mcp", Version: "1.0.0"}

// Config is the constructor input for a Session, mirroring spec.md §4.9's
// {session_id, filter_spec, enable_pagination, custom_instructions_template}.
type Config struct {
	ID                   string
	Filter               Filter
	EnablePagination     bool
	InstructionsTemplate string
}

// Session is one connected inbound client's virtual MCP server (C9): its
// admitted outbound set, its wire-level *mcpserver.MCPServer, and the
// bookkeeping the notification fabric (C11) needs to know what changed.
type Session struct {
	ID               string
	filter           Filter
	enablePagination bool
	instructionsTmpl string

	router *Router
	server *mcpserver.MCPServer
	logger *zap.Logger

	mu      sync.RWMutex
	allowed map[string]bool

	cancelMu sync.Mutex
	inFlight map[string]context.CancelFunc
}

// New builds a session's virtual MCP server and computes its initial
// admitted set from the router's current snapshot.
func New(cfg Config, router *Router, presets PresetEvaluator, logger *zap.Logger) (*Session, error) {
	s := &Session{
		ID:               cfg.ID,
		filter:           cfg.Filter,
		enablePagination: cfg.EnablePagination,
		instructionsTmpl: cfg.InstructionsTemplate,
		router:           router,
		logger:           logger,
		inFlight:         map[string]context.CancelFunc{},
	}

	if err := s.RecomputeAllowed(presets); err != nil {
		return nil, err
	}

	s.server = mcpserver.NewMCPServer(ServerInfo.Name, ServerInfo.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithToolFilter(s.toolFilter),
	)

	s.registerTools()
	return s, nil
}

// MCPServer exposes the wire-level server for transport mounting.
func (s *Session) MCPServer() *mcpserver.MCPServer { return s.server }

// Allowed returns the current admitted server-name set.
func (s *Session) Allowed() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.allowed))
	for k, v := range s.allowed {
		out[k] = v
	}
	return out
}

// RecomputeAllowed rebuilds the admitted set from the router's live
// snapshot and tag data, swapping it in atomically under the session's own
// lock (spec.md §5: "per-session state is touched only by that session's
// task").
func (s *Session) RecomputeAllowed(presets PresetEvaluator) error {
	snap := s.router.aggregator.Current()
	allowed, err := Allowed(s.filter, snap, s.router.TagsByServer(), presets)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.allowed = allowed
	s.mu.Unlock()
	return nil
}

// toolFilter is the mcpserver.WithToolFilter callback: it restricts the
// tools returned by tools/list to the session's currently admitted set.
func (s *Session) toolFilter(_ context.Context, tools []mcp.Tool) []mcp.Tool {
	allowed := s.Allowed()
	idx := s.router.buildOwnerIndex()
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if allowed[idx.tools[t.Name]] {
			out = append(out, t)
		}
	}
	return out
}

// registerTools mirrors the router's current tool set into the wire-level
// MCP server, one ServerTool per tool, each handler forwarding through
// Router.CallTool. Re-running this after a capabilities-changed event
// keeps the wire server's registered set in sync with the aggregator.
func (s *Session) registerTools() {
	snap := s.router.aggregator.Current()
	tools := make([]mcpserver.ServerTool, 0, len(snap.Tools))
	for _, t := range snap.Tools {
		tool := t
		tools = append(tools, mcpserver.ServerTool{
			Tool:    tool,
			Handler: s.callToolHandler,
		})
	}
	if len(tools) > 0 {
		s.server.AddTools(tools...)
	}
}

func (s *Session) callToolHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := fmt.Sprintf("%s:%s", req.Params.Name, uuid.NewString())
	callCtx, cancel := context.WithCancel(ctx)
	s.trackCall(requestID, cancel)
	defer func() {
		cancel()
		s.untrackCall(requestID)
	}()

	allowed := s.Allowed()
	result, err := s.router.CallTool(callCtx, allowed, req.Params.Name, req.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result, nil
}

// Instructions renders this session's instructions via C12.
func (s *Session) Instructions(perServer map[string]string) string {
	allowed := s.Allowed()
	names := sortedKeys(allowed)
	return RenderInstructions(InstructionData{
		ServerCount:           len(names),
		ServerNamesSorted:     names,
		FilterContext:         filterContext(s.filter),
		PerServerInstructions: perServer,
	}, s.instructionsTmpl)
}

func filterContext(f Filter) string {
	switch f.Kind {
	case FilterPreset:
		return "preset:" + f.PresetName
	case FilterExpr, FilterSimpleTags:
		if f.Node != nil {
			return f.Node.String()
		}
		return ""
	default:
		return ""
	}
}

// trackCall registers a cancel func for an in-flight outbound call this
// session initiated under requestID, so Close can cancel it on transport
// close.
func (s *Session) trackCall(requestID string, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.inFlight[requestID] = cancel
	s.cancelMu.Unlock()
}

func (s *Session) untrackCall(requestID string) {
	s.cancelMu.Lock()
	delete(s.inFlight, requestID)
	s.cancelMu.Unlock()
}

// Close cancels every in-flight outbound call this session initiated, with
// a grace period before the cancellation is considered complete (spec.md
// §5's 3s forced-close window — enforced by the caller's transport
// shutdown, not here; Close itself is synchronous cancellation only).
func (s *Session) Close() {
	s.cancelMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.inFlight))
	for _, cancel := range s.inFlight {
		cancels = append(cancels, cancel)
	}
	s.inFlight = map[string]context.CancelFunc{}
	s.cancelMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// CloseGrace is the window Close's caller should wait for in-flight calls
// to unwind cooperatively before forcing the transport closed.
const CloseGrace = 3 * time.Second
