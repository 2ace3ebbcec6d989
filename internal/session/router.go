package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/aggregator"
	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/outbound"
)

// CallTracer opens a span around one routed tools/call, resources/read,
// or prompts/get request, named as a narrow interface so this package
// never needs to import internal/tracing directly. Implemented by
// *tracing.Manager.
type CallTracer interface {
	StartCall(ctx context.Context, method, serverName, itemName string) (context.Context, oteltrace.Span)
}

// Router implements C10: it resolves tools/resources/prompts list and call
// operations against the current aggregator snapshot and the live
// outbound registry, and fans select operations out to every admitted
// Ready outbound.
type Router struct {
	aggregator *aggregator.Aggregator
	outbound   *outbound.Manager
	logger     *zap.Logger
	tracer     CallTracer
}

// NewRouter wires a Router to the shared aggregator and outbound manager.
func NewRouter(agg *aggregator.Aggregator, mgr *outbound.Manager, logger *zap.Logger) *Router {
	return &Router{aggregator: agg, outbound: mgr, logger: logger}
}

// WithTracer attaches a CallTracer, used going forward to span every
// routed call this Router forwards.
func (r *Router) WithTracer(tracer CallTracer) *Router {
	r.tracer = tracer
	return r
}

// ownerIndex maps an item name/URI to the server that first exposed it, in
// sorted-ready-server-name order — the same precedence aggregator.go uses
// to merge, so a session's router and the shared aggregator always agree
// on which server owns a given name.
type ownerIndex struct {
	tools     map[string]string
	resources map[string]string
	prompts   map[string]string
}

func (r *Router) buildOwnerIndex() ownerIndex {
	idx := ownerIndex{tools: map[string]string{}, resources: map[string]string{}, prompts: map[string]string{}}

	conns := r.outbound.Connections()
	names := make([]string, 0, len(conns))
	byName := make(map[string]*outbound.Connection, len(conns))
	for _, c := range conns {
		if c.State.IsReady() {
			names = append(names, c.Descriptor.Name)
			byName[c.Descriptor.Name] = c
		}
	}
	sort.Strings(names)

	for _, name := range names {
		caps, _ := byName[name].Snapshot()
		for _, t := range caps.Tools {
			if _, exists := idx.tools[t.Name]; !exists {
				idx.tools[t.Name] = name
			}
		}
		for _, res := range caps.Resources {
			if _, exists := idx.resources[res.URI]; !exists {
				idx.resources[res.URI] = name
			}
		}
		for _, p := range caps.Prompts {
			if _, exists := idx.prompts[p.Name]; !exists {
				idx.prompts[p.Name] = name
			}
		}
	}
	return idx
}

// TagsByServer returns every ready outbound's descriptor tags, the input
// Filter's Allowed computation needs without importing the outbound
// registry itself.
func (r *Router) TagsByServer() map[string][]string {
	out := map[string][]string{}
	for _, c := range r.outbound.Connections() {
		if c.State.IsReady() {
			out[c.Descriptor.Name] = c.Descriptor.Tags
		}
	}
	return out
}

// ListTools returns the tools view admitted by allowed, from the
// aggregator's current snapshot, applying pagination when requested.
func (r *Router) ListTools(allowed map[string]bool, cursor string, paginate bool) ([]mcp.Tool, string, error) {
	snap := r.aggregator.Current()
	idx := r.buildOwnerIndex()

	visible := make([]mcp.Tool, 0, len(snap.Tools))
	for _, t := range snap.Tools {
		if allowed[idx.tools[t.Name]] {
			visible = append(visible, t)
		}
	}
	if !paginate {
		return visible, "", nil
	}

	groups := groupByOwner(visible, func(t mcp.Tool) string { return idx.tools[t.Name] })
	byName := make(map[string]mcp.Tool, len(visible))
	for _, t := range visible {
		byName[t.Name] = t
	}
	pageNames, next, err := Paginate(groups, cursor, DefaultPageSize)
	if err != nil {
		return nil, "", err
	}
	page := make([]mcp.Tool, len(pageNames))
	for i, n := range pageNames {
		page[i] = byName[n]
	}
	return page, next, nil
}

// ListResources is ListTools's analogue, keyed by URI.
func (r *Router) ListResources(allowed map[string]bool, cursor string, paginate bool) ([]mcp.Resource, string, error) {
	snap := r.aggregator.Current()
	idx := r.buildOwnerIndex()

	visible := make([]mcp.Resource, 0, len(snap.Resources))
	for _, res := range snap.Resources {
		if allowed[idx.resources[res.URI]] {
			visible = append(visible, res)
		}
	}
	if !paginate {
		return visible, "", nil
	}

	groups := groupByOwner(visible, func(res mcp.Resource) string { return idx.resources[res.URI] })
	byURI := make(map[string]mcp.Resource, len(visible))
	for _, res := range visible {
		byURI[res.URI] = res
	}
	pageURIs, next, err := Paginate(groups, cursor, DefaultPageSize)
	if err != nil {
		return nil, "", err
	}
	page := make([]mcp.Resource, len(pageURIs))
	for i, u := range pageURIs {
		page[i] = byURI[u]
	}
	return page, next, nil
}

// ListPrompts is ListTools's analogue, keyed by name.
func (r *Router) ListPrompts(allowed map[string]bool, cursor string, paginate bool) ([]mcp.Prompt, string, error) {
	snap := r.aggregator.Current()
	idx := r.buildOwnerIndex()

	visible := make([]mcp.Prompt, 0, len(snap.Prompts))
	for _, p := range snap.Prompts {
		if allowed[idx.prompts[p.Name]] {
			visible = append(visible, p)
		}
	}
	if !paginate {
		return visible, "", nil
	}

	groups := groupByOwner(visible, func(p mcp.Prompt) string { return idx.prompts[p.Name] })
	byName := make(map[string]mcp.Prompt, len(visible))
	for _, p := range visible {
		byName[p.Name] = p
	}
	pageNames, next, err := Paginate(groups, cursor, DefaultPageSize)
	if err != nil {
		return nil, "", err
	}
	page := make([]mcp.Prompt, len(pageNames))
	for i, n := range pageNames {
		page[i] = byName[n]
	}
	return page, next, nil
}

func groupByOwner[T any](items []T, ownerOf func(T) string) []serverGroup {
	byOwner := map[string][]string{}
	var order []string
	for _, item := range items {
		owner := ownerOf(item)
		if _, seen := byOwner[owner]; !seen {
			order = append(order, owner)
		}
		byOwner[owner] = append(byOwner[owner], itemKey(item))
	}
	groups := make([]serverGroup, len(order))
	for i, owner := range order {
		groups[i] = serverGroup{Server: owner, Items: byOwner[owner]}
	}
	return groups
}

// itemKey extracts the identity string Paginate tracks for a list item.
func itemKey(item any) string {
	switch v := item.(type) {
	case mcp.Tool:
		return v.Name
	case mcp.Resource:
		return v.URI
	case mcp.Prompt:
		return v.Name
	default:
		return ""
	}
}

// resolveOwner looks up name's owning server and validates admission and
// readiness, the shared preamble CallTool/ReadResource/GetPrompt all need.
func (r *Router) resolveOwner(owner string, allowed map[string]bool) (*outbound.Connection, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, owner)
	}
	if !allowed[owner] {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotAllowed, owner)
	}
	conn := r.outbound.Get(owner)
	if conn == nil || !conn.State.IsReady() {
		return nil, fmt.Errorf("%w: %s", errs.ErrServerUnavailable, owner)
	}
	return conn, nil
}

// CallTool forwards a tools/call to name's owning outbound, bounded by the
// descriptor's effective per-call timeout.
func (r *Router) CallTool(ctx context.Context, allowed map[string]bool, name string, args map[string]any) (*mcp.CallToolResult, error) {
	idx := r.buildOwnerIndex()
	conn, err := r.resolveOwner(idx.tools[name], allowed)
	if err != nil {
		return nil, err
	}

	if r.tracer != nil {
		var span oteltrace.Span
		ctx, span = r.tracer.StartCall(ctx, "tools/call", conn.Descriptor.Name, name)
		defer span.End()
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(conn.Descriptor.EffectiveTimeout())*time.Millisecond)
	defer cancel()

	client := conn.Client()
	if client == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrServerUnavailable, conn.Descriptor.Name)
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := client.CallTool(callCtx, request)
	if err != nil {
		if r.tracer != nil {
			oteltrace.SpanFromContext(ctx).RecordError(err)
		}
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrCallTimeout, name, err)
		}
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return result, nil
}

// ReadResource forwards a resources/read to uri's owning outbound.
func (r *Router) ReadResource(ctx context.Context, allowed map[string]bool, uri string) (*mcp.ReadResourceResult, error) {
	idx := r.buildOwnerIndex()
	conn, err := r.resolveOwner(idx.resources[uri], allowed)
	if err != nil {
		return nil, err
	}

	if r.tracer != nil {
		var span oteltrace.Span
		ctx, span = r.tracer.StartCall(ctx, "resources/read", conn.Descriptor.Name, uri)
		defer span.End()
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(conn.Descriptor.EffectiveTimeout())*time.Millisecond)
	defer cancel()

	client := conn.Client()
	if client == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrServerUnavailable, conn.Descriptor.Name)
	}

	request := mcp.ReadResourceRequest{}
	request.Params.URI = uri

	result, err := client.ReadResource(callCtx, request)
	if err != nil {
		if r.tracer != nil {
			oteltrace.SpanFromContext(ctx).RecordError(err)
		}
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrCallTimeout, uri, err)
		}
		return nil, fmt.Errorf("resources/read %s: %w", uri, err)
	}
	return result, nil
}

// GetPrompt forwards a prompts/get to name's owning outbound.
func (r *Router) GetPrompt(ctx context.Context, allowed map[string]bool, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	idx := r.buildOwnerIndex()
	conn, err := r.resolveOwner(idx.prompts[name], allowed)
	if err != nil {
		return nil, err
	}

	if r.tracer != nil {
		var span oteltrace.Span
		ctx, span = r.tracer.StartCall(ctx, "prompts/get", conn.Descriptor.Name, name)
		defer span.End()
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(conn.Descriptor.EffectiveTimeout())*time.Millisecond)
	defer cancel()

	client := conn.Client()
	if client == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrServerUnavailable, conn.Descriptor.Name)
	}

	request := mcp.GetPromptRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := client.GetPrompt(callCtx, request)
	if err != nil {
		if r.tracer != nil {
			oteltrace.SpanFromContext(ctx).RecordError(err)
		}
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrCallTimeout, name, err)
		}
		return nil, fmt.Errorf("prompts/get %s: %w", name, err)
	}
	return result, nil
}

// FanoutResult pairs a Ready admitted outbound's name with its call result
// or error, for operations spec.md §4.10 says to broadcast and merge.
type FanoutResult struct {
	Server string
	Err    error
}

// Fanout calls fn once per Ready admitted outbound, concurrently, and
// returns every result for the caller to merge (completion/*) or reduce to
// first-success (logging/setLevel, roots/*).
func (r *Router) Fanout(ctx context.Context, allowed map[string]bool, fn func(ctx context.Context, conn *outbound.Connection) error) []FanoutResult {
	var targets []*outbound.Connection
	for _, conn := range r.outbound.Connections() {
		if allowed[conn.Descriptor.Name] && conn.State.IsReady() {
			targets = append(targets, conn)
		}
	}

	results := make([]FanoutResult, len(targets))
	done := make(chan int, len(targets))
	for i, conn := range targets {
		go func(i int, conn *outbound.Connection) {
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(conn.Descriptor.EffectiveTimeout())*time.Millisecond)
			defer cancel()
			err := fn(callCtx, conn)
			results[i] = FanoutResult{Server: conn.Descriptor.Name, Err: err}
			done <- i
		}(i, conn)
	}
	for range targets {
		<-done
	}
	return results
}

// FirstSuccess returns the first nil-error result's server name, or an
// error wrapping every attempt's failure when all fail.
func FirstSuccess(results []FanoutResult) (string, error) {
	var failures []string
	for _, res := range results {
		if res.Err == nil {
			return res.Server, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", res.Server, res.Err))
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w: no admitted ready outbounds", errs.ErrServerUnavailable)
	}
	return "", fmt.Errorf("%w: all outbounds failed: %v", errs.ErrServerUnavailable, failures)
}
