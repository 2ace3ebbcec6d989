// Package aggregator implements the capability aggregator (C6): it queries
// every Ready outbound connection in parallel and merges the results into
// one de-duplicated snapshot the inbound router (C10) serves from.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/outbound"
)

// Snapshot is the merged view of every Ready outbound's capabilities.
type Snapshot struct {
	Tools            []mcp.Tool
	Resources        []mcp.Resource
	Prompts          []mcp.Prompt
	ReadyServerNames []string
	Timestamp        time.Time
}

// ConnectionSource is the subset of *outbound.Manager the aggregator needs,
// named as an interface so tests can substitute a fake set of connections
// without standing up real transports.
type ConnectionSource interface {
	Connections() []*outbound.Connection
}

// Aggregator owns the current Snapshot and recomputes it on demand.
// De-dup order, per-server query timeout, and diff semantics are exactly
// SPEC_FULL.md §4.6.
type Aggregator struct {
	source       ConnectionSource
	queryTimeout time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	current Snapshot
}

const defaultQueryTimeout = 5 * time.Second

func New(source ConnectionSource, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		source:       source,
		queryTimeout: defaultQueryTimeout,
		logger:       logger.Named("aggregator"),
	}
}

// Current returns the most recently computed snapshot without recomputing it.
func (a *Aggregator) Current() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// UpdateCapabilities queries every Ready outbound connection in parallel,
// one goroutine per server bounded by its own queryTimeout context, and
// merges the results into a new snapshot. A single server's failure never
// fails the whole operation — it just contributes an empty set and a debug
// log line.
func (a *Aggregator) UpdateCapabilities(ctx context.Context) Snapshot {
	conns := a.source.Connections()

	readyNames := make([]string, 0, len(conns))
	perServer := make(map[string]outbound.Capabilities, len(conns))

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, conn := range conns {
		if !conn.State.IsReady() {
			continue
		}
		name := conn.Descriptor.Name
		readyNames = append(readyNames, name)

		wg.Add(1)
		go func(name string, conn *outbound.Connection) {
			defer wg.Done()

			queryCtx, cancel := context.WithTimeout(ctx, a.queryTimeout)
			defer cancel()

			caps := a.queryOne(queryCtx, name, conn)

			mu.Lock()
			perServer[name] = caps
			mu.Unlock()
		}(name, conn)
	}
	wg.Wait()

	sort.Strings(readyNames)

	snapshot := Snapshot{
		ReadyServerNames: readyNames,
		Timestamp:        timeNow(),
	}
	snapshot.Tools = mergeTools(readyNames, perServer, a.logger)
	snapshot.Resources = mergeResources(readyNames, perServer, a.logger)
	snapshot.Prompts = mergePrompts(readyNames, perServer, a.logger)

	a.mu.Lock()
	a.current = snapshot
	a.mu.Unlock()

	return snapshot
}

// timeNow is a thin indirection so tests can't accidentally depend on wall
// clock ordering across fast successive calls.
var timeNow = time.Now

// queryOne re-queries one server's live tool/resource/prompt lists within
// queryCtx. A client that has gone away between IsReady() and here, or a
// call that errors or times out, yields an empty Capabilities — the
// snapshot cached at connect time (conn.Snapshot) is used as a fallback so
// a transient query hiccup doesn't blank out a server's tools every cycle.
func (a *Aggregator) queryOne(queryCtx context.Context, name string, conn *outbound.Connection) outbound.Capabilities {
	client := conn.Client()
	if client == nil {
		cached, _ := conn.Snapshot()
		return cached
	}

	var caps outbound.Capabilities
	var anyErr bool

	if toolsResult, err := client.ListTools(queryCtx, mcp.ListToolsRequest{}); err == nil && toolsResult != nil {
		caps.Tools = toolsResult.Tools
	} else {
		anyErr = true
	}
	if resourcesResult, err := client.ListResources(queryCtx, mcp.ListResourcesRequest{}); err == nil && resourcesResult != nil {
		caps.Resources = resourcesResult.Resources
	} else {
		anyErr = true
	}
	if promptsResult, err := client.ListPrompts(queryCtx, mcp.ListPromptsRequest{}); err == nil && promptsResult != nil {
		caps.Prompts = promptsResult.Prompts
	} else {
		anyErr = true
	}

	if anyErr {
		a.logger.Debug("capability query incomplete for server, falling back to cached snapshot", zap.String("server", name))
		cached, _ := conn.Snapshot()
		if len(caps.Tools) == 0 {
			caps.Tools = cached.Tools
		}
		if len(caps.Resources) == 0 {
			caps.Resources = cached.Resources
		}
		if len(caps.Prompts) == 0 {
			caps.Prompts = cached.Prompts
		}
	}

	return caps
}

func mergeTools(readyNames []string, perServer map[string]outbound.Capabilities, logger *zap.Logger) []mcp.Tool {
	seen := make(map[string]bool)
	var out []mcp.Tool
	for _, name := range readyNames {
		for _, tool := range perServer[name].Tools {
			if seen[tool.Name] {
				logger.Debug("tool name collision, first server wins", zap.String("tool", tool.Name), zap.String("server", name))
				continue
			}
			seen[tool.Name] = true
			out = append(out, tool)
		}
	}
	return out
}

func mergeResources(readyNames []string, perServer map[string]outbound.Capabilities, logger *zap.Logger) []mcp.Resource {
	seen := make(map[string]bool)
	var out []mcp.Resource
	for _, name := range readyNames {
		for _, res := range perServer[name].Resources {
			if seen[res.URI] {
				logger.Debug("resource uri collision, first server wins", zap.String("uri", res.URI), zap.String("server", name))
				continue
			}
			seen[res.URI] = true
			out = append(out, res)
		}
	}
	return out
}

func mergePrompts(readyNames []string, perServer map[string]outbound.Capabilities, logger *zap.Logger) []mcp.Prompt {
	seen := make(map[string]bool)
	var out []mcp.Prompt
	for _, name := range readyNames {
		for _, p := range perServer[name].Prompts {
			if seen[p.Name] {
				logger.Debug("prompt name collision, first server wins", zap.String("prompt", p.Name), zap.String("server", name))
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}
