// Package inbound mounts the MCP wire protocol (stdio and HTTP
// streamable) on top of a session.Router, dispatching HTTP requests to the
// virtual server matching the caller's preset=/tag-filter=/tags= query
// parameters (spec.md §6's URL surface). Every other example in this
// codebase's corpus mounts one process-wide server.NewStreamableHTTPServer
// directly on its mux; this package does the same per distinct filter, so
// a URL's admitted server set is a genuinely separate virtual MCP server
// rather than a shared one post-filtered per request.
package inbound

import (
	"fmt"
	"net/http"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/session"
)

// Mux dispatches inbound HTTP MCP requests to a per-filter session.Session,
// creating one lazily the first time a given preset/tag-filter/tags
// combination is seen.
type Mux struct {
	registry *session.Registry
	router   *session.Router
	presets  session.PresetEvaluator
	logger   *zap.Logger

	enablePagination     bool
	instructionsTemplate string

	mu       sync.Mutex
	handlers map[string]http.Handler
}

// NewMux builds an HTTP dispatcher. enablePagination and
// instructionsTemplate are applied to every session this Mux creates.
func NewMux(registry *session.Registry, router *session.Router, presets session.PresetEvaluator, enablePagination bool, instructionsTemplate string, logger *zap.Logger) *Mux {
	return &Mux{
		registry:             registry,
		router:               router,
		presets:              presets,
		logger:               logger.Named("inbound-http"),
		enablePagination:     enablePagination,
		instructionsTemplate: instructionsTemplate,
		handlers:             map[string]http.Handler{},
	}
}

// ServeHTTP parses the request's filter query parameters, finds or creates
// the matching session, and forwards the request to its streamable HTTP
// handler.
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := session.ParseFilter(q.Get("preset"), q.Get("tag-filter"), q.Get("tags"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := filterKey(q.Get("preset"), q.Get("tag-filter"), q.Get("tags"))
	handler, err := m.handlerFor(key, filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}

func (m *Mux) handlerFor(key string, filter session.Filter) (http.Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handlers[key]; ok {
		return h, nil
	}

	sess, err := session.New(session.Config{
		ID:                   session.NewSessionID(),
		Filter:               filter,
		EnablePagination:     m.enablePagination,
		InstructionsTemplate: m.instructionsTemplate,
	}, m.router, m.presets, m.logger)
	if err != nil {
		return nil, fmt.Errorf("inbound: create session for filter %q: %w", key, err)
	}

	m.registry.Register(sess)
	handler := mcpserver.NewStreamableHTTPServer(sess.MCPServer())
	m.handlers[key] = handler
	m.logger.Info("created inbound HTTP session", zap.String("filter", key), zap.String("session_id", sess.ID))
	return handler, nil
}

func filterKey(preset, tagFilter, tagsCSV string) string {
	switch {
	case preset != "":
		return "preset:" + preset
	case tagFilter != "":
		return "tag-filter:" + tagFilter
	case tagsCSV != "":
		return "tags:" + tagsCSV
	default:
		return "none"
	}
}
