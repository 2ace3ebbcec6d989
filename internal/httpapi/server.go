// Package httpapi mounts the health surface (C13) and the inbound MCP
// transport on a chi.Mux, the same router library the teacher uses for
// its own management API.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/health"
)

// Server wires the health endpoints onto a chi.Mux. Inbound MCP transport
// mounting (stdio/HTTP/SSE via mark3labs/mcp-go) is attached by the
// caller onto the same Router, keeping one process-wide HTTP surface.
type Server struct {
	health *health.View
	logger *zap.Logger
	Router *chi.Mux
}

// NewServer builds a Server with the health routes already registered.
func NewServer(healthView *health.View, logger *zap.Logger) *Server {
	s := &Server{
		health: healthView,
		logger: logger.Named("httpapi"),
		Router: chi.NewRouter(),
	}
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(correlate)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Router.Get("/health/mcp", s.handleHealthSummary)
	s.Router.Get("/health/mcp/{name}", s.handleHealthServer)
}

// handleHealthSummary serves the aggregate {total, ready, loading, ...}
// view plus every outbound's row, spec.md §4.13's /health/mcp endpoint.
func (s *Server) handleHealthSummary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"summary": s.health.Summary(),
		"servers": s.health.All(),
	})
}

// handleHealthServer serves one outbound's row, spec.md §4.13's
// /health/mcp/:name endpoint.
func (s *Server) handleHealthServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	row, ok := s.health.Server(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no such outbound server: "+name)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
