// Package metrics mirrors the health surface (C13) as Prometheus
// gauges/counters, the same registry-per-manager shape the teacher's own
// observability package uses.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1mcp-ai/1mcp/internal/health"
)

// Manager owns a Prometheus registry and every metric this process
// publishes.
type Manager struct {
	registry *prometheus.Registry

	serversTotal         prometheus.Gauge
	serversReady         prometheus.Gauge
	serversLoading       prometheus.Gauge
	serversFailed        prometheus.Gauge
	serversAwaitingOAuth prometheus.Gauge
	successRate          prometheus.Gauge
	avgLoadTimeSeconds   prometheus.Gauge
	stateChanges         *prometheus.CounterVec
	toolCalls            *prometheus.CounterVec
	toolCallDuration     *prometheus.HistogramVec
	sessionsActive       prometheus.Gauge
}

// New builds a Manager with every metric registered.
func New() *Manager {
	registry := prometheus.NewRegistry()
	m := &Manager{registry: registry}
	m.initMetrics()
	m.register()
	return m
}

func (m *Manager) initMetrics() {
	m.serversTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_outbound_servers_total",
		Help: "Total number of configured outbound servers",
	})
	m.serversReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_outbound_servers_ready",
		Help: "Number of outbound servers in the Ready state",
	})
	m.serversLoading = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_outbound_servers_loading",
		Help: "Number of outbound servers still connecting",
	})
	m.serversFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_outbound_servers_failed",
		Help: "Number of outbound servers in the Failed state",
	})
	m.serversAwaitingOAuth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_outbound_servers_awaiting_oauth",
		Help: "Number of outbound servers waiting on OAuth authorization",
	})
	m.successRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_outbound_success_rate",
		Help: "Fraction of settled outbound servers that reached Ready",
	})
	m.avgLoadTimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_outbound_avg_load_time_seconds",
		Help: "Average time Ready outbound servers took to connect",
	})
	m.stateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onemcp_outbound_state_changes_total",
			Help: "Total number of outbound state transitions",
		},
		[]string{"server", "from_state", "to_state"},
	)
	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onemcp_tool_calls_total",
			Help: "Total number of tools/call requests routed to an outbound",
		},
		[]string{"server", "tool", "status"},
	)
	m.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onemcp_tool_call_duration_seconds",
			Help:    "Duration of routed tools/call requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "tool"},
	)
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onemcp_inbound_sessions_active",
		Help: "Number of currently connected inbound sessions",
	})
}

func (m *Manager) register() {
	m.registry.MustRegister(
		m.serversTotal,
		m.serversReady,
		m.serversLoading,
		m.serversFailed,
		m.serversAwaitingOAuth,
		m.successRate,
		m.avgLoadTimeSeconds,
		m.stateChanges,
		m.toolCalls,
		m.toolCallDuration,
		m.sessionsActive,
	)
}

// Handler returns the Prometheus scrape handler for this Manager's registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests that want to read
// metric values back out directly.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// SetFromSummary mirrors a health.Summary snapshot into the gauges,
// the periodic sync point between C13's read-only view and this package.
func (m *Manager) SetFromSummary(s health.Summary) {
	m.serversTotal.Set(float64(s.Total))
	m.serversReady.Set(float64(s.Ready))
	m.serversLoading.Set(float64(s.Loading))
	m.serversFailed.Set(float64(s.Failed))
	m.serversAwaitingOAuth.Set(float64(s.AwaitingOAuth))
	m.successRate.Set(s.SuccessRate)
	m.avgLoadTimeSeconds.Set(float64(s.AvgLoadTimeMs) / 1000.0)
}

// RecordStateChange increments the per-server state-transition counter.
func (m *Manager) RecordStateChange(server, fromState, toState string) {
	m.stateChanges.WithLabelValues(server, fromState, toState).Inc()
}

// RecordToolCall increments the per-server/tool call counter and observes
// its duration, status is "ok" or "error".
func (m *Manager) RecordToolCall(server, tool, status string, duration time.Duration) {
	m.toolCalls.WithLabelValues(server, tool, status).Inc()
	m.toolCallDuration.WithLabelValues(server, tool).Observe(duration.Seconds())
}

// SetActiveSessions sets the current inbound session count.
func (m *Manager) SetActiveSessions(n int) {
	m.sessionsActive.Set(float64(n))
}
