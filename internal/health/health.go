// Package health implements the C13 health surface: a read-only view over
// the outbound connection state machine (C3) and loading manager (C4),
// with no mutation path of its own.
package health

import (
	"time"

	"github.com/1mcp-ai/1mcp/internal/outbound"
)

// ServerStatus is one outbound's health row, matching spec.md §4.13's
// {name, state, duration_ms, retry_count, last_error?, message} shape.
type ServerStatus struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	DurationMs int64  `json:"duration_ms"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	Message    string `json:"message"`
}

// Summary is the aggregate view across every outbound.
type Summary struct {
	Total         int     `json:"total"`
	Ready         int     `json:"ready"`
	Loading       int     `json:"loading"`
	Failed        int     `json:"failed"`
	AwaitingOAuth int     `json:"awaiting_oauth"`
	AvgLoadTimeMs int64   `json:"avg_load_time_ms"`
	SuccessRate   float64 `json:"success_rate"`
	IsComplete    bool    `json:"is_complete"`
}

// ConnectionSource is the read-only slice of *outbound.Manager this
// package needs, named as an interface so tests can substitute a fixed
// set of connections without standing up a real manager.
type ConnectionSource interface {
	Connections() []*outbound.Connection
	Get(name string) *outbound.Connection
}

// View computes health rows and the aggregate summary from a
// ConnectionSource's current connections, at call time — there is no
// cached state to go stale here, only whatever Connections()/Get()
// return right now.
type View struct {
	source ConnectionSource
}

// New builds a View over source.
func New(source ConnectionSource) *View {
	return &View{source: source}
}

// Server returns the health row for name, or false if no outbound by that
// name is registered.
func (v *View) Server(name string) (ServerStatus, bool) {
	conn := v.source.Get(name)
	if conn == nil {
		return ServerStatus{}, false
	}
	return rowFor(conn), true
}

// All returns every outbound's health row, in Connections()'s sorted order.
func (v *View) All() []ServerStatus {
	conns := v.source.Connections()
	rows := make([]ServerStatus, len(conns))
	for i, conn := range conns {
		rows[i] = rowFor(conn)
	}
	return rows
}

// Summary computes the aggregate stats spec.md §4.13 specifies across
// every registered outbound.
func (v *View) Summary() Summary {
	conns := v.source.Connections()
	sum := Summary{Total: len(conns)}
	if sum.Total == 0 {
		sum.IsComplete = true
		return sum
	}

	var loadDurations []time.Duration
	settled := 0

	for _, conn := range conns {
		info := conn.State.Info()
		switch info.State {
		case outbound.StateReady:
			sum.Ready++
			settled++
			if !info.ConnectedAt.IsZero() {
				loadDurations = append(loadDurations, time.Since(info.ConnectedAt))
			}
		case outbound.StateFailed:
			sum.Failed++
			settled++
		case outbound.StateAwaitingOAuth:
			sum.AwaitingOAuth++
			settled++
		default:
			sum.Loading++
		}
	}

	if len(loadDurations) > 0 {
		var total time.Duration
		for _, d := range loadDurations {
			total += d
		}
		sum.AvgLoadTimeMs = (total / time.Duration(len(loadDurations))).Milliseconds()
	}
	if settled > 0 {
		sum.SuccessRate = float64(sum.Ready) / float64(settled)
	}
	sum.IsComplete = sum.Loading == 0

	return sum
}

func rowFor(conn *outbound.Connection) ServerStatus {
	info := conn.State.Info()
	row := ServerStatus{
		Name:       info.ServerName,
		State:      info.State.String(),
		RetryCount: info.RetryCount,
	}
	if info.State == outbound.StateReady && !info.ConnectedAt.IsZero() {
		row.DurationMs = time.Since(info.ConnectedAt).Milliseconds()
	}
	if info.LastError != nil {
		row.LastError = info.LastError.Error()
	}
	row.Message = messageFor(info.State)
	return row
}

func messageFor(s outbound.State) string {
	switch s {
	case outbound.StateReady:
		return "connected"
	case outbound.StateFailed:
		return "connection failed"
	case outbound.StateAwaitingOAuth:
		return "awaiting OAuth authorization"
	case outbound.StateConnecting:
		return "connecting"
	case outbound.StateDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}
