package outbound

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/secureenv"
	"github.com/1mcp-ai/1mcp/internal/transport"
)

// Event is emitted on every observable lifecycle transition, consumed by
// the async loading orchestrator (C5) to drive listChanged batching and by
// the health surface (C13) for its read-only view.
type Event struct {
	ServerName string
	Old        State
	New        State
	Info       Info
}

// Manager is the C4 loading manager: bounded-parallel initial dial over a
// set of descriptors, then a background retry loop for anything left in
// Failed/AwaitingOAuth. Registry mutation (add/remove connections) is
// confined to this type; every other package only reads through Connections/Get.
type Manager struct {
	opts       config.LoadOptions
	envManager *secureenv.Manager
	oauth      transport.OAuthTokenSource
	logger     *zap.Logger

	mu          sync.RWMutex
	connections map[string]*Connection

	events   chan Event
	sem      chan struct{}
	cancel   context.CancelFunc
	retryWg  sync.WaitGroup
	dialWg   sync.WaitGroup
	stopOnce sync.Once
}

// NewManager builds a loading manager. events must be drained by the
// caller (C5); it is a bounded, drop-oldest channel so a stalled consumer
// never blocks the dial path.
func NewManager(opts config.LoadOptions, envManager *secureenv.Manager, oauth transport.OAuthTokenSource, logger *zap.Logger) *Manager {
	return &Manager{
		opts:        opts,
		envManager:  envManager,
		oauth:       oauth,
		logger:      logger.Named("loading-manager"),
		connections: make(map[string]*Connection),
		events:      make(chan Event, 256),
		sem:         make(chan struct{}, maxInt(opts.MaxConcurrentLoads, 1)),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Events returns the channel Manager publishes state-change events on.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Load registers descriptors and performs the bounded-parallel initial
// dial pass (§4.4). Disabled descriptors are skipped entirely — no
// Connection is created for them. Background retry starts after Load
// returns and runs until Shutdown.
func (m *Manager) Load(ctx context.Context, descriptors []*config.OutboundServerDescriptor) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	names := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		if desc.Disabled {
			continue
		}
		conn := NewConnection(desc, m.envManager, m.oauth, m.logger)
		conn.State.SetChangeCallback(m.publish(desc.Name))

		m.mu.Lock()
		m.connections[desc.Name] = conn
		m.mu.Unlock()
		names = append(names, desc.Name)
	}

	m.dialWg.Add(len(names))
	for _, name := range names {
		go func(name string) {
			defer m.dialWg.Done()
			m.dialWithRetry(runCtx, name, m.opts.MaxRetries)
		}(name)
	}
	m.dialWg.Wait()

	m.retryWg.Add(1)
	go m.backgroundRetryLoop(runCtx)
}

func (m *Manager) publish(serverName string) ChangeFunc {
	return func(old, new State, info Info) {
		select {
		case m.events <- Event{ServerName: serverName, Old: old, New: new, Info: info}:
		default:
			m.logger.Debug("event channel full, dropping", zap.String("server", serverName))
		}
	}
}

// dialWithRetry performs up to maxRetries initial dial attempts with
// exponential backoff + jitter, gated by the bounded semaphore.
func (m *Manager) dialWithRetry(ctx context.Context, name string, maxRetries int) {
	conn := m.Get(name)
	if conn == nil {
		return
	}

	delay := m.opts.RetryDelay()
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case m.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		err := conn.Connect(ctx, m.opts.ServerTimeout(), m.onExit(name))
		<-m.sem

		if err == nil {
			return
		}
		if conn.State.State() == StateAwaitingOAuth {
			return
		}
		if attempt == maxRetries {
			return
		}

		wait := transport.Jitter(delay, m.opts.RetryJitterFraction)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		delay = time.Duration(float64(delay) * m.opts.RetryBackoffFactor)
		if max := m.opts.RetryDelayMax(); delay > max {
			delay = max
		}
	}
}

func (m *Manager) onExit(name string) transport.ExitFunc {
	return func(err error) {
		conn := m.Get(name)
		if conn == nil {
			return
		}
		if err != nil {
			conn.State.SetError(err)
			return
		}
		// nil err from RestartableStdio means the restart window elapsed;
		// the background retry loop picks this connection back up on its
		// next tick since it is now sitting in Failed/Disconnected.
	}
}

// backgroundRetryLoop periodically re-dials anything left in Failed or
// AwaitingOAuth, respecting each connection's own exponential backoff via
// the state manager's retry count.
func (m *Manager) backgroundRetryLoop(ctx context.Context) {
	defer m.retryWg.Done()

	ticker := time.NewTicker(m.opts.BackgroundRetryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.retryFailed(ctx)
		}
	}
}

func (m *Manager) retryFailed(ctx context.Context) {
	for _, conn := range m.snapshotConnections() {
		if conn.State.State() != StateFailed {
			continue
		}
		if !m.shouldRetryNow(conn) {
			continue
		}

		select {
		case m.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(c *Connection) {
			defer func() { <-m.sem }()
			_ = c.Connect(ctx, m.opts.ServerTimeout(), m.onExit(c.Descriptor.Name))
		}(conn)
	}
}

// shouldRetryNow applies the same exponential-backoff shape as the initial
// dial phase, keyed off time since the last recorded failure.
func (m *Manager) shouldRetryNow(conn *Connection) bool {
	info := conn.State.Info()
	if info.RetryCount == 0 {
		return true
	}
	delay := m.opts.RetryDelay()
	for i := 1; i < info.RetryCount; i++ {
		delay = time.Duration(float64(delay) * m.opts.RetryBackoffFactor)
		if max := m.opts.RetryDelayMax(); delay > max {
			delay = max
			break
		}
	}
	return time.Since(info.LastRetryTime) >= delay
}

// NewManagerForTesting builds a Manager pre-populated with conns and no
// background retry loop, for packages that need a realistic *Manager
// without dialing a real transport (the router and its session callers).
func NewManagerForTesting(conns ...*Connection) *Manager {
	m := &Manager{
		logger:      zap.NewNop(),
		connections: make(map[string]*Connection, len(conns)),
		events:      make(chan Event, 16),
	}
	for _, c := range conns {
		m.connections[c.Descriptor.Name] = c
	}
	return m
}

// Get returns the connection for name, or nil if unknown.
func (m *Manager) Get(name string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connections[name]
}

// Connections returns every registered connection, sorted by server name —
// callers that need deterministic de-dup order (C6) rely on this.
func (m *Manager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Connection, 0, len(names))
	for _, name := range names {
		out = append(out, m.connections[name])
	}
	return out
}

func (m *Manager) snapshotConnections() []*Connection {
	return m.Connections()
}

// Shutdown cancels the background retry loop, waits up to ShutdownGrace for
// in-flight dials to settle, then closes every transport.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}

		done := make(chan struct{})
		go func() {
			m.dialWg.Wait()
			m.retryWg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(m.opts.ShutdownGrace()):
			m.logger.Warn("shutdown grace period elapsed with goroutines still running")
		}

		for _, conn := range m.Connections() {
			_ = conn.Disconnect()
		}
		close(m.events)
	})
}
