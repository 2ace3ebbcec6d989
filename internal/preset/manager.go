package preset

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/outbound"
	"github.com/1mcp-ai/1mcp/internal/store"
	"github.com/1mcp-ai/1mcp/internal/tagquery"
	"go.uber.org/zap"
)

const presetsDir = "presets"
const indexFile = "index.json"

// Subscriber is invoked when a preset's definition changes or its matching
// server set changes (spec.md §4.8). The delta is zero-valued on a pure
// definition change with no membership movement.
type Subscriber func(name string, delta MembershipDelta)

// ConnectionSource is the read-only view of outbound state Test/recompute
// need: every registered connection's name, tags, and readiness.
type ConnectionSource interface {
	Connections() []*outbound.Connection
}

// Manager is the process-wide preset singleton. Call Initialize once at
// startup and Cleanup once at shutdown; Reset exists only for tests that
// need a fresh instance between cases.
type Manager struct {
	dir    *store.Dir
	source ConnectionSource
	logger *zap.Logger

	mu                  sync.Mutex
	index               map[string]indexEntry
	previousServerLists map[string][]string
	subscribers         map[string][]Subscriber
}

var (
	instanceMu sync.Mutex
	instance   *Manager
)

// Initialize constructs the process-wide preset manager rooted at dataDir
// and assigns it as the singleton returned by Get. Calling it twice without
// an intervening Reset replaces the previous instance.
func Initialize(dataDir string, source ConnectionSource, logger *zap.Logger) (*Manager, error) {
	dir, err := store.New(filepath.Join(dataDir, presetsDir))
	if err != nil {
		return nil, fmt.Errorf("%w: preset store: %v", errs.ErrStorage, err)
	}

	m := &Manager{
		dir:                 dir,
		source:              source,
		logger:              logger,
		index:               map[string]indexEntry{},
		previousServerLists: map[string][]string{},
		subscribers:         map[string][]Subscriber{},
	}

	if err := m.loadIndex(); err != nil {
		return nil, err
	}

	instanceMu.Lock()
	instance = m
	instanceMu.Unlock()

	return m, nil
}

// Get returns the process-wide singleton, or nil if Initialize has not run.
func Get() *Manager {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// Cleanup releases the singleton reference. The manager holds no
// goroutines or file handles across calls, so this is just unregistration.
func Cleanup() {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()
}

// Reset clears the singleton for test isolation between cases.
func Reset() {
	Cleanup()
}

func (m *Manager) loadIndex() error {
	if !m.dir.Exists(indexFile) {
		return nil
	}
	var entries []indexEntry
	if err := m.dir.ReadJSON(indexFile, &entries); err != nil {
		return fmt.Errorf("%w: preset index: %v", errs.ErrStorage, err)
	}
	for _, e := range entries {
		m.index[e.Name] = e
	}
	return nil
}

func (m *Manager) writeIndexLocked() error {
	entries := make([]indexEntry, 0, len(m.index))
	for _, e := range m.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	if err := m.dir.WriteJSON(indexFile, entries); err != nil {
		return fmt.Errorf("%w: preset index: %v", errs.ErrStorage, err)
	}
	return nil
}

func presetFile(name string) string { return name + ".json" }

// Save validates preset's tag query, writes it atomically, updates the
// index, and publishes a preset-saved notification to its subscribers.
func (m *Manager) Save(name string, p Preset) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: preset name is empty", errs.ErrValidation)
	}
	if _, err := tagquery.FromJSON(p.TagQuery); err != nil {
		return fmt.Errorf("%w: preset %s: invalid tag_query: %v", errs.ErrValidation, name, err)
	}

	p.Name = name
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	m.mu.Lock()
	if err := m.dir.WriteJSON(presetFile(name), p); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: preset %s: %v", errs.ErrStorage, name, err)
	}
	m.index[name] = indexEntry{Name: name, CreatedAt: p.CreatedAt}
	err := m.writeIndexLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.notify(name)
	return nil
}

// Get loads a preset by name.
func (m *Manager) Get(name string) (Preset, error) {
	var p Preset
	if err := m.dir.ReadJSON(presetFile(name), &p); err != nil {
		return Preset{}, fmt.Errorf("%w: preset %s", errs.ErrNotFound, name)
	}
	return p, nil
}

// List returns every preset name, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.index))
	for name := range m.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name has a saved preset.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[name]
	return ok
}

// Delete removes a preset, its index entry, and its subscribers.
func (m *Manager) Delete(name string) error {
	if err := m.dir.Delete(presetFile(name)); err != nil {
		return fmt.Errorf("%w: preset %s: %v", errs.ErrStorage, name, err)
	}

	m.mu.Lock()
	delete(m.index, name)
	delete(m.previousServerLists, name)
	delete(m.subscribers, name)
	err := m.writeIndexLocked()
	m.mu.Unlock()
	return err
}

// Test evaluates a preset's tag query against every currently Ready
// outbound connection and returns the sorted names that match.
func (m *Manager) Test(name string) ([]string, error) {
	p, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return m.matchingServers(p)
}

func (m *Manager) matchingServers(p Preset) ([]string, error) {
	node, err := tagquery.FromJSON(p.TagQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: preset %s: invalid tag_query: %v", errs.ErrValidation, p.Name, err)
	}

	var matched []string
	for _, conn := range m.source.Connections() {
		if !conn.State.IsReady() {
			continue
		}
		if tagquery.EvalSet(node, conn.Descriptor.Tags) {
			matched = append(matched, conn.Descriptor.Name)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Subscribe registers callback to fire on preset definition or membership
// changes. It returns an unsubscribe function a session calls on close.
func (m *Manager) Subscribe(name string, callback Subscriber) func() {
	m.mu.Lock()
	m.subscribers[name] = append(m.subscribers[name], callback)
	idx := len(m.subscribers[name]) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		subs := m.subscribers[name]
		if idx >= 0 && idx < len(subs) {
			subs[idx] = nil
		}
		m.mu.Unlock()
	}
}

// notify recomputes name's matching server set against its
// previousServerList and fires every live subscriber with the delta.
func (m *Manager) notify(name string) {
	p, err := m.Get(name)
	if err != nil {
		return
	}
	current, err := m.matchingServers(p)
	if err != nil {
		m.logger.Warn("preset membership recompute failed", zap.String("preset", name), zap.Error(err))
		return
	}

	m.mu.Lock()
	previous := m.previousServerLists[name]
	m.previousServerLists[name] = current
	subs := append([]Subscriber(nil), m.subscribers[name]...)
	m.mu.Unlock()

	delta := diffMembership(previous, current)
	for _, cb := range subs {
		if cb != nil {
			cb(name, delta)
		}
	}
}

// Recompute re-runs membership detection for every preset with at least
// one live subscriber, publishing a notification on any change. Callers
// (C11) invoke this after a capabilities-changed event.
func (m *Manager) Recompute() {
	m.mu.Lock()
	names := make([]string, 0, len(m.subscribers))
	for name, subs := range m.subscribers {
		if len(subs) > 0 {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		m.notify(name)
	}
}
