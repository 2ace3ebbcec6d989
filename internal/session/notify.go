package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/aggregator"
	"github.com/1mcp-ai/1mcp/internal/preset"
)

// BatchDelay is the per-session, per-category notification coalescing
// window spec.md §4.11 specifies.
const BatchDelay = 100 * time.Millisecond

const (
	notifyToolsListChanged     = "notifications/tools/list_changed"
	notifyResourcesListChanged = "notifications/resources/list_changed"
	notifyPromptsListChanged   = "notifications/prompts/list_changed"
)

// Fabric is C11: it watches the shared aggregator for capability changes
// and preset definitions for membership changes, and fans listChanged
// notifications out to every affected session, debounced per session per
// category.
type Fabric struct {
	registry *Registry
	presets  PresetEvaluator
	logger   *zap.Logger

	mu        sync.Mutex
	debouncer map[string]map[string]*time.Timer // sessionID -> category -> pending timer
}

// NewFabric wires a Fabric to the process session registry and preset
// evaluator (nil if presets aren't configured).
func NewFabric(registry *Registry, presets PresetEvaluator, logger *zap.Logger) *Fabric {
	return &Fabric{
		registry:  registry,
		presets:   presets,
		logger:    logger,
		debouncer: map[string]map[string]*time.Timer{},
	}
}

// OnCapabilitiesChanged recomputes every session's admitted set against
// the new snapshot and notifies the ones whose visible set moved, per
// spec.md §4.11's delta/visible-item-intersection rule.
func (f *Fabric) OnCapabilitiesChanged(delta aggregator.Delta, _ aggregator.Snapshot) {
	if !delta.Changed() {
		return
	}
	for _, s := range f.registry.All() {
		before := s.Allowed()
		if err := s.RecomputeAllowed(f.presets); err != nil {
			f.logger.Warn("recompute allowed failed", zap.String("session", s.ID), zap.Error(err))
			continue
		}
		after := s.Allowed()

		if !sameSet(before, after) || delta.ToolsChanged {
			f.schedule(s, "tools", notifyToolsListChanged)
		}
		if !sameSet(before, after) || delta.ResourcesChanged {
			f.schedule(s, "resources", notifyResourcesListChanged)
		}
		if !sameSet(before, after) || delta.PromptsChanged {
			f.schedule(s, "prompts", notifyPromptsListChanged)
		}
	}
}

// OnPresetMembershipChanged applies the same listChanged treatment to
// every session bound to the preset named name (spec.md §4.11).
func (f *Fabric) OnPresetMembershipChanged(name string, delta preset.MembershipDelta) {
	if !delta.Changed {
		return
	}
	for _, s := range f.registry.All() {
		if s.filter.Kind != FilterPreset || s.filter.PresetName != name {
			continue
		}
		if err := s.RecomputeAllowed(f.presets); err != nil {
			f.logger.Warn("recompute allowed failed", zap.String("session", s.ID), zap.Error(err))
			continue
		}
		f.schedule(s, "tools", notifyToolsListChanged)
		f.schedule(s, "resources", notifyResourcesListChanged)
		f.schedule(s, "prompts", notifyPromptsListChanged)
	}
}

// schedule debounces one notification method for one session, coalescing
// repeated triggers within BatchDelay into a single send.
func (f *Fabric) schedule(s *Session, category, method string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.debouncer[s.ID]; !ok {
		f.debouncer[s.ID] = map[string]*time.Timer{}
	}
	if existing, pending := f.debouncer[s.ID][category]; pending {
		existing.Stop()
	}

	f.debouncer[s.ID][category] = time.AfterFunc(BatchDelay, func() {
		s.registerTools()
		s.server.SendNotificationToAllClients(method, nil)

		f.mu.Lock()
		delete(f.debouncer[s.ID], category)
		f.mu.Unlock()
	})
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
