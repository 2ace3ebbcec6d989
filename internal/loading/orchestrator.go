// Package loading implements the async loading orchestrator (C5). It
// marks the inbound surface available the instant the process starts —
// the initial outbound dial pass and the background retry loop both run
// without the caller ever blocking on them — and drives the capability
// aggregator and notification fabric off the outbound manager's event
// stream instead.
package loading

import (
	"context"
	"sort"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/aggregator"
	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/outbound"
)

// DefaultBatchDelay is the per-recompute coalescing window spec.md §4.5
// specifies: a burst of outbound state-change events within this window
// triggers one aggregator recompute, not one per event.
const DefaultBatchDelay = 100 * time.Millisecond

// CapabilityObserver is the subset of the notification fabric (C11) the
// orchestrator drives after every capability recompute, named as a narrow
// interface so this package never needs to import internal/session.
type CapabilityObserver interface {
	OnCapabilitiesChanged(delta aggregator.Delta, snap aggregator.Snapshot)
}

// DialTracer opens a span around one outbound connect attempt, named as a
// narrow interface so this package never needs to import internal/tracing
// directly. Implemented by *tracing.Manager.
type DialTracer interface {
	StartDial(ctx context.Context, serverName string, attempt int) (context.Context, oteltrace.Span)
}

// Orchestrator wires an outbound.Manager's event stream to an
// aggregator.Aggregator recompute and a CapabilityObserver notification,
// and keeps a queryable view of every outbound's last known state —
// in particular AwaitingOAuth, which spec.md §4.5 calls out as a state
// the health surface and instructions must be able to see.
type Orchestrator struct {
	manager    *outbound.Manager
	aggregator *aggregator.Aggregator
	observer   CapabilityObserver
	tracer     DialTracer
	logger     *zap.Logger
	batchDelay time.Duration

	mu     sync.RWMutex
	latest map[string]outbound.Info
	spans  map[string]oteltrace.Span

	timerMu sync.Mutex
	timer   *time.Timer
}

// New builds an Orchestrator. observer may be nil, which simply skips the
// notification step (useful for health-only wiring or tests).
func New(manager *outbound.Manager, agg *aggregator.Aggregator, observer CapabilityObserver, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		manager:    manager,
		aggregator: agg,
		observer:   observer,
		logger:     logger.Named("loading"),
		batchDelay: DefaultBatchDelay,
		latest:     map[string]outbound.Info{},
		spans:      map[string]oteltrace.Span{},
	}
}

// WithTracer attaches a DialTracer, used going forward to span every
// connect attempt this Orchestrator observes. Safe to call before Start.
func (o *Orchestrator) WithTracer(tracer DialTracer) *Orchestrator {
	o.tracer = tracer
	return o
}

// Start kicks off the initial dial pass and the event-draining loop in the
// background and returns immediately — the inbound surface is available
// to accept sessions before a single outbound server has finished
// connecting (spec.md §8's fast-start property).
func (o *Orchestrator) Start(ctx context.Context, descriptors []*config.OutboundServerDescriptor) {
	go o.manager.Load(ctx, descriptors)
	go o.drain(ctx)
}

// drain reads outbound state-change events until the channel closes or ctx
// is canceled, recording each event's Info and scheduling a debounced
// capability recompute.
func (o *Orchestrator) drain(ctx context.Context) {
	events := o.manager.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.recordInfo(ev)
			o.scheduleRecompute(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) recordInfo(ev outbound.Event) {
	o.mu.Lock()
	o.latest[ev.ServerName] = ev.Info
	o.mu.Unlock()

	o.traceTransition(ev)
}

// traceTransition opens a dial span the moment a server enters
// StateConnecting and closes it on whatever terminal state follows
// (Ready, Failed, or AwaitingOAuth), recording the error on a Failed
// transition. A no-op when no tracer is attached.
func (o *Orchestrator) traceTransition(ev outbound.Event) {
	if o.tracer == nil {
		return
	}

	switch ev.Info.State {
	case outbound.StateConnecting:
		_, span := o.tracer.StartDial(context.Background(), ev.ServerName, ev.Info.RetryCount)
		o.mu.Lock()
		o.spans[ev.ServerName] = span
		o.mu.Unlock()

	case outbound.StateReady, outbound.StateFailed, outbound.StateAwaitingOAuth:
		o.mu.Lock()
		span, ok := o.spans[ev.ServerName]
		delete(o.spans, ev.ServerName)
		o.mu.Unlock()
		if !ok {
			return
		}
		if ev.Info.State == outbound.StateFailed && ev.Info.LastError != nil {
			span.RecordError(ev.Info.LastError)
		}
		span.End()
	}
}

// scheduleRecompute coalesces a burst of events within batchDelay into a
// single recompute, the same debounce shape internal/session's
// notification fabric uses for its own per-session batching.
func (o *Orchestrator) scheduleRecompute(ctx context.Context) {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.batchDelay, func() {
		o.recompute(ctx)
	})
}

func (o *Orchestrator) recompute(ctx context.Context) {
	prev := o.aggregator.Current()
	curr := o.aggregator.UpdateCapabilities(ctx)
	delta := aggregator.Diff(prev, curr)

	if !delta.Changed() {
		return
	}
	o.logger.Debug("capabilities changed",
		zap.Bool("tools", delta.ToolsChanged),
		zap.Bool("resources", delta.ResourcesChanged),
		zap.Bool("prompts", delta.PromptsChanged),
		zap.Bool("servers", delta.ServersChanged))

	if o.observer != nil {
		o.observer.OnCapabilitiesChanged(delta, curr)
	}
}

// States returns a snapshot of every outbound's last observed Info,
// keyed by server name.
func (o *Orchestrator) States() map[string]outbound.Info {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]outbound.Info, len(o.latest))
	for name, info := range o.latest {
		out[name] = info
	}
	return out
}

// AwaitingOAuth returns the sorted names of every outbound currently
// surfaced as AwaitingOAuth.
func (o *Orchestrator) AwaitingOAuth() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var names []string
	for name, info := range o.latest {
		if info.State == outbound.StateAwaitingOAuth {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
