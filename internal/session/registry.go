package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide table of connected inbound sessions, used
// by the notification fabric (C11) to fan events out and by the health
// surface to report active session counts.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// NewSessionID returns a fresh session identity (spec.md §3: UUID via
// google/uuid).
func NewSessionID() string { return uuid.NewString() }

// Register adds s, keyed by its SessionID.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Unregister removes a session by ID. Removing an unknown ID is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session for id, or nil if not registered.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// All returns every registered session, unordered.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
