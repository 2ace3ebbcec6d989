package outbound

import (
	"fmt"
	"sync"
	"time"
)

// State is one node of the C3 outbound connection state machine:
// Idle -> Connecting -> {Ready, Failed, AwaitingOAuth}; Ready -> {Disconnected, Failed};
// {Disconnected, Failed} -> Connecting (background retry).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateFailed
	StateAwaitingOAuth
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	case StateAwaitingOAuth:
		return "AwaitingOAuth"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// validTransitions enumerates SPEC_FULL.md §4.3's allowed edges.
var validTransitions = map[State][]State{
	StateIdle:          {StateConnecting},
	StateConnecting:    {StateReady, StateFailed, StateAwaitingOAuth, StateDisconnected},
	StateReady:         {StateDisconnected, StateFailed},
	StateFailed:        {StateConnecting, StateDisconnected},
	StateAwaitingOAuth: {StateConnecting, StateDisconnected},
	StateDisconnected:  {StateConnecting},
}

// Info is a point-in-time snapshot of a StateManager, handed to state-change
// callbacks and to the health surface (C13).
type Info struct {
	ServerName    string    `json:"server_name"`
	State         State     `json:"state"`
	LastError     error     `json:"last_error,omitempty"`
	RetryCount    int       `json:"retry_count"`
	LastRetryTime time.Time `json:"last_retry_time,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitempty"`
}

// ChangeFunc is invoked outside the StateManager's lock on every transition.
type ChangeFunc func(old, new State, info Info)

// StateManager owns the state of one outbound connection. Grounded on the
// validated-transition-map pattern, generalized from the teacher's six
// connect/discover-oriented states to SPEC_FULL.md's AwaitingOAuth-aware set.
type StateManager struct {
	mu          sync.RWMutex
	serverName  string
	state       State
	lastError   error
	retryCount  int
	lastRetry   time.Time
	connectedAt time.Time
	onChange    ChangeFunc
}

func NewStateManager(serverName string) *StateManager {
	return &StateManager{serverName: serverName, state: StateIdle}
}

func (sm *StateManager) SetChangeCallback(fn ChangeFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onChange = fn
}

func (sm *StateManager) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

func (sm *StateManager) Info() Info {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.infoLocked()
}

func (sm *StateManager) infoLocked() Info {
	return Info{
		ServerName:    sm.serverName,
		State:         sm.state,
		LastError:     sm.lastError,
		RetryCount:    sm.retryCount,
		LastRetryTime: sm.lastRetry,
		ConnectedAt:   sm.connectedAt,
	}
}

// ValidateTransition reports whether from -> to is one of the edges
// SPEC_FULL.md §4.3 allows.
func ValidateTransition(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("invalid source state %s", from)
	}
	for _, candidate := range allowed {
		if candidate == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}

// TransitionTo moves to newState, rejecting edges ValidateTransition
// disallows. Entering Ready clears the error and retry count; leaving Ready
// is the caller's responsibility to propagate into the aggregator
// (internal/aggregator marks its snapshot dirty on the callback).
func (sm *StateManager) TransitionTo(newState State) error {
	sm.mu.Lock()
	old := sm.state
	if err := ValidateTransition(old, newState); err != nil {
		sm.mu.Unlock()
		return err
	}

	sm.state = newState
	switch newState {
	case StateReady:
		sm.lastError = nil
		sm.retryCount = 0
		sm.connectedAt = time.Now()
	case StateDisconnected:
		sm.connectedAt = time.Time{}
	}

	info := sm.infoLocked()
	callback := sm.onChange
	sm.mu.Unlock()

	if callback != nil {
		callback(old, newState, info)
	}
	return nil
}

// SetError records a dial/runtime failure and transitions to Failed,
// incrementing the retry counter for ShouldRetry's backoff calculation.
func (sm *StateManager) SetError(err error) {
	sm.mu.Lock()
	old := sm.state
	sm.state = StateFailed
	sm.lastError = err
	sm.retryCount++
	sm.lastRetry = time.Now()
	info := sm.infoLocked()
	callback := sm.onChange
	sm.mu.Unlock()

	if callback != nil {
		callback(old, StateFailed, info)
	}
}

func (sm *StateManager) IsReady() bool {
	return sm.State() == StateReady
}

func (sm *StateManager) IsTerminalForRetry() bool {
	switch sm.State() {
	case StateFailed, StateDisconnected:
		return true
	default:
		return false
	}
}

// RetryCount returns the number of consecutive failures recorded since the
// last Ready transition.
func (sm *StateManager) RetryCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.retryCount
}
