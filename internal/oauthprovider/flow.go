package oauthprovider

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/store"
)

// SessionTTL bounds how long a started-but-not-completed authorization
// session is kept before the cleanup sweep reclaims it.
const SessionTTL = 10 * time.Minute

// session is the JSON document persisted at sessions/session_<sessid>.json:
// one in-flight authorization-code request. State doubles as the OAuth
// "state" query parameter, so a callback handler can look the session back
// up directly by its file key.
type session struct {
	ID         string    `json:"id"`
	ServerName string    `json:"server_name"`
	State      string    `json:"state"`
	ExpiresMs  int64     `json:"expires"`
	CreatedAt  time.Time `json:"created_at"`
}

// authCode is the JSON document persisted at
// sessions/auth_code_<code>.json: one authorization code received from a
// callback, pending exchange for a token.
type authCode struct {
	Code       string    `json:"code"`
	SessionID  string    `json:"session_id"`
	ServerName string    `json:"server_name"`
	ExpiresMs  int64     `json:"expires"`
	ReceivedAt time.Time `json:"received_at"`
}

// Flow persists the session/auth-code bookkeeping an authorization-code
// exchange needs, independent of whatever drives the browser-facing side
// of the flow. A session's "state" is its own ID: good enough entropy for
// CSRF protection (ULIDs are 128 bits of randomness past their timestamp
// prefix) without a second random token to keep in sync.
type Flow struct {
	dir    *store.Dir
	logger *zap.Logger

	mu       sync.Mutex
	awaiting map[string]chan string // sessionID -> code, delivered once
}

func newFlow(dir *store.Dir, logger *zap.Logger) *Flow {
	return &Flow{
		dir:      dir,
		logger:   logger.Named("flow"),
		awaiting: map[string]chan string{},
	}
}

func sessionFileKey(id string) string  { return fmt.Sprintf("session_%s.json", id) }
func authCodeFileKey(id string) string { return fmt.Sprintf("auth_code_%s.json", id) }

// Begin starts a new authorization session for serverName and returns its
// ID (also used as the "state" parameter). The session row is persisted
// immediately so a process restart before the callback arrives still lets
// ReceiveCode find it.
func (f *Flow) Begin(serverName string) (*session, error) {
	id := newSessionID()
	s := &session{
		ID:         id,
		ServerName: serverName,
		State:      id,
		ExpiresMs:  time.Now().Add(SessionTTL).UnixMilli(),
		CreatedAt:  time.Now(),
	}
	if err := f.dir.WriteJSON(sessionFileKey(id), s); err != nil {
		return nil, fmt.Errorf("%w: persist oauth session: %v", errs.ErrStorage, err)
	}

	f.mu.Lock()
	f.awaiting[id] = make(chan string, 1)
	f.mu.Unlock()

	return s, nil
}

// ReceiveCode is called by the redirect callback handler with the "state"
// and "code" query parameters. It persists the auth code row and, if a
// goroutine is blocked in Wait for this session, delivers the code to it.
func (f *Flow) ReceiveCode(state, code string) error {
	var s session
	if err := f.dir.ReadJSON(sessionFileKey(state), &s); err != nil {
		return fmt.Errorf("%w: unknown or expired oauth session %q", errs.ErrNotFound, state)
	}
	if time.Now().UnixMilli() > s.ExpiresMs {
		_ = f.dir.Delete(sessionFileKey(state))
		return fmt.Errorf("%w: oauth session %q expired", errs.ErrNotFound, state)
	}

	codeID := newAuthCodeID()
	ac := &authCode{
		Code:       codeID,
		SessionID:  state,
		ServerName: s.ServerName,
		ExpiresMs:  time.Now().Add(SessionTTL).UnixMilli(),
		ReceivedAt: time.Now(),
	}
	if err := f.dir.WriteJSON(authCodeFileKey(codeID), ac); err != nil {
		return fmt.Errorf("%w: persist oauth auth code: %v", errs.ErrStorage, err)
	}

	f.mu.Lock()
	ch, ok := f.awaiting[state]
	f.mu.Unlock()
	if ok {
		select {
		case ch <- code:
		default:
		}
	}
	return nil
}

// Wait blocks until ReceiveCode delivers a code for sessionID, ctx is
// canceled, or timeout elapses, whichever comes first.
func (f *Flow) Wait(sessionID string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	ch, ok := f.awaiting[sessionID]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: no authorization session %q in progress", errs.ErrNotFound, sessionID)
	}

	select {
	case code := <-ch:
		f.mu.Lock()
		delete(f.awaiting, sessionID)
		f.mu.Unlock()
		return code, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("%w: timed out waiting for authorization code", errs.ErrCallTimeout)
	}
}
