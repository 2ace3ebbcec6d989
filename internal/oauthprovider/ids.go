package oauthprovider

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newULID mints a sortable, time-ordered identifier. Using ULIDs instead of
// bare UUIDs means the cleanup sweep (cleanup.go) can reason about rough
// creation order directly from the ID when it walks the session directory.
// The monotonic entropy source keeps IDs strictly increasing even when two
// are minted within the same millisecond.
func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// newSessionID mints a "sess-" prefixed ULID, the identifier spec.md §6
// uses for an in-flight authorization session file.
func newSessionID() string {
	return fmt.Sprintf("sess-%s", newULID())
}

// newAuthCodeID mints a "code-" prefixed ULID, the identifier spec.md §6
// uses for a received authorization code pending exchange.
func newAuthCodeID() string {
	return fmt.Sprintf("code-%s", newULID())
}
