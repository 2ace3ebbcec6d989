package oauthprovider

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CleanupInterval is how often the sweep runs, spec.md §6's "every 5
// minutes" for session/auth-code reclamation.
const CleanupInterval = 5 * time.Minute

// RunCleanupSweep deletes expired session_*/auth_code_* files and any
// client record left with an expired token and no refresh token (nothing
// would ever use it again). It runs once immediately, then every
// CleanupInterval until ctx is canceled.
func (p *Provider) RunCleanupSweep(ctx context.Context) {
	p.sweepOnce()
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

func (p *Provider) sweepOnce() {
	names, err := p.dir.List()
	if err != nil {
		p.logger.Warn("oauth cleanup sweep: list failed", zap.Error(err))
		return
	}

	now := time.Now().UnixMilli()
	removed := 0
	for _, name := range names {
		switch {
		case strings.HasPrefix(name, "session_"):
			var s session
			if err := p.dir.ReadJSON(name, &s); err == nil && now > s.ExpiresMs {
				if err := p.dir.Delete(name); err == nil {
					removed++
				}
			}
		case strings.HasPrefix(name, "auth_code_"):
			var ac authCode
			if err := p.dir.ReadJSON(name, &ac); err == nil && now > ac.ExpiresMs {
				if err := p.dir.Delete(name); err == nil {
					removed++
				}
			}
		case strings.HasPrefix(name, "client_"):
			var rec clientRecord
			if err := p.dir.ReadJSON(name, &rec); err == nil && isExpired(rec) {
				if err := p.dir.Delete(name); err == nil {
					removed++
				}
			}
		}
	}
	if removed > 0 {
		p.logger.Debug("oauth cleanup sweep removed expired artifacts", zap.Int("count", removed))
	}
}
