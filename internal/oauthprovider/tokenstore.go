package oauthprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/store"
)

// TokenRefreshGracePeriod is how long before expiration a token is treated
// as due for refresh, so a call in flight never races an access token
// expiring mid-request.
const TokenRefreshGracePeriod = 5 * time.Minute

// clientRecord is the JSON document persisted at sessions/client_<name>.json:
// the outbound's registered OAuth client plus its current token, kept
// together so a token refresh never has to touch a second file to recover
// the client credentials dynamic registration produced.
type clientRecord struct {
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	RedirectURI  string    `json:"redirect_uri,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

func clientFileKey(serverName string) string {
	return fmt.Sprintf("client_%s.json", sanitizeName(serverName))
}

// persistentTokenStore implements client.TokenStore against the on-disk
// client record for one outbound server, the JSON-file equivalent of the
// teacher's BBolt-backed PersistentTokenStore.
type persistentTokenStore struct {
	serverName string
	dir        *store.Dir
	logger     *zap.Logger
}

func newPersistentTokenStore(serverName string, dir *store.Dir, logger *zap.Logger) client.TokenStore {
	return &persistentTokenStore{
		serverName: serverName,
		dir:        dir,
		logger:     logger.Named("token-store").With(zap.String("server", serverName)),
	}
}

func (p *persistentTokenStore) readRecord() (clientRecord, bool) {
	var rec clientRecord
	key := clientFileKey(p.serverName)
	if !p.dir.Exists(key) {
		return rec, false
	}
	if err := p.dir.ReadJSON(key, &rec); err != nil {
		p.logger.Warn("failed to read OAuth client record", zap.Error(err))
		return rec, false
	}
	return rec, true
}

// GetToken returns the stored token for this server, adjusted so a token
// within TokenRefreshGracePeriod of expiring is already reported expired
// (mcp-go refreshes eagerly rather than mid-call). Short-lived tokens whose
// entire remaining lifetime is under the grace period are returned as-is,
// since subtracting the grace period would make them appear expired the
// instant they are minted.
func (p *persistentTokenStore) GetToken(ctx context.Context) (*client.Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, ok := p.readRecord()
	if !ok || rec.AccessToken == "" {
		return nil, mcptransport.ErrNoToken
	}

	expiresAt := rec.ExpiresAt
	if remaining := time.Until(rec.ExpiresAt); remaining > TokenRefreshGracePeriod {
		expiresAt = rec.ExpiresAt.Add(-TokenRefreshGracePeriod)
	}

	return &client.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		ExpiresAt:    expiresAt,
		Scope:        rec.Scope,
	}, nil
}

// SaveToken persists token, preserving whatever client credentials and
// redirect URI dynamic client registration already stored for this server.
func (p *persistentTokenStore) SaveToken(ctx context.Context, token *client.Token) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	existing, _ := p.readRecord()
	now := time.Now()
	created := existing.Created
	if created.IsZero() {
		created = now
	}

	rec := clientRecord{
		ClientID:     existing.ClientID,
		ClientSecret: existing.ClientSecret,
		RedirectURI:  existing.RedirectURI,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    resolveExpiry(token),
		Scope:        token.Scope,
		Created:      created,
		Updated:      now,
	}

	if err := p.dir.WriteJSON(clientFileKey(p.serverName), rec); err != nil {
		return fmt.Errorf("%w: save oauth token for %s: %v", errs.ErrStorage, p.serverName, err)
	}
	p.logger.Debug("saved oauth token", zap.Time("expires_at", rec.ExpiresAt), zap.Bool("has_refresh_token", token.RefreshToken != ""))
	return nil
}

// resolveExpiry falls back to the access token's own "exp" JWT claim when
// the token response left ExpiresAt zero — some authorization servers omit
// expires_in for opaque-looking but still JWT-encoded access tokens.
func resolveExpiry(token *client.Token) time.Time {
	if !token.ExpiresAt.IsZero() {
		return token.ExpiresAt
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token.AccessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// isExpired reports whether a stored record's token has no remaining
// lifetime left at all, used by the cleanup sweep to decide whether a
// client record with no refresh token is worth keeping around.
func isExpired(rec clientRecord) bool {
	return !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) && strings.TrimSpace(rec.RefreshToken) == ""
}
