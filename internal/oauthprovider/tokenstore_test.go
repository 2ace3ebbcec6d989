package oauthprovider

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/store"
)

func newTestDir(t *testing.T) *store.Dir {
	t.Helper()
	dir, err := store.New(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestGetTokenReturnsErrNoTokenWhenNoneStored(t *testing.T) {
	ts := newPersistentTokenStore("alpha", newTestDir(t), zap.NewNop())
	tok, err := ts.GetToken(context.Background())
	assert.Nil(t, tok)
	assert.ErrorIs(t, err, mcptransport.ErrNoToken)
}

func TestSaveThenGetTokenRoundTrips(t *testing.T) {
	ts := newPersistentTokenStore("alpha", newTestDir(t), zap.NewNop())
	saved := &client.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scope:        "mcp.read mcp.write",
	}
	require.NoError(t, ts.SaveToken(context.Background(), saved))

	got, err := ts.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, "mcp.read mcp.write", got.Scope)
}

func TestGetTokenAppliesGracePeriodForLongLivedToken(t *testing.T) {
	ts := newPersistentTokenStore("alpha", newTestDir(t), zap.NewNop())
	expiresAt := time.Now().Add(time.Hour)
	require.NoError(t, ts.SaveToken(context.Background(), &client.Token{AccessToken: "a", ExpiresAt: expiresAt}))

	got, err := ts.GetToken(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, expiresAt.Add(-TokenRefreshGracePeriod), got.ExpiresAt, time.Second)
}

func TestGetTokenSkipsGracePeriodForShortLivedToken(t *testing.T) {
	ts := newPersistentTokenStore("alpha", newTestDir(t), zap.NewNop())
	expiresAt := time.Now().Add(30 * time.Second)
	require.NoError(t, ts.SaveToken(context.Background(), &client.Token{AccessToken: "a", ExpiresAt: expiresAt}))

	got, err := ts.GetToken(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, expiresAt, got.ExpiresAt, time.Second)
}

func TestSaveTokenPreservesClientCredentialsAcrossRefresh(t *testing.T) {
	dir := newTestDir(t)
	require.NoError(t, dir.WriteJSON(clientFileKey("alpha"), clientRecord{
		ClientID:     "client-abc",
		ClientSecret: "secret-xyz",
		RedirectURI:  "http://127.0.0.1:0/oauth/callback",
	}))

	ts := newPersistentTokenStore("alpha", dir, zap.NewNop())
	require.NoError(t, ts.SaveToken(context.Background(), &client.Token{AccessToken: "new-token", ExpiresAt: time.Now().Add(time.Hour)}))

	var rec clientRecord
	require.NoError(t, dir.ReadJSON(clientFileKey("alpha"), &rec))
	assert.Equal(t, "client-abc", rec.ClientID)
	assert.Equal(t, "secret-xyz", rec.ClientSecret)
	assert.Equal(t, "new-token", rec.AccessToken)
}

func TestResolveExpiryFallsBackToJWTExpClaim(t *testing.T) {
	// Header {"alg":"none"}, payload {"exp":9999999999} base64url-encoded,
	// unsigned — ParseUnverified only needs the claims to decode.
	jwtToken := "eyJhbGciOiJub25lIn0.eyJleHAiOjk5OTk5OTk5OTl9."
	got := resolveExpiry(&client.Token{AccessToken: jwtToken})
	assert.Equal(t, int64(9999999999), got.Unix())
}

func TestResolveExpiryReturnsZeroForUnparsableOpaqueToken(t *testing.T) {
	got := resolveExpiry(&client.Token{AccessToken: "opaque-token-not-a-jwt"})
	assert.True(t, got.IsZero())
}

func TestResolveExpiryPrefersExplicitExpiresAt(t *testing.T) {
	want := time.Now().Add(2 * time.Hour)
	got := resolveExpiry(&client.Token{AccessToken: "whatever", ExpiresAt: want})
	assert.Equal(t, want, got)
}

func TestIsExpiredFalseWithoutRefreshTokenButFutureExpiry(t *testing.T) {
	assert.False(t, isExpired(clientRecord{ExpiresAt: time.Now().Add(time.Hour)}))
}

func TestIsExpiredTrueWhenPastAndNoRefreshToken(t *testing.T) {
	assert.True(t, isExpired(clientRecord{ExpiresAt: time.Now().Add(-time.Hour)}))
}

func TestIsExpiredFalseWhenPastButHasRefreshToken(t *testing.T) {
	assert.False(t, isExpired(clientRecord{ExpiresAt: time.Now().Add(-time.Hour), RefreshToken: "r"}))
}
