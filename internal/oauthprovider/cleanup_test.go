package oauthprovider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceRemovesExpiredSessionFile(t *testing.T) {
	p := newTestProvider(t)
	s, err := p.flow.Begin("alpha")
	require.NoError(t, err)

	s.ExpiresMs = time.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, p.dir.WriteJSON(sessionFileKey(s.ID), s))

	p.sweepOnce()
	assert.False(t, p.dir.Exists(sessionFileKey(s.ID)))
}

func TestSweepOnceKeepsLiveSessionFile(t *testing.T) {
	p := newTestProvider(t)
	s, err := p.flow.Begin("alpha")
	require.NoError(t, err)

	p.sweepOnce()
	assert.True(t, p.dir.Exists(sessionFileKey(s.ID)))
}

func TestSweepOnceRemovesExpiredAuthCodeFile(t *testing.T) {
	p := newTestProvider(t)
	s, err := p.flow.Begin("alpha")
	require.NoError(t, err)
	require.NoError(t, p.flow.ReceiveCode(s.State, "incoming-code"))

	names, err := p.dir.List()
	require.NoError(t, err)
	var codeKey string
	for _, n := range names {
		if len(n) > len("auth_code_") && n[:len("auth_code_")] == "auth_code_" {
			codeKey = n
		}
	}
	require.NotEmpty(t, codeKey)

	var ac authCode
	require.NoError(t, p.dir.ReadJSON(codeKey, &ac))
	ac.ExpiresMs = time.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, p.dir.WriteJSON(codeKey, ac))

	p.sweepOnce()
	assert.False(t, p.dir.Exists(codeKey))
}

func TestSweepOnceRemovesExpiredTokenlessClientRecord(t *testing.T) {
	p := newTestProvider(t)
	require.NoError(t, p.dir.WriteJSON(clientFileKey("alpha"), clientRecord{
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}))

	p.sweepOnce()
	assert.False(t, p.HasToken("alpha"))
}

func TestSweepOnceKeepsExpiredClientRecordWithRefreshToken(t *testing.T) {
	p := newTestProvider(t)
	require.NoError(t, p.dir.WriteJSON(clientFileKey("alpha"), clientRecord{
		AccessToken:  "stale",
		RefreshToken: "still-good",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	p.sweepOnce()
	assert.True(t, p.HasToken("alpha"))
}
