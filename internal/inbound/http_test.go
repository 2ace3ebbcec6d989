package inbound

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/aggregator"
	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/outbound"
	"github.com/1mcp-ai/1mcp/internal/session"
)

type noPresets struct{}

func (noPresets) Test(name string) ([]string, error) { return nil, nil }

func newTestMux(t *testing.T) *Mux {
	conn := outbound.NewConnection(&config.OutboundServerDescriptor{Name: "fixture"}, nil, nil, zap.NewNop())
	mgr := outbound.NewManagerForTesting(conn)
	agg := aggregator.New(mgr, zap.NewNop())
	router := session.NewRouter(agg, mgr, zap.NewNop())
	registry := session.NewRegistry()
	return NewMux(registry, router, noPresets{}, false, "", zap.NewNop())
}

func TestFilterKeyPrefersPresetOverTagFilterOverTags(t *testing.T) {
	assert.Equal(t, "preset:work", filterKey("work", "a AND b", "x,y"))
	assert.Equal(t, "tag-filter:a AND b", filterKey("", "a AND b", "x,y"))
	assert.Equal(t, "tags:x,y", filterKey("", "", "x,y"))
	assert.Equal(t, "none", filterKey("", "", ""))
}

func TestServeHTTPRejectsInvalidTagFilterExpression(t *testing.T) {
	mux := newTestMux(t)
	req := httptest.NewRequest(http.MethodGet, "/?tag-filter=(((", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerForCachesByFilterKey(t *testing.T) {
	mux := newTestMux(t)

	h1, err := mux.handlerFor("none", session.NoFilter())
	require.NoError(t, err)
	h2, err := mux.handlerFor("none", session.NoFilter())
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, mux.registry.Count())
}

func TestHandlerForCreatesDistinctSessionsPerFilterKey(t *testing.T) {
	mux := newTestMux(t)

	_, err := mux.handlerFor("none", session.NoFilter())
	require.NoError(t, err)
	_, err = mux.handlerFor("tags:fixture", session.Filter{Kind: session.FilterSimpleTags, Tags: []string{"fixture"}})
	require.NoError(t, err)

	assert.Equal(t, 2, mux.registry.Count())
}
