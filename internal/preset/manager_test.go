package preset

import (
	"testing"

	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/outbound"
	"github.com/1mcp-ai/1mcp/internal/tagquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource is a fixed, directly-constructed set of outbound connections
// used so preset tests never need to actually dial a transport.
type fakeSource struct {
	conns []*outbound.Connection
}

func (f *fakeSource) Connections() []*outbound.Connection { return f.conns }

func readyConnection(t *testing.T, name string, tags ...string) *outbound.Connection {
	t.Helper()
	conn := outbound.NewConnection(&config.OutboundServerDescriptor{Name: name, Tags: tags}, nil, nil, zap.NewNop())
	require.NoError(t, conn.State.TransitionTo(outbound.StateConnecting))
	require.NoError(t, conn.State.TransitionTo(outbound.StateReady))
	return conn
}

func failedConnection(t *testing.T, name string, tags ...string) *outbound.Connection {
	t.Helper()
	conn := outbound.NewConnection(&config.OutboundServerDescriptor{Name: name, Tags: tags}, nil, nil, zap.NewNop())
	require.NoError(t, conn.State.TransitionTo(outbound.StateConnecting))
	return conn
}

func orQuery(t *testing.T, tags ...string) []byte {
	t.Helper()
	var node tagquery.Node = tagquery.Tag{Name: tags[0]}
	if len(tags) > 1 {
		children := make([]tagquery.Node, len(tags))
		for i, tag := range tags {
			children[i] = tagquery.Tag{Name: tag}
		}
		node = tagquery.Or{Children: children}
	}
	data, err := tagquery.ToJSON(node)
	require.NoError(t, err)
	return data
}

func newTestManager(t *testing.T, source ConnectionSource) *Manager {
	t.Helper()
	m, err := Initialize(t.TempDir(), source, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(Reset)
	return m
}

func TestSaveThenGetRoundTrips(t *testing.T) {
	m := newTestManager(t, &fakeSource{})

	require.NoError(t, m.Save("dev", Preset{Strategy: StrategyOr, TagQuery: orQuery(t, "web", "api")}))

	got, err := m.Get("dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", got.Name)
	assert.Equal(t, StrategyOr, got.Strategy)
}

func TestSaveRejectsInvalidTagQuery(t *testing.T) {
	m := newTestManager(t, &fakeSource{})
	err := m.Save("broken", Preset{TagQuery: []byte("not json")})
	assert.Error(t, err)
}

func TestListReturnsSortedNames(t *testing.T) {
	m := newTestManager(t, &fakeSource{})
	require.NoError(t, m.Save("zeta", Preset{TagQuery: orQuery(t, "web")}))
	require.NoError(t, m.Save("alpha", Preset{TagQuery: orQuery(t, "web")}))

	assert.Equal(t, []string{"alpha", "zeta"}, m.List())
}

func TestHasAndDelete(t *testing.T) {
	m := newTestManager(t, &fakeSource{})
	require.NoError(t, m.Save("dev", Preset{TagQuery: orQuery(t, "web")}))
	assert.True(t, m.Has("dev"))

	require.NoError(t, m.Delete("dev"))
	assert.False(t, m.Has("dev"))

	_, err := m.Get("dev")
	assert.Error(t, err)
}

func TestTestReturnsOnlyReadyMatchingServers(t *testing.T) {
	source := &fakeSource{conns: []*outbound.Connection{
		readyConnection(t, "web-1", "web"),
		readyConnection(t, "db-1", "db"),
		failedConnection(t, "web-2", "web"),
	}}
	m := newTestManager(t, source)
	require.NoError(t, m.Save("web-only", Preset{TagQuery: orQuery(t, "web")}))

	servers, err := m.Test("web-only")
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1"}, servers)
}

func TestSubscribeFiresOnSaveWithMembershipDelta(t *testing.T) {
	source := &fakeSource{conns: []*outbound.Connection{
		readyConnection(t, "web-1", "web"),
	}}
	m := newTestManager(t, source)

	var gotDelta MembershipDelta
	var calls int
	m.Subscribe("dev", func(name string, delta MembershipDelta) {
		calls++
		gotDelta = delta
	})

	require.NoError(t, m.Save("dev", Preset{TagQuery: orQuery(t, "web")}))
	assert.Equal(t, 1, calls)
	assert.True(t, gotDelta.Changed)
	assert.Equal(t, []string{"web-1"}, gotDelta.Added)
}

func TestRecomputeDetectsNewlyReadyServer(t *testing.T) {
	source := &fakeSource{conns: []*outbound.Connection{}}
	m := newTestManager(t, source)
	require.NoError(t, m.Save("dev", Preset{TagQuery: orQuery(t, "api")}))

	var delta MembershipDelta
	m.Subscribe("dev", func(name string, d MembershipDelta) { delta = d })
	require.NoError(t, m.Save("dev", Preset{TagQuery: orQuery(t, "api")})) // baseline notify, empty -> empty

	source.conns = append(source.conns, readyConnection(t, "api-1", "api"))
	m.Recompute()

	assert.True(t, delta.Changed)
	assert.Equal(t, []string{"api-1"}, delta.Added)
}

func TestUnsubscribeStopsFurtherNotifications(t *testing.T) {
	m := newTestManager(t, &fakeSource{})
	require.NoError(t, m.Save("dev", Preset{TagQuery: orQuery(t, "web")}))

	var calls int
	unsubscribe := m.Subscribe("dev", func(string, MembershipDelta) { calls++ })
	unsubscribe()

	require.NoError(t, m.Save("dev", Preset{TagQuery: orQuery(t, "web")}))
	assert.Equal(t, 0, calls)
}

func TestGetReturnsNilBeforeInitialize(t *testing.T) {
	Reset()
	assert.Nil(t, Get())
}
