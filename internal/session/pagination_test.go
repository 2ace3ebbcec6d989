package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginateFirstPageWithinOneGroup(t *testing.T) {
	groups := []serverGroup{{Server: "a", Items: []string{"1", "2", "3"}}}
	items, next, err := Paginate(groups, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, items)
	assert.NotEmpty(t, next)
}

func TestPaginateResumesFromCursor(t *testing.T) {
	groups := []serverGroup{{Server: "a", Items: []string{"1", "2", "3"}}}
	_, next, err := Paginate(groups, "", 2)
	require.NoError(t, err)

	items, next2, err := Paginate(groups, next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, items)
	assert.Empty(t, next2)
}

func TestPaginateCrossesGroupBoundary(t *testing.T) {
	groups := []serverGroup{
		{Server: "a", Items: []string{"1", "2"}},
		{Server: "b", Items: []string{"3", "4"}},
	}
	items, next, err := Paginate(groups, "", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, items)

	items2, next2, err := Paginate(groups, next, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, items2)
	assert.Empty(t, next2)
}

func TestPaginateEmptyGroupsReturnsNoItemsNoCursor(t *testing.T) {
	items, next, err := Paginate(nil, "", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, next)
}

func TestPaginateRejectsMalformedCursor(t *testing.T) {
	groups := []serverGroup{{Server: "a", Items: []string{"1"}}}
	_, _, err := Paginate(groups, "not-a-cursor!!", 10)
	assert.Error(t, err)
}

func TestPaginateZeroOrNegativePageSizeUsesDefault(t *testing.T) {
	groups := []serverGroup{{Server: "a", Items: []string{"1", "2"}}}
	items, _, err := Paginate(groups, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, items)
}
