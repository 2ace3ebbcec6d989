package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-ai/1mcp/internal/aggregator"
)

type stubPresets struct {
	names map[string][]string
	err   error
}

func (s *stubPresets) Test(name string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.names[name], nil
}

func snapWith(names ...string) aggregator.Snapshot {
	return aggregator.Snapshot{ReadyServerNames: names}
}

func TestParseFilterPrecedencePresetOverTagFilterOverTagsCSV(t *testing.T) {
	f, err := ParseFilter("dev", "tag-filter-expr", "a,b")
	require.NoError(t, err)
	assert.Equal(t, FilterPreset, f.Kind)
	assert.Equal(t, "dev", f.PresetName)
}

func TestParseFilterFallsBackToTagFilterWhenNoPreset(t *testing.T) {
	f, err := ParseFilter("", "web", "")
	require.NoError(t, err)
	assert.Equal(t, FilterExpr, f.Kind)
}

func TestParseFilterFallsBackToTagsCSV(t *testing.T) {
	f, err := ParseFilter("", "", "web,api")
	require.NoError(t, err)
	assert.Equal(t, FilterSimpleTags, f.Kind)
	assert.Equal(t, []string{"web", "api"}, f.Tags)
}

func TestParseFilterNoneWhenAllEmpty(t *testing.T) {
	f, err := ParseFilter("", "", "")
	require.NoError(t, err)
	assert.Equal(t, FilterNone, f.Kind)
}

func TestParseFilterRejectsInvalidTagExpression(t *testing.T) {
	_, err := ParseFilter("", "(((", "")
	assert.Error(t, err)
}

func TestAllowedNoneAdmitsEveryReadyServer(t *testing.T) {
	allowed, err := Allowed(NoFilter(), snapWith("a", "b"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, allowed)
}

func TestAllowedTagExprFiltersByServerTags(t *testing.T) {
	f, err := ParseFilter("", "web", "")
	require.NoError(t, err)

	tagsByServer := map[string][]string{"a": {"web"}, "b": {"db"}}
	allowed, err := Allowed(f, snapWith("a", "b"), tagsByServer, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, allowed)
}

func TestAllowedPresetDelegatesToEvaluator(t *testing.T) {
	f := Filter{Kind: FilterPreset, PresetName: "dev"}
	presets := &stubPresets{names: map[string][]string{"dev": {"a"}}}
	allowed, err := Allowed(f, snapWith("a", "b"), nil, presets)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, allowed)
}

func TestAllowedPresetWithoutEvaluatorErrors(t *testing.T) {
	f := Filter{Kind: FilterPreset, PresetName: "dev"}
	_, err := Allowed(f, snapWith("a"), nil, nil)
	assert.Error(t, err)
}

func TestAllowedPresetPropagatesEvaluatorError(t *testing.T) {
	f := Filter{Kind: FilterPreset, PresetName: "dev"}
	presets := &stubPresets{err: errors.New("preset not found")}
	_, err := Allowed(f, snapWith("a"), nil, presets)
	assert.Error(t, err)
}
