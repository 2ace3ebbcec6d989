package tagquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleCommaFormIsOrOfLeaves(t *testing.T) {
	n, err := Parse("web, api, db")
	require.NoError(t, err)

	or, ok := n.(Or)
	require.True(t, ok)
	assert.Len(t, or.Children, 3)

	assert.True(t, EvalSet(n, []string{"api"}))
	assert.False(t, EvalSet(n, []string{"other"}))
}

func TestParseNaturalSymbolicCompactAreEquivalent(t *testing.T) {
	forms := []string{
		"web and (api or db) not test",
		"web && (api || db) !test",
		"web+(api,db)-test",
	}
	tagsThatMatch := []string{"web", "api"}
	tagsThatDontMatch := []string{"web", "api", "test"}

	for _, form := range forms {
		n, err := Parse(form)
		require.NoError(t, err, form)
		assert.True(t, EvalSet(n, tagsThatMatch), form)
		assert.False(t, EvalSet(n, tagsThatDontMatch), form)
	}
}

func TestParsePrecedenceOrLowerThanAnd(t *testing.T) {
	n, err := Parse("a or b and c")
	require.NoError(t, err)

	// "a or (b and c)": matches on {a} alone, but {b} alone must not match.
	assert.True(t, EvalSet(n, []string{"a"}))
	assert.False(t, EvalSet(n, []string{"b"}))
	assert.True(t, EvalSet(n, []string{"b", "c"}))
}

func TestParseNotBindsTighterThanAnd(t *testing.T) {
	n, err := Parse("not a and b")
	require.NoError(t, err)

	// "(not a) and b": true only when a is absent and b is present.
	assert.True(t, EvalSet(n, []string{"b"}))
	assert.False(t, EvalSet(n, []string{"a", "b"}))
}

func TestParseHyphenInTagNameIsPreservedNotTreatedAsNot(t *testing.T) {
	n, err := Parse("my-tag")
	require.NoError(t, err)
	tag, ok := n.(Tag)
	require.True(t, ok)
	assert.Equal(t, "my-tag", tag.Name)
}

func TestParseCompactNotRequiresOperatorPosition(t *testing.T) {
	n, err := Parse("a,-b")
	require.NoError(t, err)
	assert.True(t, EvalSet(n, []string{"a"}))
	assert.False(t, EvalSet(n, []string{"a", "b"}))
}

func TestParseUnbalancedParensFails(t *testing.T) {
	_, err := Parse("(web and api")
	assert.Error(t, err)
}

func TestParseDanglingOperatorFails(t *testing.T) {
	_, err := Parse("web and")
	assert.Error(t, err)
}

func TestParseCaseFoldsTagNames(t *testing.T) {
	n, err := Parse("WEB")
	require.NoError(t, err)
	assert.True(t, EvalSet(n, []string{"web"}))
}

func TestEmptyAndEvalsTrueEmptyOrEvalsFalse(t *testing.T) {
	assert.True(t, And{}.Eval(nil))
	assert.False(t, Or{}.Eval(nil))
}
