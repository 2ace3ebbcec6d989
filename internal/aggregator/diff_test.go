package aggregator

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestDiffNoChangeWhenNamesMatchRegardlessOfOrder(t *testing.T) {
	prev := Snapshot{
		Tools:            []mcp.Tool{{Name: "a"}, {Name: "b"}},
		ReadyServerNames: []string{"alpha", "beta"},
	}
	curr := Snapshot{
		Tools:            []mcp.Tool{{Name: "b"}, {Name: "a"}},
		ReadyServerNames: []string{"beta", "alpha"},
	}
	delta := Diff(prev, curr)
	assert.False(t, delta.Changed())
}

func TestDiffDetectsToolAddition(t *testing.T) {
	prev := Snapshot{Tools: []mcp.Tool{{Name: "a"}}}
	curr := Snapshot{Tools: []mcp.Tool{{Name: "a"}, {Name: "b"}}}

	delta := Diff(prev, curr)
	assert.True(t, delta.ToolsChanged)
	assert.True(t, delta.Changed())
}

func TestDiffIgnoresFieldChangesOnUnchangedNames(t *testing.T) {
	prev := Snapshot{Tools: []mcp.Tool{{Name: "a", Description: "old"}}}
	curr := Snapshot{Tools: []mcp.Tool{{Name: "a", Description: "new"}}}

	delta := Diff(prev, curr)
	assert.False(t, delta.ToolsChanged, "only the name array is compared, not full struct equality")
}

func TestDiffDetectsServerSetChange(t *testing.T) {
	prev := Snapshot{ReadyServerNames: []string{"alpha"}}
	curr := Snapshot{ReadyServerNames: []string{"alpha", "beta"}}

	delta := Diff(prev, curr)
	assert.True(t, delta.ServersChanged)
}
