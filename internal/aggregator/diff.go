package aggregator

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// Delta reports which capability categories changed between two snapshots
// and the sorted name/URI arrays involved — enough for the notification
// fabric (C11) to decide whether a listChanged is warranted without
// recomputing anything itself.
type Delta struct {
	ToolsChanged     bool
	ResourcesChanged bool
	PromptsChanged   bool
	ServersChanged   bool
}

// Changed reports whether any category differs.
func (d Delta) Changed() bool {
	return d.ToolsChanged || d.ResourcesChanged || d.PromptsChanged || d.ServersChanged
}

// Diff compares prev and curr by their sorted name/URI arrays (not full
// struct equality — a tool whose description changed but whose name is
// unchanged is not a capability-list change for listChanged purposes).
func Diff(prev, curr Snapshot) Delta {
	return Delta{
		ToolsChanged:     !equalStrings(toolNames(prev.Tools), toolNames(curr.Tools)),
		ResourcesChanged: !equalStrings(resourceURIs(prev.Resources), resourceURIs(curr.Resources)),
		PromptsChanged:   !equalStrings(promptNames(prev.Prompts), promptNames(curr.Prompts)),
		ServersChanged:   !equalStrings(prev.ReadyServerNames, curr.ReadyServerNames),
	}
}

func toolNames(tools []mcp.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func resourceURIs(resources []mcp.Resource) []string {
	uris := make([]string, len(resources))
	for i, r := range resources {
		uris[i] = r.URI
	}
	return uris
}

func promptNames(prompts []mcp.Prompt) []string {
	names := make([]string, len(prompts))
	for i, p := range prompts {
		names[i] = p.Name
	}
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
