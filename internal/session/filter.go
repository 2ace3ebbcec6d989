// Package session implements the per-inbound-client virtual MCP server
// (C9), its request router (C10), notification fabric (C11), and
// instruction aggregator (C12).
package session

import (
	"fmt"
	"sort"

	"github.com/1mcp-ai/1mcp/internal/aggregator"
	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/tagquery"
)

// FilterKind distinguishes the four admission filters spec.md §3 defines
// for an InboundSession.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterSimpleTags
	FilterExpr
	FilterPreset
)

// Filter is the per-session predicate over outbound tags/names that
// determines session.allowed. Exactly one of Tags/Node/PresetName is
// meaningful, selected by Kind.
type Filter struct {
	Kind       FilterKind
	Tags       []string
	Node       tagquery.Node
	PresetName string
}

// NoFilter admits every outbound server.
func NoFilter() Filter { return Filter{Kind: FilterNone} }

// ParseFilter builds a Filter from the URL surface's three mutually
// exclusive query parameters, in spec.md §6's stated precedence: preset
// highest, then tag-filter, then the deprecated tags CSV.
func ParseFilter(preset, tagFilter, tagsCSV string) (Filter, error) {
	switch {
	case preset != "":
		return Filter{Kind: FilterPreset, PresetName: preset}, nil
	case tagFilter != "":
		node, err := tagquery.Parse(tagFilter)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: tag-filter: %v", errs.ErrValidation, err)
		}
		return Filter{Kind: FilterExpr, Node: node}, nil
	case tagsCSV != "":
		node, err := tagquery.Parse(tagsCSV)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: tags: %v", errs.ErrValidation, err)
		}
		return Filter{Kind: FilterSimpleTags, Tags: splitCSV(tagsCSV), Node: node}, nil
	default:
		return NoFilter(), nil
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// PresetEvaluator resolves a named preset's tag query at admission-compute
// time, kept as a narrow interface so this package doesn't need to import
// internal/preset's singleton directly.
type PresetEvaluator interface {
	Test(name string) ([]string, error)
}

// Allowed computes the set of outbound server names this filter admits,
// given the current capability snapshot, a tag lookup for every ready
// server (the router owns the outbound registry; Filter stays decoupled
// from it), and (for Kind FilterPreset) a preset evaluator.
func Allowed(f Filter, snap aggregator.Snapshot, tagsByServer map[string][]string, presets PresetEvaluator) (map[string]bool, error) {
	allowed := map[string]bool{}

	switch f.Kind {
	case FilterNone:
		for _, name := range snap.ReadyServerNames {
			allowed[name] = true
		}

	case FilterPreset:
		if presets == nil {
			return nil, fmt.Errorf("%w: preset %q: no preset manager configured", errs.ErrNotFound, f.PresetName)
		}
		names, err := presets.Test(f.PresetName)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			allowed[name] = true
		}

	case FilterSimpleTags, FilterExpr:
		for _, name := range snap.ReadyServerNames {
			if tagquery.EvalSet(f.Node, tagsByServer[name]) {
				allowed[name] = true
			}
		}

	default:
		return nil, fmt.Errorf("%w: unrecognized filter kind", errs.ErrInternal)
	}

	return allowed, nil
}

// sortedKeys returns the sorted keys of a string-keyed set, a small helper
// shared by the router and notification fabric for deterministic ordering.
func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
