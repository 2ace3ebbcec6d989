package tagquery

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Node is one predicate in the tag query AST: a Tag leaf, or a Not/And/Or
// combinator over child Nodes. Finite and acyclic by construction — there
// is no way to build a cycle through these constructors.
type Node interface {
	Eval(tags map[string]bool) bool
	String() string
	node()
}

type Tag struct{ Name string }

func (t Tag) Eval(tags map[string]bool) bool { return tags[t.Name] }
func (t Tag) String() string                 { return t.Name }
func (Tag) node()                            {}

type Not struct{ Child Node }

func (n Not) Eval(tags map[string]bool) bool { return !n.Child.Eval(tags) }
func (n Not) String() string                 { return "not " + parenIfNeeded(n.Child) }
func (Not) node()                            {}

type And struct{ Children []Node }

// Eval of an empty And is true, matching SPEC_FULL.md §4.7.
func (n And) Eval(tags map[string]bool) bool {
	for _, c := range n.Children {
		if !c.Eval(tags) {
			return false
		}
	}
	return true
}

func (n And) String() string {
	if len(n.Children) == 0 {
		return "()"
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = parenIfNeeded(c)
	}
	return strings.Join(parts, " and ")
}
func (And) node() {}

type Or struct{ Children []Node }

// Eval of an empty Or is false, matching SPEC_FULL.md §4.7.
func (n Or) Eval(tags map[string]bool) bool {
	for _, c := range n.Children {
		if c.Eval(tags) {
			return true
		}
	}
	return false
}

func (n Or) String() string {
	if len(n.Children) == 0 {
		return "()"
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = parenIfNeeded(c)
	}
	return strings.Join(parts, " or ")
}
func (Or) node() {}

// parenIfNeeded wraps And/Or/Not children in parens when printing a parent
// And/Or/Not, so String() always produces something Parse can read back
// (the round-trip property SPEC_FULL.md §4.7/§8 requires).
func parenIfNeeded(n Node) string {
	switch n.(type) {
	case And, Or, Not:
		return "(" + n.String() + ")"
	default:
		return n.String()
	}
}

// EvalSet normalizes tags to lower-case before evaluating, matching the
// tokenizer's own case-folding of tag identifiers.
func EvalSet(n Node, tags []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[strings.ToLower(t)] = true
	}
	return n.Eval(set)
}

// --- JSON persistent form ---

type jsonNode struct {
	Tag *string     `json:"tag,omitempty"`
	Not *jsonNode   `json:"$not,omitempty"`
	And []*jsonNode `json:"$and,omitempty"`
	Or  []*jsonNode `json:"$or,omitempty"`
}

// ToJSON renders n as the persistent predicate-tree form spec.md §3
// describes (the shape stored in a preset's tag_query field).
func ToJSON(n Node) ([]byte, error) {
	return json.Marshal(toJSONNode(n))
}

func toJSONNode(n Node) *jsonNode {
	switch v := n.(type) {
	case Tag:
		name := v.Name
		return &jsonNode{Tag: &name}
	case Not:
		return &jsonNode{Not: toJSONNode(v.Child)}
	case And:
		children := make([]*jsonNode, len(v.Children))
		for i, c := range v.Children {
			children[i] = toJSONNode(c)
		}
		return &jsonNode{And: children}
	case Or:
		children := make([]*jsonNode, len(v.Children))
		for i, c := range v.Children {
			children[i] = toJSONNode(c)
		}
		return &jsonNode{Or: children}
	default:
		return nil
	}
}

// FromJSON is ToJSON's inverse.
func FromJSON(data []byte) (Node, error) {
	var jn jsonNode
	if err := json.Unmarshal(data, &jn); err != nil {
		return nil, fmt.Errorf("tagquery: invalid json: %w", err)
	}
	return fromJSONNode(&jn)
}

func fromJSONNode(jn *jsonNode) (Node, error) {
	switch {
	case jn.Tag != nil:
		return Tag{Name: strings.ToLower(*jn.Tag)}, nil
	case jn.Not != nil:
		child, err := fromJSONNode(jn.Not)
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case jn.And != nil:
		children := make([]Node, len(jn.And))
		for i, c := range jn.And {
			child, err := fromJSONNode(c)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return And{Children: children}, nil
	case jn.Or != nil:
		children := make([]Node, len(jn.Or))
		for i, c := range jn.Or {
			child, err := fromJSONNode(c)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return Or{Children: children}, nil
	default:
		return nil, fmt.Errorf("tagquery: empty predicate node")
	}
}

// sortedStrings is a small helper used by tests asserting on tag sets
// without depending on map iteration order.
func sortedStrings(in map[string]bool) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
