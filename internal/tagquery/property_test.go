package tagquery

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// genTag produces lower-case identifier-safe tag names disjoint from the
// and/or/not keywords, so generated trees never accidentally collide with
// an operator spelling.
func genTag(t *rapid.T) string {
	name := rapid.StringMatching(`[a-z][a-z0-9_]{0,7}`).Draw(t, "tag")
	switch name {
	case "and", "or", "not":
		return name + "_tag"
	default:
		return name
	}
}

// genNode builds a random Node tree up to the given depth, used by both
// property tests below. At depth 0 it always returns a Tag leaf so the
// recursion terminates.
func genNode(t *rapid.T, depth int) Node {
	if depth <= 0 {
		return Tag{Name: genTag(t)}
	}

	switch rapid.IntRange(0, 3).Draw(t, "kind") {
	case 0:
		return Tag{Name: genTag(t)}
	case 1:
		return Not{Child: genNode(t, depth-1)}
	case 2:
		n := rapid.IntRange(1, 3).Draw(t, "andChildren")
		children := make([]Node, n)
		for i := range children {
			children[i] = genNode(t, depth-1)
		}
		return And{Children: children}
	default:
		n := rapid.IntRange(1, 3).Draw(t, "orChildren")
		children := make([]Node, n)
		for i := range children {
			children[i] = genNode(t, depth-1)
		}
		return Or{Children: children}
	}
}

// collectTags walks a Node and returns every distinct Tag name it
// references, used to build a tag universe to evaluate both trees against.
func collectTags(n Node, out map[string]bool) {
	switch v := n.(type) {
	case Tag:
		out[v.Name] = true
	case Not:
		collectTags(v.Child, out)
	case And:
		for _, c := range v.Children {
			collectTags(c, out)
		}
	case Or:
		for _, c := range v.Children {
			collectTags(c, out)
		}
	}
}

func TestPropertyStringRoundTripsThroughParse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := genNode(t, 3)
		rendered := n.String()

		reparsed, err := Parse(rendered)
		require.NoError(t, err, "rendered form: %s", rendered)

		universe := map[string]bool{}
		collectTags(n, universe)
		collectTags(reparsed, universe)

		names := make([]string, 0, len(universe))
		for name := range universe {
			names = append(names, name)
		}

		// Every subset of the tag universe, expressed as a present/absent
		// bitmask, must evaluate identically on both trees: String() must
		// be a faithful, round-trippable rendering of n.
		total := 1 << len(names)
		for mask := 0; mask < total; mask++ {
			present := make([]string, 0, len(names))
			for i, name := range names {
				if mask&(1<<i) != 0 {
					present = append(present, name)
				}
			}
			require.Equal(t, EvalSet(n, present), EvalSet(reparsed, present), "rendered form: %s mask: %d", rendered, mask)
		}
	})
}

func TestPropertyJSONRoundTripsThroughToFromJSON(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := genNode(t, 3)

		data, err := ToJSON(n)
		require.NoError(t, err)

		reparsed, err := FromJSON(data)
		require.NoError(t, err)

		universe := map[string]bool{}
		collectTags(n, universe)

		names := make([]string, 0, len(universe))
		for name := range universe {
			names = append(names, name)
		}

		total := 1 << len(names)
		for mask := 0; mask < total; mask++ {
			present := make([]string, 0, len(names))
			for i, name := range names {
				if mask&(1<<i) != 0 {
					present = append(present, name)
				}
			}
			require.Equal(t, EvalSet(n, present), EvalSet(reparsed, present))
		}
	})
}

func TestPropertyDeMorganNotAndEqualsOrOfNots(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genNode(t, 2)
		b := genNode(t, 2)

		lhs := Not{Child: And{Children: []Node{a, b}}}
		rhs := Or{Children: []Node{Not{Child: a}, Not{Child: b}}}

		universe := map[string]bool{}
		collectTags(a, universe)
		collectTags(b, universe)
		names := make([]string, 0, len(universe))
		for name := range universe {
			names = append(names, name)
		}

		total := 1 << len(names)
		for mask := 0; mask < total; mask++ {
			present := make([]string, 0, len(names))
			for i, name := range names {
				if mask&(1<<i) != 0 {
					present = append(present, name)
				}
			}
			require.Equal(t, EvalSet(lhs, present), EvalSet(rhs, present))
		}
	})
}

func TestPropertyEmptyAndIsIdentityAcrossAnyTagSet(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tags := rapid.SliceOfN(rapid.StringMatching(`[a-z][a-z0-9]{0,5}`), 0, 5).Draw(t, "tags")
		require.True(t, EvalSet(And{}, tags))
		require.False(t, EvalSet(Or{}, tags))
	})
}
