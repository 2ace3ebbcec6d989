// Package preset persists named tag-query filters ("presets") and tracks
// which outbound servers currently match each one, notifying subscribers
// when a preset's definition or membership changes.
package preset

import "time"

// Strategy is the authoring mode a preset was created under. It has no
// effect on evaluation — a preset's TagQuery is always the thing Eval'd —
// but it's persisted so an editor can round-trip the simpler "or"/"and"
// UI back into its original form instead of always showing "advanced".
type Strategy string

const (
	StrategyOr       Strategy = "or"
	StrategyAnd      Strategy = "and"
	StrategyAdvanced Strategy = "advanced"
)

// Preset is one named, persisted tag filter.
type Preset struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Strategy    Strategy   `json:"strategy"`
	TagQuery    []byte     `json:"tag_query"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

// indexEntry is one row of index.json, letting List() avoid opening every
// preset file just to report names.
type indexEntry struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// MembershipDelta is the set difference between a preset's previous and
// current matching server list, as spec.md §4.8 defines it.
type MembershipDelta struct {
	Added     []string
	Removed   []string
	Unchanged []string
	Changed   bool
}

func diffMembership(previous, current []string) MembershipDelta {
	prevSet := make(map[string]bool, len(previous))
	for _, s := range previous {
		prevSet[s] = true
	}
	currSet := make(map[string]bool, len(current))
	for _, s := range current {
		currSet[s] = true
	}

	var delta MembershipDelta
	for _, s := range current {
		if prevSet[s] {
			delta.Unchanged = append(delta.Unchanged, s)
		} else {
			delta.Added = append(delta.Added, s)
		}
	}
	for _, s := range previous {
		if !currSet[s] {
			delta.Removed = append(delta.Removed, s)
		}
	}
	delta.Changed = len(delta.Added) > 0 || len(delta.Removed) > 0
	return delta
}
