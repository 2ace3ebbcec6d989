package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/1mcp-ai/1mcp/internal/errs"
)

// DefaultPageSize is the page size spec.md §4.10 specifies when a session
// has enable_pagination set.
const DefaultPageSize = 100

// cursorState is the opaque cursor's decoded form: a pointer into a
// logical sorted-by-server list, resumable across requests even as the
// underlying snapshot is swapped (a snapshot taken at a later point only
// ever appends/removes servers in sorted order, so the indices stay a
// reasonable best-effort position — exact consistency isn't promised
// across a concurrent snapshot swap, matching spec.md §4.10's "list
// request mid-snapshot-swap uses the snapshot valid at request entry").
type cursorState struct {
	ServerIndex int `json:"server_index"`
	ItemIndex   int `json:"item_index"`
}

func encodeCursor(c cursorState) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursorState, error) {
	if s == "" {
		return cursorState{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursorState{}, fmt.Errorf("%w: malformed cursor: %v", errs.ErrValidation, err)
	}
	var c cursorState
	if err := json.Unmarshal(data, &c); err != nil {
		return cursorState{}, fmt.Errorf("%w: malformed cursor: %v", errs.ErrValidation, err)
	}
	return c, nil
}

// serverGroup is one owning server's slice of a flat item list, the shape
// Paginate walks to produce server_index/item_index cursors.
type serverGroup struct {
	Server string
	Items  []string
}

// Paginate returns page pageSize items starting at cursor's position
// across groups (each already in the caller's desired item order), plus
// the cursor to resume from, empty when exhausted.
func Paginate(groups []serverGroup, cursor string, pageSize int) (items []string, nextCursor string, err error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	start, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if start.ServerIndex < 0 || start.ServerIndex > len(groups) {
		return nil, "", fmt.Errorf("%w: cursor server_index out of range", errs.ErrValidation)
	}

	si, ii := start.ServerIndex, start.ItemIndex
	for si < len(groups) && len(items) < pageSize {
		group := groups[si]
		if ii < 0 || ii > len(group.Items) {
			return nil, "", fmt.Errorf("%w: cursor item_index out of range", errs.ErrValidation)
		}
		for ii < len(group.Items) && len(items) < pageSize {
			items = append(items, group.Items[ii])
			ii++
		}
		if ii >= len(group.Items) {
			si++
			ii = 0
		}
	}

	if si < len(groups) {
		nextCursor = encodeCursor(cursorState{ServerIndex: si, ItemIndex: ii})
	}
	return items, nextCursor, nil
}
