package render

import (
	"strings"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/query"
)

// item is a display item: a feed header and optional entry with its card.
type item struct {
	urn     string // entry urn, or feed id for feed cards
	entryID string
	feed    *atom.Feed
	entry   *atom.Entry
	card    *Card

	// origin is the base fingerprint of the query that delivered the item,
	// empty for parents fetched on demand.
	origin query.Fingerprint

	// parent is the urn of the item this one is threaded under.
	parent string

	attached bool
	offset   int
}

func (it *item) height() int {
	if it.card == nil || it.card.Height <= 0 {
		return DefaultCardHeight
	}
	return it.card.Height
}

func (it *item) view() Item {
	out := Item{
		URN:        it.urn,
		EntryID:    it.entryID,
		ThreadRoot: it.parent,
		Offset:     it.offset,
		Height:     it.height(),
	}
	if it.feed != nil {
		out.FeedID = it.feed.ID
	}
	if it.card != nil {
		out.View = it.card.View
	}
	return out
}

// compareItems orders items by entry id, then urn. It returns -1, 0 or +1.
func compareItems(a, b *item) int {
	if c := atom.CompareIDs(a.entryID, b.entryID); c != 0 {
		return c
	}
	return strings.Compare(a.urn, b.urn)
}

// layout marks which items are attached and assigns their offsets. The first
// item is always attached; every later item is attached iff its predecessor
// is attached and starts above top + 3 * height. Detached items keep the
// offset they would start at.
func layout(items []*item, vp Viewport) int {
	limit := vp.Top + 3*vp.Height
	offset := 0
	attached := 0
	for i, it := range items {
		if i == 0 {
			it.attached = true
		} else {
			prev := items[i-1]
			it.attached = prev.attached && prev.offset < limit
		}
		it.offset = offset
		if it.attached {
			offset += it.height()
			attached++
		}
	}
	return attached
}

// reached reports whether an attached item has scrolled into view: its top
// is at or above the bottom of the viewport. Items scrolled past above the
// viewport count as reached.
func reached(it *item, vp Viewport) bool {
	if !it.attached {
		return false
	}
	return it.offset <= vp.Top+vp.Height
}
