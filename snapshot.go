package pollster

import "time"

// Snapshot is the state of one timeline after a render pass.
//
// Snapshot is a copy; modifying it does not affect the timeline. Only the
// attached items are included: items beyond the viewport lookahead are
// counted in Total but not rendered.
type Snapshot struct {
	// Timeline is the name of the rendered timeline.
	Timeline string

	Kind  Kind
	Order Order

	// Items contains the attached items in display order.
	Items []Item

	// Total counts every merged item, attached or not.
	Total int

	// Backfilling counts the scroll backfills in flight.
	Backfilling int

	// PendingParents counts replies waiting for their thread root to load.
	PendingParents int

	// RenderedAt is the time of the render pass.
	RenderedAt time.Time
}

// Item is one rendered entry or feed card.
type Item struct {
	// URN is the entry urn, or the feed id for feed cards.
	URN string

	FeedID  string
	EntryID string

	// ThreadRoot is the urn of the entry a reply belongs under, or "".
	ThreadRoot string

	// Offset and Height position the card in pixels from the top of the
	// timeline.
	Offset int
	Height int

	// View is the JSON-serializable presentation payload of the card.
	View any
}
