package store

import "time"

// Timeline is the published state of one rendered timeline.
//
// Timeline is the storage representation of a renderer snapshot, optimized
// for JSON serialization (used by the REST API and SSE). It is decoupled
// from the renderer's internal types to allow independent evolution.
type Timeline struct {
	// Name is the timeline's configured name, unique per process.
	Name string `json:"name"`

	// Kind is "entries" or "feeds".
	Kind string `json:"kind"`

	// Order is the sort direction of non-threaded items.
	Order string `json:"order"`

	// Items contains the attached items in display order.
	Items []Item `json:"items"`

	// Total counts every merged item, attached or not.
	Total int `json:"total"`

	// Attached counts the items within the viewport lookahead.
	Attached int `json:"attached"`

	// Triggers counts the scroll triggers waiting to become visible.
	Triggers int `json:"triggers"`

	// Backfilling counts the backfill chains in flight.
	Backfilling int `json:"backfilling"`

	// PendingParents counts replies waiting for their thread root.
	PendingParents int `json:"pending_parents"`

	Viewport Viewport `json:"viewport"`

	// RenderedAt is the time of the render pass that produced the timeline.
	RenderedAt time.Time `json:"rendered_at"`
}

// Item is one attached display item.
type Item struct {
	URN        string `json:"urn"`
	FeedID     string `json:"feed_id"`
	EntryID    string `json:"entry_id,omitempty"`
	ThreadRoot string `json:"thread_root,omitempty"`
	Offset     int    `json:"offset"`
	Height     int    `json:"height"`
	View       any    `json:"view"`
}

// Viewport is the visible window reported by the presentation client.
type Viewport struct {
	Top    int `json:"top"`
	Height int `json:"height"`
}

// Store defines the interface for storing and subscribing to timeline updates.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Update stores a timeline and notifies all subscribers.
	// Timelines are keyed by Name, so subsequent updates replace previous values.
	Update(t Timeline)

	// Get returns the timeline with the given name.
	Get(name string) (Timeline, bool)

	// GetAll returns all currently stored timelines ordered by name.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []Timeline

	// Subscribe returns a channel that receives timeline updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Timeline

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Timeline)
}
