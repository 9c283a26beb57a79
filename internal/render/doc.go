// Package render maintains the ordered timelines pollster publishes.
//
// A renderer subscribes queries to the scheduler and merges every page it is
// notified of into one deduplicated list of display items. Two variants
// exist:
//
//   - [EntryRenderer]: entries ordered by entry id, with replies threaded
//     under their thread root and parents fetched on demand
//   - [FeedRenderer]: one card per feed, most recently updated first
//
// Rendering is debounced: a pass runs 750ms after the last merge, or 500ms
// after the last viewport update. Each pass lays out the items (only items
// within the viewport plus two viewport heights of lookahead are attached),
// publishes a [Snapshot] to the [Surface], and starts a backfill for every
// attached scroll trigger at or above the viewport bottom.
//
// Presentation knowledge enters only through the [EntryFactory] and
// [FeedFactory] callbacks.
package render
