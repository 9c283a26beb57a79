// Package atom provides the typed feed and entry model used by pollster.
//
// Documents are parsed with gofeed's Atom parser and flattened into [Feed]
// and [Entry] values carrying the trsst extensions the timeline core relies
// on: the activity streams verb, mention and tag categories, and the
// rel="next" pagination cursor.
//
// Identifiers follow the trsst conventions:
//
//   - feed ids are urns of the form "urn:feed:<id>" (the prefix is optional
//     in queries)
//   - entry ids are urns of the form "urn:entry:<feed>:<hex>" where <hex> is
//     the millisecond timestamp of the entry
//
// [ThreadRoot] discovers the parent of a reply from its mention list.
package atom
