package atom

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	FeedURNPrefix  = "urn:feed:"
	EntryURNPrefix = "urn:entry:"
)

// EntryIDFromURN returns the hex timestamp after the last colon.
func EntryIDFromURN(urn string) string {
	return urn[strings.LastIndex(urn, ":")+1:]
}

// FeedIDFromEntryURN returns the feed id between the entry prefix and the
// last colon, or "" when urn is not an entry urn.
func FeedIDFromEntryURN(urn string) string {
	if !strings.HasPrefix(urn, EntryURNPrefix) {
		return ""
	}
	rest := urn[len(EntryURNPrefix):]
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return ""
	}
	return rest[:i]
}

// FeedIDFromFeedURN strips the "urn:feed:" prefix if present.
func FeedIDFromFeedURN(id string) string {
	return strings.TrimPrefix(id, FeedURNPrefix)
}

// EntryURN builds an entry urn from a (possibly urn-prefixed) feed id.
func EntryURN(feedID, entryID string) string {
	return EntryURNPrefix + FeedIDFromFeedURN(feedID) + ":" + entryID
}

// ThreadRoot returns the thread root of an entry: the first mention that
// refers to an entry rather than a feed. It returns "" when the entry
// mentions no entry.
func ThreadRoot(e *Entry) string {
	if e == nil {
		return ""
	}
	for _, m := range e.Mentions {
		if strings.HasPrefix(m, EntryURNPrefix) {
			return m
		}
	}
	return ""
}

// CompareIDs orders hex timestamp entry ids. Ids of equal length compare
// lexicographically; leading zeros are ignored so unpadded ids still order
// by value. It returns -1, 0 or +1.
func CompareIDs(a, b string) int {
	a = strings.TrimLeft(strings.ToLower(a), "0")
	b = strings.TrimLeft(strings.ToLower(b), "0")
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// TimeFromEntryID decodes the millisecond timestamp of an entry id.
func TimeFromEntryID(id string) (time.Time, error) {
	ms, err := strconv.ParseInt(id, 16, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid entry id %q: %w", id, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ContentTime returns the update time of a page's content: the newest
// entry's updated time when the page has entries, otherwise the feed's own
// updated time. ok is false when the relevant field cannot be parsed.
func ContentTime(f *Feed) (t time.Time, ok bool) {
	if f == nil {
		return time.Time{}, false
	}
	if len(f.Entries) > 0 {
		return parsedTime(f.Entries[0].UpdatedParsed, f.Entries[0].Updated)
	}
	return parsedTime(f.UpdatedParsed, f.Updated)
}

func parsedTime(parsed *time.Time, raw string) (time.Time, bool) {
	if parsed != nil && !parsed.IsZero() {
		return *parsed, true
	}
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Follows returns the feed ids followed by follow entries, in order and
// without duplicates.
func Follows(entries []*Entry) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if e == nil || e.Verb != VerbFollow || e.ContentSrc == "" {
			continue
		}
		if !seen[e.ContentSrc] {
			seen[e.ContentSrc] = true
			ids = append(ids, e.ContentSrc)
		}
	}
	return ids
}
