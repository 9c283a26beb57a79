package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
)

// Filter fields understood by the trsst feed service.
const (
	KeyFeedID  = "feedId"
	KeyEntryID = "entryId"
	KeyVerb    = "verb"
	KeyMention = "mention"
	KeyTag     = "tag"
	KeyAuthor  = "author"
	KeySearch  = "q"
	KeyBefore  = "before"
	KeyAfter   = "after"
	KeyCount   = "count"
	KeyPage    = "page"
)

// multiValued lists the keys that may carry more than one value. Values of
// these keys are kept sorted so that construction order never changes the
// fingerprint.
var multiValued = map[string]bool{
	KeyMention: true,
	KeyTag:     true,
}

// pagingKeys are stripped by [Query.Base].
var pagingKeys = []string{KeyBefore, KeyAfter, KeyCount, KeyPage}

// Fingerprint is the canonical serialization of a [Query]. Two queries are
// equivalent iff their fingerprints are equal.
type Fingerprint string

// Query is an immutable set of filter fields.
//
// The zero value is an empty query. All mutators return a modified copy and
// leave the receiver untouched, so a Query can be shared freely between
// goroutines.
type Query struct {
	fields map[string][]string
}

// New returns an empty query.
func New() Query {
	return Query{}
}

// ForFeed returns a query selecting all entries of a feed.
func ForFeed(feedID string) Query {
	return New().With(KeyFeedID, feedID)
}

// ForEntry returns a query selecting exactly one entry of a feed.
func ForEntry(feedID, entryID string) Query {
	return New().With(KeyFeedID, feedID).With(KeyEntryID, entryID).WithCount(1)
}

// With returns a copy of q with key set to values. Empty strings are
// ignored; passing no values removes the key.
func (q Query) With(key string, values ...string) Query {
	out := q.clone()
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(out.fields, key)
		return out
	}
	if multiValued[key] {
		sort.Strings(kept)
		kept = slices.Compact(kept)
	} else {
		// single-valued fields keep the last value
		kept = kept[len(kept)-1:]
	}
	out.fields[key] = kept
	return out
}

// WithCount returns a copy of q with the page size set.
func (q Query) WithCount(n int) Query {
	return q.With(KeyCount, strconv.Itoa(n))
}

// Without returns a copy of q without the given keys.
func (q Query) Without(keys ...string) Query {
	out := q.clone()
	for _, k := range keys {
		delete(out.fields, k)
	}
	return out
}

// Merge returns a copy of q with every field of other applied on top.
func (q Query) Merge(other Query) Query {
	out := q.clone()
	for k, v := range other.fields {
		out.fields[k] = slices.Clone(v)
	}
	return out
}

// Base returns q without its paging fields (before, after, count, page).
// Scroll triggers and backfill chains are keyed by the base query.
func (q Query) Base() Query {
	return q.Without(pagingKeys...)
}

// Get returns the first value of key, or "" if unset.
func (q Query) Get(key string) string {
	if v := q.fields[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns a copy of all values of key.
func (q Query) Values(key string) []string {
	return slices.Clone(q.fields[key])
}

// Has reports whether key is set.
func (q Query) Has(key string) bool {
	_, ok := q.fields[key]
	return ok
}

// FeedID returns the feed identifier filter, or "" if unset.
func (q Query) FeedID() string {
	return q.Get(KeyFeedID)
}

// Count returns the page size and whether it is set and numeric.
func (q Query) Count() (int, bool) {
	if !q.Has(KeyCount) {
		return 0, false
	}
	n, err := strconv.Atoi(q.Get(KeyCount))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keys returns the set keys in lexical order.
func (q Query) Keys() []string {
	keys := make([]string, 0, len(q.fields))
	for k := range q.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsZero reports whether q has no fields.
func (q Query) IsZero() bool {
	return len(q.fields) == 0
}

// Equal reports whether q and other are equivalent.
func (q Query) Equal(other Query) bool {
	return q.Fingerprint() == other.Fingerprint()
}

// Fingerprint returns the canonical serialization of q: a JSON object with
// keys in lexical order. Multi-valued keys serialize as sorted arrays, all
// other keys as strings.
func (q Query) Fingerprint() Fingerprint {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range q.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(&buf, k)
		buf.WriteByte(':')
		v := q.fields[k]
		if multiValued[k] || len(v) > 1 {
			writeJSON(&buf, v)
		} else {
			writeJSON(&buf, v[0])
		}
	}
	buf.WriteByte('}')
	return Fingerprint(buf.String())
}

// writeJSON encodes v without HTML escaping. Strings and string slices never
// fail to encode.
func writeJSON(buf *bytes.Buffer, v any) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	// Encoder appends a newline
	buf.Truncate(buf.Len() - 1)
}

// String returns the fingerprint as a string.
func (q Query) String() string {
	return string(q.Fingerprint())
}

// Parse rebuilds a query from its fingerprint.
func Parse(fp Fingerprint) (Query, error) {
	var q Query
	if err := q.UnmarshalJSON([]byte(fp)); err != nil {
		return Query{}, err
	}
	return q, nil
}

// MarshalJSON implements json.Marshaler using the canonical form.
func (q Query) MarshalJSON() ([]byte, error) {
	return []byte(q.Fingerprint()), nil
}

// UnmarshalJSON implements json.Unmarshaler. Values may be strings, numbers
// or arrays of strings.
func (q *Query) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}

	out := New()
	for k, msg := range raw {
		values, err := decodeValues(msg)
		if err != nil {
			return fmt.Errorf("invalid query field %q: %w", k, err)
		}
		out = out.With(k, values...)
	}
	*q = out
	return nil
}

func decodeValues(msg json.RawMessage) ([]string, error) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return []string{s}, nil
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil {
		return []string{n.String()}, nil
	}
	var list []string
	if err := json.Unmarshal(msg, &list); err != nil {
		return nil, fmt.Errorf("expected string, number or string array")
	}
	return list, nil
}

// Params returns the fields as URL query parameters, excluding the fields
// that the gateway encodes into the request path (feedId, entryId).
func (q Query) Params() url.Values {
	params := url.Values{}
	for k, v := range q.fields {
		if k == KeyFeedID || k == KeyEntryID {
			continue
		}
		params[k] = slices.Clone(v)
	}
	return params
}

// FromParams builds a query from URL query parameters. It is the inverse of
// [Query.Params] and is used to fold continuation cursors into queries.
func FromParams(params url.Values) Query {
	out := New()
	for k, v := range params {
		out = out.With(k, v...)
	}
	return out
}

func (q Query) clone() Query {
	out := Query{fields: make(map[string][]string, len(q.fields)+1)}
	for k, v := range q.fields {
		out.fields[k] = slices.Clone(v)
	}
	return out
}
