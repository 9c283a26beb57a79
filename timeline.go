package pollster

import (
	"errors"
	"fmt"
	"slices"

	"github.com/jpalmerr/pollster/internal/query"
)

// Kind selects what a [Timeline] displays.
type Kind string

const (
	// KindEntries lists entries, with replies threaded under their root.
	KindEntries Kind = "entries"

	// KindFeeds lists one card per feed, newest content first.
	KindFeeds Kind = "feeds"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Order is the sort order of top-level entries in a [Timeline].
type Order string

const (
	// OrderDescending lists the newest entries first.
	OrderDescending Order = "descending"

	// OrderAscending lists the oldest entries first.
	OrderAscending Order = "ascending"
)

// String returns the string representation of the order.
func (o Order) String() string {
	return string(o)
}

// Query filters the entries a [Timeline] subscribes to. Empty fields are
// not sent to the service.
type Query struct {
	// FeedID restricts results to one feed, with or without the urn prefix.
	FeedID string

	// Verb restricts results to one activity verb, such as "reply".
	Verb string

	// Author restricts results to one author.
	Author string

	// Search holds free-text search terms.
	Search string

	// Mentions requires every listed feed or entry urn to be mentioned.
	Mentions []string

	// Tags requires every listed tag.
	Tags []string
}

// IsZero reports whether q has no filter fields.
func (q Query) IsZero() bool {
	return q.FeedID == "" && q.Verb == "" && q.Author == "" && q.Search == "" &&
		len(q.Mentions) == 0 && len(q.Tags) == 0
}

func (q Query) internal() query.Query {
	return query.New().
		With(query.KeyFeedID, q.FeedID).
		With(query.KeyVerb, q.Verb).
		With(query.KeyAuthor, q.Author).
		With(query.KeySearch, q.Search).
		With(query.KeyMention, q.Mentions...).
		With(query.KeyTag, q.Tags...)
}

func (q Query) clone() Query {
	q.Mentions = slices.Clone(q.Mentions)
	q.Tags = slices.Clone(q.Tags)
	return q
}

// Timeline is a named, rendered view over one or more feeds and queries.
//
// Timeline is immutable after creation via [NewTimeline]. Getters return
// copies of slices so the timeline cannot be modified after construction.
type Timeline struct {
	name          string
	kind          Kind
	order         Order
	feeds         []string
	queries       []Query
	followsOf     string
	followsLimit  int
	backfillCount int
}

// Name returns the timeline's name, used in the HTTP API and logs.
func (t Timeline) Name() string {
	return t.name
}

// Kind returns what the timeline displays. Defaults to [KindEntries].
func (t Timeline) Kind() Kind {
	return t.kind
}

// Order returns the sort order of top-level entries. Defaults to
// [OrderDescending].
func (t Timeline) Order() Order {
	return t.order
}

// Feeds returns a copy of the feed ids the timeline follows directly.
func (t Timeline) Feeds() []string {
	return slices.Clone(t.feeds)
}

// Queries returns a copy of the timeline's additional queries.
func (t Timeline) Queries() []Query {
	if t.queries == nil {
		return nil
	}
	cp := make([]Query, len(t.queries))
	for i, q := range t.queries {
		cp[i] = q.clone()
	}
	return cp
}

// FollowsOf returns the feed whose follows are added at startup, or "".
func (t Timeline) FollowsOf() string {
	return t.followsOf
}

// FollowsLimit returns the maximum number of follows added. Zero means no
// limit.
func (t Timeline) FollowsLimit() int {
	return t.followsLimit
}

// BackfillCount returns the page size of scroll backfill queries, or 0 for
// the renderer default.
func (t Timeline) BackfillCount() int {
	return t.backfillCount
}

// NewTimeline creates a [Timeline] with the given name and options.
//
// A timeline needs at least one source: a feed ([WithFeeds]), a query
// ([WithQuery]) or a follow list ([WithFollowsOf]).
//
// Example:
//
//	tl, err := pollster.NewTimeline("home",
//	    pollster.WithFeeds("urn:feed:abc"),
//	    pollster.WithFollowsOf("urn:feed:me", 50),
//	)
func NewTimeline(name string, opts ...TimelineOption) (Timeline, error) {
	if name == "" {
		return Timeline{}, errors.New("timeline name cannot be empty")
	}

	cfg := &timelineConfig{
		kind:  KindEntries,
		order: OrderDescending,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Timeline{}, fmt.Errorf("timeline %q: %w", name, err)
		}
	}

	if len(cfg.feeds) == 0 && len(cfg.queries) == 0 && cfg.followsOf == "" {
		return Timeline{}, fmt.Errorf("timeline %q: at least one feed, query or follows source is required", name)
	}

	return Timeline{
		name:          name,
		kind:          cfg.kind,
		order:         cfg.order,
		feeds:         cfg.feeds,
		queries:       cfg.queries,
		followsOf:     cfg.followsOf,
		followsLimit:  cfg.followsLimit,
		backfillCount: cfg.backfillCount,
	}, nil
}
