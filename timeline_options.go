package pollster

import (
	"errors"
	"fmt"
	"slices"
)

// timelineConfig holds mutable state during Timeline construction.
type timelineConfig struct {
	kind          Kind
	order         Order
	feeds         []string
	queries       []Query
	followsOf     string
	followsLimit  int
	backfillCount int
}

// TimelineOption configures a [Timeline] during construction.
// Options return an error if validation fails.
type TimelineOption func(*timelineConfig) error

// WithKind sets what the timeline displays.
//
// Returns an error if the kind is not [KindEntries] or [KindFeeds].
func WithKind(k Kind) TimelineOption {
	return func(cfg *timelineConfig) error {
		switch k {
		case KindEntries, KindFeeds:
			cfg.kind = k
			return nil
		default:
			return fmt.Errorf("invalid kind %q: must be %q or %q", k, KindEntries, KindFeeds)
		}
	}
}

// WithOrder sets the sort order of top-level entries.
//
// Returns an error if the order is not [OrderDescending] or [OrderAscending].
func WithOrder(o Order) TimelineOption {
	return func(cfg *timelineConfig) error {
		switch o {
		case OrderDescending, OrderAscending:
			cfg.order = o
			return nil
		default:
			return fmt.Errorf("invalid order %q: must be %q or %q", o, OrderDescending, OrderAscending)
		}
	}
}

// WithFeeds adds feeds to follow. Can be called multiple times; duplicate
// ids are dropped.
//
// Returns an error if any feed id is empty.
func WithFeeds(feedIDs ...string) TimelineOption {
	return func(cfg *timelineConfig) error {
		for _, id := range feedIDs {
			if id == "" {
				return errors.New("feed id cannot be empty")
			}
			if !slices.Contains(cfg.feeds, id) {
				cfg.feeds = append(cfg.feeds, id)
			}
		}
		return nil
	}
}

// WithQuery adds a filtered query, for example every reply mentioning a
// feed.
//
// Example:
//
//	pollster.WithQuery(pollster.Query{
//	    Verb:     "reply",
//	    Mentions: []string{"urn:feed:me"},
//	})
//
// Returns an error if the query has no fields.
func WithQuery(q Query) TimelineOption {
	return func(cfg *timelineConfig) error {
		if q.IsZero() {
			return errors.New("query must set at least one field")
		}
		cfg.queries = append(cfg.queries, q.clone())
		return nil
	}
}

// WithFollowsOf adds every feed followed by feedID, up to limit feeds, once
// the follow list has been fetched. A limit of zero means no limit.
//
// Returns an error if the feed id is empty or the limit is negative.
func WithFollowsOf(feedID string, limit int) TimelineOption {
	return func(cfg *timelineConfig) error {
		if feedID == "" {
			return errors.New("follows feed id cannot be empty")
		}
		if limit < 0 {
			return errors.New("follows limit cannot be negative")
		}
		cfg.followsOf = feedID
		cfg.followsLimit = limit
		return nil
	}
}

// WithBackfillCount sets how many older entries each scroll backfill
// requests.
//
// Returns an error if the count is zero or negative.
func WithBackfillCount(n int) TimelineOption {
	return func(cfg *timelineConfig) error {
		if n <= 0 {
			return errors.New("backfill count must be positive")
		}
		cfg.backfillCount = n
		return nil
	}
}
