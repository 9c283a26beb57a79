package gateway

import (
	"context"
	"iter"
	"log/slog"
	"net/url"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/query"
)

// Fetcher fetches exactly one page for a query.
type Fetcher interface {
	Fetch(ctx context.Context, q query.Query) (*Page, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, q query.Query) (*Page, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, q query.Query) (*Page, error) {
	return f(ctx, q)
}

// Page is one page of results.
type Page struct {
	Feed *atom.Feed
}

// NewPage wraps a parsed feed.
func NewPage(feed *atom.Feed) *Page {
	return &Page{Feed: feed}
}

// Entries returns the entries of the page, newest first as served.
func (p *Page) Entries() []*atom.Entry {
	if p == nil || p.Feed == nil {
		return nil
	}
	return p.Feed.Entries
}

// Next returns the continuation cursor, empty on the last page.
func (p *Page) Next() string {
	if p == nil || p.Feed == nil {
		return ""
	}
	return p.Feed.Next
}

// Final reports whether this is the last page.
func (p *Page) Final() bool {
	return p.Next() == ""
}

// NextQuery folds the continuation cursor into q. ok is false when there is
// no cursor, the cursor cannot be parsed, or it would not change the query.
func (p *Page) NextQuery(q query.Query) (next query.Query, ok bool) {
	cursor := p.Next()
	if cursor == "" {
		return q, false
	}
	u, err := url.Parse(cursor)
	if err != nil {
		return q, false
	}
	next = q.Merge(query.FromParams(u.Query()))
	if next.Fingerprint() == q.Fingerprint() {
		return q, false
	}
	return next, true
}

// Callbacks is the two-callback pagination contract used by [Pull].
type Callbacks struct {
	// Partial receives every non-final page and reports whether to keep
	// paginating. When nil, Final receives every page instead.
	Partial func(page *Page) bool

	// Final receives the last page, or nil when a fetch failed.
	Final func(page *Page)
}

// Pages returns the lazy sequence of pages for q. Each iteration starts again
// from q. A failed fetch yields a single nil page and ends the sequence.
func Pages(ctx context.Context, f Fetcher, q query.Query, logger *slog.Logger) iter.Seq[*Page] {
	return func(yield func(*Page) bool) {
		cur := q
		for {
			page := fetchPage(ctx, f, cur, logger)
			if !yield(page) || page == nil {
				return
			}
			next, ok := page.NextQuery(cur)
			if !ok {
				return
			}
			cur = next
		}
	}
}

// Pull fetches q page by page and reports progress through cb. It blocks
// until pagination ends.
func Pull(ctx context.Context, f Fetcher, q query.Query, cb Callbacks, logger *slog.Logger) {
	final := func(page *Page) {
		if cb.Final != nil {
			cb.Final(page)
		}
	}

	cur := q
	for {
		page := fetchPage(ctx, f, cur, logger)
		if page == nil {
			final(nil)
			return
		}

		next, more := page.NextQuery(cur)
		if !more {
			final(page)
			return
		}

		if cb.Partial == nil {
			final(page)
		} else if !cb.Partial(page) {
			return
		}
		cur = next
	}
}

// fetchPage converts fetch failures into nil pages.
func fetchPage(ctx context.Context, f Fetcher, q query.Query, logger *slog.Logger) *Page {
	page, err := f.Fetch(ctx, q)
	if err != nil {
		if logger != nil {
			logger.Warn("fetch failed", "query", q.String(), "error", err)
		}
		return nil
	}
	if page == nil {
		return &Page{Feed: &atom.Feed{}}
	}
	return page
}
