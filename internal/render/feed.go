package render

import (
	"time"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/query"
)

// FeedRenderer renders one card per feed, newest updated first. A later page
// for the same feed replaces its card.
type FeedRenderer struct {
	*base

	updated map[string]time.Time
}

// NewFeedRenderer creates a [FeedRenderer] subscribing through reg.
//
// f is only used to list follows for AddFeedFollows. Feeds are subscribed
// with count=0, so every delivered page refreshes one card from the feed
// header. Options default as for [NewEntryRenderer], with
// [DefaultFeedFactory] as the factory.
func NewFeedRenderer(reg Registry, f gateway.Fetcher, opts Options) *FeedRenderer {
	r := &FeedRenderer{
		base:    newBase(KindFeeds, reg, f, opts),
		updated: make(map[string]time.Time),
	}
	r.self = r
	r.feedQuery = func(feedID string) query.Query {
		return query.ForFeed(feedID).WithCount(0)
	}
	return r
}

// Notify replaces the card of the page's feed. Nil pages are logged and
// ignored.
func (r *FeedRenderer) Notify(page *gateway.Page, q query.Query) {
	if page == nil || page.Feed == nil {
		r.logger.Warn("no data for query", "query", q.String())
		return
	}
	header := page.Feed.Header()
	if header.ID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}

	card := r.feedCard(header)
	if card == nil {
		return
	}

	id := atom.FeedIDFromFeedURN(header.ID)
	if old, ok := r.index[id]; ok {
		i := r.indexOf(old)
		r.items = append(r.items[:i], r.items[i+1:]...)
		delete(r.index, id)
	}

	updated, _ := atom.ContentTime(header)
	r.updated[id] = updated
	it := &item{urn: id, feed: header, card: card, origin: q.Base().Fingerprint()}

	pos := len(r.items)
	for i, x := range r.items {
		if r.before(id, updated, x.urn) {
			pos = i
			break
		}
	}
	r.insertAt(pos, it)
	r.scheduleRenderLocked()
}

// before reports whether feed id updated at t sorts ahead of other.
func (r *FeedRenderer) before(id string, t time.Time, other string) bool {
	ot := r.updated[other]
	if !t.Equal(ot) {
		return t.After(ot)
	}
	return id < other
}

// Reset unsubscribes and clears every card.
func (r *FeedRenderer) Reset() {
	r.unsubscribe()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.resetLocked()
	r.updated = make(map[string]time.Time)
	r.scheduleRenderLocked()
}

// Dispose unsubscribes and makes the renderer ignore all later results.
func (r *FeedRenderer) Dispose() {
	r.mu.Lock()
	first := r.disposeLocked()
	r.mu.Unlock()
	if first {
		r.unsubscribe()
	}
}

// FeedIDs returns the feed ids in display order.
func (r *FeedRenderer) FeedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.items))
	for i, it := range r.items {
		ids[i] = it.urn
	}
	return ids
}
