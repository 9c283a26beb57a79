package render

import (
	"context"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/query"
)

// parentState tracks on-demand fetches of thread roots.
type parentState int

const (
	parentFetching parentState = iota + 1
	// parentSettled means the fetch completed. A settled parent that is not
	// in the list is missing and is never fetched again.
	parentSettled
)

// trigger is the boundary item of a base query; its visibility starts a
// backfill of older pages.
type trigger struct {
	base query.Query
	item *item
}

// EntryRenderer renders entries from one or more queries as a single
// ordered timeline with reply threading.
//
// Non-threaded items are ordered by entry id (then urn) in the configured
// direction. A reply whose thread root is present is placed in the block
// following that root, ordered oldest first; nested replies follow their own
// parent. The order depends only on the set of items, not on arrival order.
type EntryRenderer struct {
	*base

	triggers    map[query.Fingerprint]*trigger
	backfilling map[query.Fingerprint]bool
	exhausted   map[query.Fingerprint]bool
	parents     map[string]parentState
	pending     map[string][]*item // parent urn -> children waiting for it
	waiting     map[string]bool    // urns of children in pending
}

// NewEntryRenderer creates an [EntryRenderer] subscribing through reg and
// fetching parents, backfill pages and follows through f.
//
// Zero fields of opts select defaults: [DefaultEntryFactory], a 750ms render
// delay, a 500ms scroll delay, backfills of 5 entries and [DefaultViewport].
// The renderer holds no subscriptions until AddFeed, AddEntries or
// AddFeedFollows is called, and must be released with Dispose, which also
// stops its timers and drops the results of fetches still in flight.
func NewEntryRenderer(reg Registry, f gateway.Fetcher, opts Options) *EntryRenderer {
	r := &EntryRenderer{base: newBase(KindEntries, reg, f, opts)}
	r.clearLocked()
	r.self = r
	r.afterLayout = r.checkTriggersLocked
	r.counters = r.countersLocked
	return r
}

func (r *EntryRenderer) clearLocked() {
	r.triggers = make(map[query.Fingerprint]*trigger)
	r.backfilling = make(map[query.Fingerprint]bool)
	r.exhausted = make(map[query.Fingerprint]bool)
	r.parents = make(map[string]parentState)
	r.pending = make(map[string][]*item)
	r.waiting = make(map[string]bool)
}

// Notify merges a page delivered for q. Nil pages are logged and ignored.
func (r *EntryRenderer) Notify(page *gateway.Page, q query.Query) {
	if page == nil {
		r.logger.Warn("no data for query", "query", q.String())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	if r.mergeLocked(page, q) > 0 {
		r.scheduleRenderLocked()
	}
}

// mergeLocked merges the entries of page and updates the scroll trigger of
// q's base query. It returns the number of newly accepted entries, including
// replies still waiting for their parent. Callers must hold mu.
func (r *EntryRenderer) mergeLocked(page *gateway.Page, q query.Query) int {
	header := page.Feed.Header()
	baseQuery := q.Base()
	origin := baseQuery.Fingerprint()

	added := 0
	var boundary *item
	consider := func(it *item) {
		if it.parent != "" {
			return
		}
		if boundary == nil || r.after(it, boundary) {
			boundary = it
		}
	}

	for _, e := range page.Entries() {
		if e == nil || e.ID == "" {
			continue
		}
		if existing, ok := r.index[e.ID]; ok {
			consider(existing)
			continue
		}
		if r.waiting[e.ID] {
			continue
		}

		card := r.entryCard(header, e)
		if card == nil {
			continue
		}
		it := &item{
			urn:     e.ID,
			entryID: e.EntryID(),
			feed:    header,
			entry:   e,
			card:    card,
			origin:  origin,
		}
		added++
		if r.placeLocked(it) {
			consider(it)
		}
	}

	if boundary != nil {
		r.setTriggerLocked(origin, baseQuery, boundary)
	}
	return added
}

// after reports whether a sorts after b in the configured direction.
func (r *EntryRenderer) after(a, b *item) bool {
	c := compareItems(a, b)
	if r.opts.Direction == Ascending {
		return c > 0
	}
	return c < 0
}

// setTriggerLocked registers it as the trigger for origin unless the current
// trigger is already further along. Callers must hold mu.
func (r *EntryRenderer) setTriggerLocked(origin query.Fingerprint, baseQuery query.Query, it *item) {
	if r.exhausted[origin] {
		return
	}
	if cur, ok := r.triggers[origin]; ok && !r.after(it, cur.item) {
		return
	}
	r.triggers[origin] = &trigger{base: baseQuery, item: it}
}

// placeLocked inserts it, threading replies under their parent. It returns
// false when the item waits for its parent to be fetched. Callers must hold
// mu.
func (r *EntryRenderer) placeLocked(it *item) bool {
	if it.entry.IsReply() {
		root := atom.ThreadRoot(it.entry)
		if root != "" && root != it.urn {
			if parent, ok := r.index[root]; ok {
				r.insertReplyLocked(parent, it)
				r.flushLocked(it)
				return true
			}
			switch r.parents[root] {
			case 0:
				r.parents[root] = parentFetching
				r.waitLocked(root, it)
				gen := r.gen
				r.wg.Add(1)
				go r.fetchParent(root, gen)
				return false
			case parentFetching:
				r.waitLocked(root, it)
				return false
			}
			// parent missing: insert unthreaded
		}
	}
	r.insertTopLocked(it)
	r.flushLocked(it)
	return true
}

func (r *EntryRenderer) waitLocked(root string, it *item) {
	r.pending[root] = append(r.pending[root], it)
	r.waiting[it.urn] = true
}

// flushLocked places the children that were waiting for parent.
func (r *EntryRenderer) flushLocked(parent *item) {
	r.releaseLocked(parent.urn)
}

// releaseLocked places every child waiting on root. Children whose root is
// still absent are inserted unthreaded.
func (r *EntryRenderer) releaseLocked(root string) {
	kids := r.pending[root]
	if len(kids) == 0 {
		return
	}
	delete(r.pending, root)
	for _, kid := range kids {
		delete(r.waiting, kid.urn)
		if _, dup := r.index[kid.urn]; dup {
			continue
		}
		r.placeLocked(kid)
	}
}

// insertTopLocked inserts a non-threaded item before the first non-threaded
// item it sorts ahead of, or at the tail.
func (r *EntryRenderer) insertTopLocked(it *item) {
	it.parent = ""
	for i, x := range r.items {
		if x.parent != "" {
			continue
		}
		if r.after(x, it) {
			r.insertAt(i, it)
			return
		}
	}
	r.insertAt(len(r.items), it)
}

// insertReplyLocked inserts it into parent's reply block, oldest first.
func (r *EntryRenderer) insertReplyLocked(parent, it *item) {
	it.parent = parent.urn
	i := r.indexOf(parent) + 1
	for ; i < len(r.items); i++ {
		x := r.items[i]
		if !r.descendsFrom(x, parent) {
			break
		}
		if x.parent == parent.urn && compareItems(it, x) < 0 {
			break
		}
	}
	r.insertAt(i, it)
}

// descendsFrom reports whether x is threaded, directly or not, under p.
func (r *EntryRenderer) descendsFrom(x, p *item) bool {
	for depth, cur := 0, x.parent; cur != "" && depth <= len(r.items); depth++ {
		if cur == p.urn {
			return true
		}
		next, ok := r.index[cur]
		if !ok {
			return false
		}
		cur = next.parent
	}
	return false
}

// fetchParent fetches exactly one thread root and releases its children.
func (r *EntryRenderer) fetchParent(root string, gen uint64) {
	defer r.wg.Done()

	q := query.ForEntry(atom.FeedIDFromEntryURN(root), atom.EntryIDFromURN(root))
	page, err := r.fetcher.Fetch(r.ctx, q)
	if err != nil {
		r.logger.Warn("thread parent fetch failed", "parent", root, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed || gen != r.gen {
		return
	}
	r.parents[root] = parentSettled

	if page != nil {
		header := page.Feed.Header()
		for _, e := range page.Entries() {
			if e == nil || e.ID != root {
				continue
			}
			if _, present := r.index[root]; present {
				break
			}
			if card := r.entryCard(header, e); card != nil {
				r.placeLocked(&item{
					urn:     e.ID,
					entryID: e.EntryID(),
					feed:    header,
					entry:   e,
					card:    card,
				})
			}
			break
		}
	}

	// not found, suppressed, or parked on its own parent
	if _, present := r.index[root]; !present && !r.waiting[root] {
		r.logger.Debug("thread parent missing", "parent", root)
		r.releaseLocked(root)
	}
	r.scheduleRenderLocked()
}

// checkTriggersLocked removes every trigger whose item has been reached and
// returns the backfill jobs to start. Callers must hold mu.
func (r *EntryRenderer) checkTriggersLocked() []func(ctx context.Context) {
	var jobs []func(ctx context.Context)
	for origin, tr := range r.triggers {
		if r.backfilling[origin] || !reached(tr.item, r.viewport) {
			continue
		}
		delete(r.triggers, origin)
		r.backfilling[origin] = true

		q := tr.base.With(query.KeyBefore, tr.item.entryID).WithCount(r.opts.BackfillCount)
		gen := r.gen
		jobs = append(jobs, func(ctx context.Context) {
			r.backfill(ctx, origin, q, gen)
		})
	}
	return jobs
}

// backfill pulls older pages for q. Partial pages that add nothing keep the
// chain going; anything else ends it.
func (r *EntryRenderer) backfill(ctx context.Context, origin query.Fingerprint, q query.Query, gen uint64) {
	r.logger.Debug("backfill started", "query", q.String())

	merge := func(page *gateway.Page) (added int, live bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.disposed || gen != r.gen {
			return 0, false
		}
		added = r.mergeLocked(page, q)
		if added > 0 {
			r.scheduleRenderLocked()
		}
		return added, true
	}

	gateway.Pull(ctx, r.fetcher, q, gateway.Callbacks{
		Partial: func(page *gateway.Page) bool {
			added, live := merge(page)
			return live && added == 0
		},
		Final: func(page *gateway.Page) {
			if page == nil {
				r.logger.Warn("backfill stopped", "query", q.String())
				return
			}
			added, live := merge(page)
			if live && added == 0 {
				r.mu.Lock()
				r.exhausted[origin] = true
				r.mu.Unlock()
			}
		},
	}, r.logger)

	r.mu.Lock()
	if gen == r.gen {
		delete(r.backfilling, origin)
		r.scheduleRenderLocked()
	}
	r.mu.Unlock()
}

// Reset unsubscribes from every query and clears all items and triggers.
// Background fetches still in flight are ignored when they complete.
func (r *EntryRenderer) Reset() {
	r.unsubscribe()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.resetLocked()
	r.clearLocked()
	r.scheduleRenderLocked()
}

// Dispose unsubscribes and makes the renderer ignore all later results.
func (r *EntryRenderer) Dispose() {
	r.mu.Lock()
	first := r.disposeLocked()
	r.mu.Unlock()
	if first {
		r.unsubscribe()
	}
}

// Len returns the number of items, attached or not.
func (r *EntryRenderer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// URNs returns the urns of all items in display order.
func (r *EntryRenderer) URNs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	urns := make([]string, len(r.items))
	for i, it := range r.items {
		urns[i] = it.urn
	}
	return urns
}

// TriggerFor returns the urn of the scroll trigger of q's base query.
func (r *EntryRenderer) TriggerFor(q query.Query) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.triggers[q.Base().Fingerprint()]
	if !ok {
		return "", false
	}
	return tr.item.urn, true
}

// countersLocked adds the entry renderer counters to a snapshot. Callers
// must hold mu.
func (r *EntryRenderer) countersLocked(snap *Snapshot) {
	snap.Triggers = len(r.triggers)
	snap.Backfilling = len(r.backfilling)
	snap.Pending = len(r.waiting)
}
