package render

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/poller"
	"github.com/jpalmerr/pollster/internal/query"
)

// base is the state and behaviour shared by both renderer variants.
type base struct {
	id       string
	kind     string
	opts     Options
	registry Registry
	fetcher  gateway.Fetcher
	logger   *slog.Logger

	// self is the concrete renderer registered with the registry.
	self poller.Subscriber

	// afterLayout runs under mu at the end of a render pass and returns
	// background jobs to start once the lock is released.
	afterLayout func() []func(ctx context.Context)

	// counters adds variant specific counters to snapshots, under mu.
	counters func(snap *Snapshot)

	// feedQuery builds the query subscribed by AddFeed.
	feedQuery func(feedID string) query.Query

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	items       []*item
	index       map[string]*item
	queries     map[query.Fingerprint]query.Query
	viewport    Viewport
	disposed    bool
	gen         uint64 // bumped by Reset; stale background results are dropped
	renderTimer *time.Timer
	scrollTimer *time.Timer
	lastSnap    Snapshot
}

func newBase(kind string, reg Registry, f gateway.Fetcher, opts Options) *base {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	b := &base{
		id:        id,
		kind:      kind,
		opts:      opts,
		registry:  reg,
		fetcher:   f,
		logger:    opts.Logger.With("renderer", opts.Name, "renderer_id", id),
		ctx:       ctx,
		cancel:    cancel,
		index:     make(map[string]*item),
		queries:   make(map[query.Fingerprint]query.Query),
		viewport:  opts.Viewport,
		feedQuery: query.ForFeed,
	}
	// zero RenderedAt until the first pass
	b.lastSnap = b.snapshotLocked()
	b.lastSnap.RenderedAt = time.Time{}
	return b
}

// ID returns the unique id of the renderer.
func (b *base) ID() string {
	return b.id
}

// Name returns the configured name.
func (b *base) Name() string {
	return b.opts.Name
}

// AddEntries subscribes to q. Subscribing the same query twice is a no-op.
func (b *base) AddEntries(q query.Query) {
	fp := q.Fingerprint()

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	if _, ok := b.queries[fp]; ok {
		b.mu.Unlock()
		return
	}
	b.queries[fp] = q
	b.mu.Unlock()

	// the registry may deliver a cached page synchronously
	b.registry.Subscribe(q, b.self)
}

// AddFeed subscribes to feedID.
func (b *base) AddFeed(feedID string) {
	if feedID == "" {
		return
	}
	b.AddEntries(b.feedQuery(feedID))
}

// AddFeedFollows lists the feeds followed by feedID across every page and
// subscribes to up to limit of them.
func (b *base) AddFeedFollows(ctx context.Context, feedID string, limit int) int {
	q := query.ForFeed(feedID).With(query.KeyVerb, atom.VerbFollow).WithCount(DefaultFollowsCount)

	var follows []string
	seen := make(map[string]bool)
	gateway.Pull(ctx, b.fetcher, q, gateway.Callbacks{
		Final: func(page *gateway.Page) {
			if page == nil {
				return
			}
			for _, id := range atom.Follows(page.Entries()) {
				if !seen[id] {
					seen[id] = true
					follows = append(follows, id)
				}
			}
		},
	}, b.logger)

	if limit > 0 && len(follows) > limit {
		follows = follows[:limit]
	}
	for _, id := range follows {
		b.AddFeed(id)
	}
	b.logger.Debug("follows added", "feed_id", feedID, "count", len(follows))
	return len(follows)
}

// Queries returns the subscribed queries.
func (b *base) Queries() []query.Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]query.Query, 0, len(b.queries))
	for _, q := range b.queries {
		out = append(out, q)
	}
	return out
}

// SetViewport records the viewport and schedules a coalesced scroll pass.
// Each call restarts the scroll delay.
func (b *base) SetViewport(v Viewport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	if v.Height <= 0 {
		v.Height = b.opts.Viewport.Height
	}
	if v.Top < 0 {
		v.Top = 0
	}
	b.viewport = v
	b.scrollTimer = b.debounceLocked(b.scrollTimer, b.opts.ScrollDelay)
}

// scheduleRender schedules a coalesced render pass. Callers must hold mu.
func (b *base) scheduleRenderLocked() {
	if b.disposed {
		return
	}
	b.renderTimer = b.debounceLocked(b.renderTimer, b.opts.RenderDelay)
}

// debounceLocked restarts the quiet period of t: the pass runs d after the
// last request. Callers must hold mu.
func (b *base) debounceLocked(t *time.Timer, d time.Duration) *time.Timer {
	if t != nil {
		t.Stop()
	}
	return time.AfterFunc(d, b.pass)
}

func (b *base) scheduleRender() {
	b.mu.Lock()
	b.scheduleRenderLocked()
	b.mu.Unlock()
}

// stopTimersLocked cancels pending passes. Callers must hold mu.
func (b *base) stopTimersLocked() {
	if b.renderTimer != nil {
		b.renderTimer.Stop()
		b.renderTimer = nil
	}
	if b.scrollTimer != nil {
		b.scrollTimer.Stop()
		b.scrollTimer = nil
	}
}

// Flush runs a render pass immediately, cancelling any pending one.
func (b *base) Flush() {
	b.mu.Lock()
	b.stopTimersLocked()
	b.mu.Unlock()
	b.pass()
}

// Wait blocks until background fetches (parents, backfills) complete.
func (b *base) Wait() {
	b.wg.Wait()
}

// pass lays out the items, publishes a snapshot and starts backfills.
func (b *base) pass() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.renderTimer = nil
	b.scrollTimer = nil

	layout(b.items, b.viewport)
	var jobs []func(ctx context.Context)
	if b.afterLayout != nil {
		jobs = b.afterLayout()
	}
	snap := b.snapshotLocked()
	b.lastSnap = snap
	b.mu.Unlock()

	b.publish(snap)
	for _, job := range jobs {
		b.spawn(job)
	}
}

// spawn runs job in the background on the renderer context.
func (b *base) spawn(job func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		job(b.ctx)
	}()
}

// Snapshot returns the snapshot published by the latest render pass. Before
// the first pass it describes the empty renderer and RenderedAt is zero.
func (b *base) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSnap
}

func (b *base) snapshotLocked() Snapshot {
	snap := Snapshot{
		Name:       b.opts.Name,
		Kind:       b.kind,
		Order:      b.opts.Direction.String(),
		Items:      []Item{},
		Total:      len(b.items),
		Viewport:   b.viewport,
		RenderedAt: time.Now(),
	}
	for _, it := range b.items {
		if it.attached {
			snap.Items = append(snap.Items, it.view())
		}
	}
	snap.Attached = len(snap.Items)
	if b.counters != nil {
		b.counters(&snap)
	}
	return snap
}

func (b *base) publish(snap Snapshot) {
	if b.opts.Surface == nil {
		return
	}
	b.safeCall("surface", func() { b.opts.Surface.Publish(snap) })
}

// safeCall runs fn with panic recovery, logging panics with a correlation id.
func (b *base) safeCall(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			b.logger.Error(what+" panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()
	fn()
	return true
}

// entryCard calls the entry factory with panic recovery. A panicking factory
// suppresses the entry.
func (b *base) entryCard(feed *atom.Feed, entry *atom.Entry) *Card {
	var card *Card
	b.safeCall("entry factory", func() { card = b.opts.EntryFactory(feed, entry) })
	return card
}

// feedCard calls the feed factory with panic recovery.
func (b *base) feedCard(feed *atom.Feed) *Card {
	var card *Card
	b.safeCall("feed factory", func() { card = b.opts.FeedFactory(feed) })
	return card
}

// insertAt inserts it at position i. Callers must hold mu.
func (b *base) insertAt(i int, it *item) {
	b.items = append(b.items, nil)
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = it
	b.index[it.urn] = it
}

// indexOf returns the position of it, or -1. Callers must hold mu.
func (b *base) indexOf(it *item) int {
	for i, x := range b.items {
		if x == it {
			return i
		}
	}
	return -1
}

// unsubscribe removes the renderer from the registry and forgets its
// queries. It must be called without holding mu.
func (b *base) unsubscribe() {
	b.registry.Unsubscribe(b.self)
}

// resetLocked clears shared state. Callers must hold mu.
func (b *base) resetLocked() {
	b.stopTimersLocked()
	b.gen++
	b.items = nil
	b.index = make(map[string]*item)
	b.queries = make(map[query.Fingerprint]query.Query)
}

// disposeLocked marks the renderer disposed. Callers must hold mu.
func (b *base) disposeLocked() bool {
	if b.disposed {
		return false
	}
	b.stopTimersLocked()
	b.disposed = true
	b.cancel()
	return true
}
