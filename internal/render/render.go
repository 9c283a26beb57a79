package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/poller"
	"github.com/jpalmerr/pollster/internal/query"
)

// Renderer defaults.
const (
	DefaultRenderDelay   = 750 * time.Millisecond
	DefaultScrollDelay   = 500 * time.Millisecond
	DefaultBackfillCount = 5
	DefaultCardHeight    = 120

	// DefaultFollowsCount is the page size used when listing follows.
	DefaultFollowsCount = 999
)

// DefaultViewport is used until the presentation client reports its own.
var DefaultViewport = Viewport{Top: 0, Height: 900}

// Kinds of renderer, as reported in snapshots.
const (
	KindEntries = "entries"
	KindFeeds   = "feeds"
)

// Direction is the sort order of non-threaded items.
type Direction int

const (
	// Descending lists the newest entries first.
	Descending Direction = iota
	// Ascending lists the oldest entries first.
	Ascending
)

func (d Direction) String() string {
	if d == Ascending {
		return "ascending"
	}
	return "descending"
}

// ParseDirection parses "ascending" or "descending". Empty means descending.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "", "descending", "desc":
		return Descending, true
	case "ascending", "asc":
		return Ascending, true
	default:
		return Descending, false
	}
}

// Registry is the subscription capability renderers depend on.
// *poller.Scheduler implements it.
type Registry interface {
	Subscribe(q query.Query, sub poller.Subscriber)
	Unsubscribe(sub poller.Subscriber)
}

// Renderer maintains an ordered, deduplicated list of display items for one
// or more queries.
type Renderer interface {
	poller.Subscriber

	// AddFeed subscribes to all entries of a feed.
	AddFeed(feedID string)

	// AddEntries subscribes to an arbitrary query.
	AddEntries(q query.Query)

	// AddFeedFollows subscribes to up to limit feeds followed by feedID and
	// returns how many were added. limit <= 0 means no limit.
	AddFeedFollows(ctx context.Context, feedID string, limit int) int

	// SetViewport reports the presentation viewport.
	SetViewport(v Viewport)

	// Snapshot returns the current attached items.
	Snapshot() Snapshot

	// Reset unsubscribes and clears every item, keeping the renderer usable.
	Reset()

	// Dispose unsubscribes and ignores every later result.
	Dispose()
}

// Card is the presentation of one display item, built by a factory.
type Card struct {
	// Height is the rendered height in pixels, used for lazy attachment.
	// Non-positive heights count as DefaultCardHeight.
	Height int `json:"height"`

	// View is the presentation payload published in snapshots.
	View any `json:"view"`
}

// EntryFactory builds the card for an entry. Returning nil suppresses the
// entry, for example when it cannot be decrypted.
type EntryFactory func(feed *atom.Feed, entry *atom.Entry) *Card

// FeedFactory builds the card for a feed. Returning nil suppresses it.
type FeedFactory func(feed *atom.Feed) *Card

// Viewport is the visible window of the presentation, in pixels.
type Viewport struct {
	Top    int `json:"top"`
	Height int `json:"height"`
}

// Surface receives snapshots after each render pass.
type Surface interface {
	Publish(s Snapshot)
}

// SurfaceFunc adapts a function to [Surface].
type SurfaceFunc func(s Snapshot)

// Publish calls f.
func (f SurfaceFunc) Publish(s Snapshot) { f(s) }

// Snapshot is the published state of a renderer.
type Snapshot struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Order       string    `json:"order"`
	Items       []Item    `json:"items"`
	Total       int       `json:"total"`
	Attached    int       `json:"attached"`
	Triggers    int       `json:"triggers"`
	Backfilling int       `json:"backfilling"`
	Pending     int       `json:"pending_parents"`
	Viewport    Viewport  `json:"viewport"`
	RenderedAt  time.Time `json:"rendered_at"`
}

// Item is one attached display item in a snapshot.
type Item struct {
	URN        string `json:"urn"`
	FeedID     string `json:"feed_id"`
	EntryID    string `json:"entry_id,omitempty"`
	ThreadRoot string `json:"thread_root,omitempty"`
	Offset     int    `json:"offset"`
	Height     int    `json:"height"`
	View       any    `json:"view"`
}

// Options configures a renderer.
type Options struct {
	Name      string
	Direction Direction

	EntryFactory EntryFactory
	FeedFactory  FeedFactory
	Surface      Surface
	Logger       *slog.Logger

	RenderDelay   time.Duration
	ScrollDelay   time.Duration
	BackfillCount int
	Viewport      Viewport
}

func (o Options) withDefaults() Options {
	if o.EntryFactory == nil {
		o.EntryFactory = DefaultEntryFactory
	}
	if o.FeedFactory == nil {
		o.FeedFactory = DefaultFeedFactory
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RenderDelay <= 0 {
		o.RenderDelay = DefaultRenderDelay
	}
	if o.ScrollDelay <= 0 {
		o.ScrollDelay = DefaultScrollDelay
	}
	if o.BackfillCount <= 0 {
		o.BackfillCount = DefaultBackfillCount
	}
	if o.Viewport.Height <= 0 {
		o.Viewport = DefaultViewport
	}
	return o
}

// compile-time interface checks
var (
	_ Renderer        = (*EntryRenderer)(nil)
	_ Renderer        = (*FeedRenderer)(nil)
	_ Registry        = (*poller.Scheduler)(nil)
	_ gateway.Fetcher = (*gateway.Client)(nil)
)
