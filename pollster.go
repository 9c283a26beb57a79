package pollster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jpalmerr/pollster/dashboard"
	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/feedcache"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/poller"
	"github.com/jpalmerr/pollster/internal/render"
	"github.com/jpalmerr/pollster/internal/server"
	"github.com/jpalmerr/pollster/internal/store"
)

const (
	defaultServiceURL      = "http://localhost:8181/feed"
	defaultPort            = 8080
	defaultTickInterval    = poller.DefaultTickInterval
	defaultMaxConcurrency  = poller.DefaultMaxConcurrency
	defaultFirstFetchCount = poller.DefaultFirstFetchCount
	defaultFirstFetchDelay = poller.DefaultFirstFetchDelay
	defaultRequestTimeout  = gateway.DefaultTimeout

	minTickInterval = 100 * time.Millisecond
)

// ErrNotRunning is returned by methods that need a started [Pollster].
var ErrNotRunning = errors.New("pollster is not running")

// ErrUnknownTimeline is returned for timeline names that are not configured.
var ErrUnknownTimeline = server.ErrUnknownTimeline

// Pollster is the main orchestrator for feed polling, timeline rendering
// and dashboard serving.
//
// Pollster polls a trsst feed service for the queries of every configured
// [Timeline], merges the results into ordered, threaded timelines and
// serves them over HTTP. It is created using [New] with functional options
// and started with [Pollster.Start].
//
// The typical lifecycle is:
//
//	tl, _ := pollster.NewTimeline("home", pollster.WithFeeds("urn:feed:abc"))
//	pb, err := pollster.New(pollster.WithTimeline(tl))
//	if err != nil {
//	    slog.Error("failed to create pollster", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	pb.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type Pollster struct {
	title             string
	serviceURL        string
	timelines         []Timeline
	port              int
	tickInterval      time.Duration
	maxConcurrency    int
	firstFetchCount   int
	firstFetchDelay   time.Duration
	requestTimeout    time.Duration
	rateLimit         float64
	cachePath         string
	logger            *slog.Logger
	snapshotCallbacks []func(Snapshot)

	mu      sync.RWMutex
	running *session
}

// session is the state of one Start call.
type session struct {
	client    *gateway.Client
	scheduler *poller.Scheduler
	renderers map[string]render.Renderer
}

// New creates a new [Pollster] instance with the given options.
//
// At least one timeline must be configured via [WithTimeline] or
// [WithTimelines]. Other options have sensible defaults:
//   - Service URL: http://localhost:8181/feed
//   - Port: 8080
//   - Tick interval: 1 second
//   - Max concurrency: 5
//
// Returns an error if no timelines are configured, timeline names repeat,
// or any option is invalid.
func New(opts ...Option) (*Pollster, error) {
	cfg := &pollsterConfig{
		serviceURL:      defaultServiceURL,
		port:            defaultPort,
		tickInterval:    defaultTickInterval,
		maxConcurrency:  defaultMaxConcurrency,
		firstFetchCount: defaultFirstFetchCount,
		firstFetchDelay: defaultFirstFetchDelay,
		requestTimeout:  defaultRequestTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.timelines) == 0 {
		return nil, errors.New("at least one timeline is required")
	}

	// timeline names key the store and the viewport API
	seen := make(map[string]bool, len(cfg.timelines))
	for _, tl := range cfg.timelines {
		if tl.name == "" {
			return nil, errors.New("timeline must be created with NewTimeline")
		}
		if seen[tl.name] {
			return nil, fmt.Errorf("duplicate timeline name: %q", tl.name)
		}
		seen[tl.name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pollster{
		title:             cfg.title,
		serviceURL:        cfg.serviceURL,
		timelines:         cfg.timelines,
		port:              cfg.port,
		tickInterval:      cfg.tickInterval,
		maxConcurrency:    cfg.maxConcurrency,
		firstFetchCount:   cfg.firstFetchCount,
		firstFetchDelay:   cfg.firstFetchDelay,
		requestTimeout:    cfg.requestTimeout,
		rateLimit:         cfg.rateLimit,
		cachePath:         cfg.cachePath,
		logger:            logger,
		snapshotCallbacks: cfg.snapshotCallbacks,
	}, nil
}

// Start begins polling, rendering every timeline and serving the dashboard.
//
// Start is a blocking call that runs until the provided context is
// cancelled. During execution:
//
//   - Every timeline subscribes its feeds and queries; the scheduler
//     fetches them right away and then backs off as content ages
//   - Follow lists configured via [WithFollowsOf] are fetched in the
//     background and their feeds added as they arrive
//   - The HTTP server starts on the configured port
//   - The dashboard is available at http://localhost:<port>
//
// Returns nil on graceful shutdown. Returns an error if the feed cache
// cannot be opened or the HTTP server fails to start. Start must not be
// called again while running.
func (pb *Pollster) Start(ctx context.Context) error {
	pb.logger.Info("pollster starting", "timeline_count", len(pb.timelines), "service_url", pb.serviceURL)
	pb.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", pb.port))

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	clientOpts := []gateway.ClientOption{
		gateway.WithTimeout(pb.requestTimeout),
		gateway.WithRateLimit(pb.rateLimit),
		gateway.WithLogger(pb.logger),
	}

	var cache *feedcache.Cache
	if pb.cachePath != "" {
		c, err := feedcache.Open(pb.cachePath)
		if err != nil {
			return fmt.Errorf("failed to open feed cache: %w", err)
		}
		cache = c
		clientOpts = append(clientOpts, gateway.WithHeaderCache(cache))
		pb.logger.Info("feed cache enabled", "path", pb.cachePath)
	}

	client, err := gateway.NewClient(pb.serviceURL, clientOpts...)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return fmt.Errorf("failed to create feed client: %w", err)
	}

	scheduler := poller.NewScheduler(client, poller.Config{
		TickInterval:    pb.tickInterval,
		MaxConcurrency:  pb.maxConcurrency,
		FirstFetchCount: pb.firstFetchCount,
		FirstFetchDelay: pb.firstFetchDelay,
	}, pb.logger)

	timelineStore := store.NewMemoryStore()

	sess := &session{
		client:    client,
		scheduler: scheduler,
		renderers: make(map[string]render.Renderer, len(pb.timelines)),
	}
	for _, tl := range pb.timelines {
		sess.renderers[tl.name] = pb.newRenderer(tl, scheduler, client, timelineStore)
	}

	pb.mu.Lock()
	pb.running = sess
	pb.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	// subscribe before the first tick so the initial fetches go out at once
	var follows sync.WaitGroup
	for _, tl := range pb.timelines {
		r := sess.renderers[tl.name]
		for _, feedID := range tl.feeds {
			r.AddFeed(feedID)
		}
		for _, q := range tl.queries {
			r.AddEntries(q.internal())
		}
		if tl.followsOf != "" {
			follows.Add(1)
			go func() {
				defer follows.Done()
				n := r.AddFeedFollows(runCtx, tl.followsOf, tl.followsLimit)
				pb.logger.Info("follows added", "timeline", tl.name, "feed_id", tl.followsOf, "count", n)
			}()
		}
	}
	scheduler.Start(runCtx)

	// cleanup disposes renderers before stopping the scheduler so that late
	// fetch results are dropped rather than rendered
	cleanup := func() {
		pb.mu.Lock()
		pb.running = nil
		pb.mu.Unlock()

		cancel()
		follows.Wait()
		for _, r := range sess.renderers {
			r.Dispose()
		}
		scheduler.Stop()
		client.Close()
		if cache != nil {
			if err := cache.Close(); err != nil {
				pb.logger.Warn("failed to close feed cache", "error", err)
			}
		}
	}

	httpServer := server.NewServer(timelineStore, controller{pb}, pb.port, dashboard.Assets, pb.title, pb.logger)
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	cleanup()
	pb.logger.Info("pollster stopped")
	return nil
}

// newRenderer builds the renderer for tl. Every pass is published to the
// timeline store first, then to the snapshot callbacks.
func (pb *Pollster) newRenderer(tl Timeline, reg render.Registry, f gateway.Fetcher, st store.Store) render.Renderer {
	direction := render.Descending
	if tl.order == OrderAscending {
		direction = render.Ascending
	}

	opts := render.Options{
		Name:          tl.name,
		Direction:     direction,
		BackfillCount: tl.backfillCount,
		Logger:        pb.logger.With("timeline", tl.name),
		Surface: render.SurfaceFunc(func(s render.Snapshot) {
			st.Update(renderSnapshotToStoreTimeline(s))

			if len(pb.snapshotCallbacks) > 0 {
				public := renderSnapshotToPublic(s)
				for _, cb := range pb.snapshotCallbacks {
					invokeCallbackSafe(cb, public, pb.logger)
				}
			}
			pb.logger.Debug("timeline rendered", "timeline", s.Name, "total", s.Total, "attached", s.Attached)
		}),
	}

	if tl.kind == KindFeeds {
		return render.NewFeedRenderer(reg, f, opts)
	}
	return render.NewEntryRenderer(reg, f, opts)
}

// NotifyChanged reports that a feed was changed locally, for example by a
// post made through another client. Every query on that feed is fetched at
// the next tick. It is a no-op when the Pollster is not running.
func (pb *Pollster) NotifyChanged(feedID string) {
	pb.mu.RLock()
	sess := pb.running
	pb.mu.RUnlock()

	if sess == nil {
		pb.logger.Debug("change notification ignored, not running", "feed_id", feedID)
		return
	}
	sess.scheduler.NotifyChanged(feedID)
}

// SetViewport reports the visible window of a timeline's presentation, in
// pixels. Entries near the window are attached and scrolling towards the
// bottom loads older entries.
//
// Returns [ErrUnknownTimeline] for names that are not configured and
// [ErrNotRunning] before Start.
func (pb *Pollster) SetViewport(name string, top, height int) error {
	if height <= 0 || top < 0 {
		return fmt.Errorf("invalid viewport: top %d, height %d", top, height)
	}

	pb.mu.RLock()
	sess := pb.running
	pb.mu.RUnlock()

	if sess == nil {
		return ErrNotRunning
	}
	r, ok := sess.renderers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTimeline, name)
	}
	r.SetViewport(render.Viewport{Top: top, Height: height})
	return nil
}

// Snapshot returns the latest rendered state of a timeline.
//
// The boolean is false for unknown names and before the first render pass
// of the timeline.
func (pb *Pollster) Snapshot(name string) (Snapshot, bool) {
	pb.mu.RLock()
	sess := pb.running
	pb.mu.RUnlock()

	if sess == nil {
		return Snapshot{}, false
	}
	r, ok := sess.renderers[name]
	if !ok {
		return Snapshot{}, false
	}
	s := r.Snapshot()
	if s.RenderedAt.IsZero() {
		return Snapshot{}, false
	}
	return renderSnapshotToPublic(s), true
}

// Timelines returns a copy of the configured timelines.
//
// The returned slice is a copy; modifying it does not affect the Pollster.
// Each [Timeline] in the slice is immutable.
func (pb *Pollster) Timelines() []Timeline {
	return slices.Clone(pb.timelines)
}

// Port returns the configured HTTP port for the dashboard server.
func (pb *Pollster) Port() int {
	return pb.port
}

// ServiceURL returns the base URL of the feed service.
func (pb *Pollster) ServiceURL() string {
	return pb.serviceURL
}

// TickInterval returns the configured interval between scheduler scans.
func (pb *Pollster) TickInterval() time.Duration {
	return pb.tickInterval
}

// controller adapts Pollster to the server's Controller.
type controller struct {
	pb *Pollster
}

func (c controller) SetViewport(name string, vp store.Viewport) error {
	return c.pb.SetViewport(name, vp.Top, vp.Height)
}

func (c controller) NotifyChanged(feedID string) {
	c.pb.NotifyChanged(feedID)
}

func (c controller) Feed(ctx context.Context, feedID string) (*atom.Feed, error) {
	c.pb.mu.RLock()
	sess := c.pb.running
	c.pb.mu.RUnlock()

	if sess == nil {
		return nil, ErrNotRunning
	}
	return sess.client.Feed(ctx, feedID)
}

// renderSnapshotToStoreTimeline converts a render snapshot to a store timeline.
func renderSnapshotToStoreTimeline(s render.Snapshot) store.Timeline {
	items := make([]store.Item, len(s.Items))
	for i, it := range s.Items {
		items[i] = store.Item{
			URN:        it.URN,
			FeedID:     it.FeedID,
			EntryID:    it.EntryID,
			ThreadRoot: it.ThreadRoot,
			Offset:     it.Offset,
			Height:     it.Height,
			View:       it.View,
		}
	}

	return store.Timeline{
		Name:           s.Name,
		Kind:           s.Kind,
		Order:          s.Order,
		Items:          items,
		Total:          s.Total,
		Attached:       s.Attached,
		Triggers:       s.Triggers,
		Backfilling:    s.Backfilling,
		PendingParents: s.Pending,
		Viewport:       store.Viewport{Top: s.Viewport.Top, Height: s.Viewport.Height},
		RenderedAt:     s.RenderedAt,
	}
}

// renderSnapshotToPublic converts an internal render snapshot to the public
// API type.
func renderSnapshotToPublic(s render.Snapshot) Snapshot {
	items := make([]Item, len(s.Items))
	for i, it := range s.Items {
		items[i] = Item{
			URN:        it.URN,
			FeedID:     it.FeedID,
			EntryID:    it.EntryID,
			ThreadRoot: it.ThreadRoot,
			Offset:     it.Offset,
			Height:     it.Height,
			View:       it.View,
		}
	}

	return Snapshot{
		Timeline:       s.Name,
		Kind:           Kind(s.Kind),
		Order:          Order(s.Order),
		Items:          items,
		Total:          s.Total,
		Backfilling:    s.Backfilling,
		PendingParents: s.Pending,
		RenderedAt:     s.RenderedAt,
	}
}

// invokeCallbackSafe calls a snapshot callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Snapshot), s Snapshot, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("snapshot callback panicked",
				"panic", r,
				"timeline", s.Timeline,
			)
		}
	}()
	cb(s)
}
