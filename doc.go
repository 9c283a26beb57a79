// Package pollster renders live timelines from a trsst feed service and
// serves them as an embeddable, real-time dashboard.
//
// pollster is designed as an SDK-first library. Timelines are immutable
// values built with functional options; a [Pollster] polls the feed service
// for every timeline, merges pages as they arrive into ordered, threaded
// lists, and publishes each render pass over HTTP.
//
// # Quick Start
//
// Create a timeline and start the dashboard with graceful shutdown:
//
//	tl, _ := pollster.NewTimeline("home", pollster.WithFeeds("urn:feed:abc"))
//	pb, _ := pollster.New(
//	    pollster.WithTimeline(tl),
//	    pollster.WithServiceURL("http://localhost:8181/feed"),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	pb.Start(ctx) // blocks until context is cancelled
//
// # Timelines
//
// A timeline combines any number of sources:
//
//	tl, err := pollster.NewTimeline("mentions",
//	    pollster.WithFeeds("urn:feed:me"),
//	    pollster.WithQuery(pollster.Query{Mentions: []string{"urn:feed:me"}}),
//	    pollster.WithFollowsOf("urn:feed:me", 50),
//	    pollster.WithOrder(pollster.OrderDescending),
//	)
//
// Entry timelines ([KindEntries]) order top-level entries by id and nest
// replies directly under their thread root, fetching roots that are not
// yet loaded. Feed timelines ([KindFeeds]) show one card per feed.
//
// # Polling
//
// Every distinct query is fetched by a single task shared by all timelines
// that subscribe to it. A task's first fetch asks for a small page; later
// fetches only ask for entries newer than the latest seen, and the delay
// between fetches grows with the age of the feed's content. Use
// [Pollster.NotifyChanged] to have a feed fetched at the next tick after a
// local change.
//
// Only items near the presentation's viewport are attached. Moving the
// viewport with [Pollster.SetViewport] towards the end of a timeline
// fetches older pages.
//
// # Architecture
//
// pollster consists of several internal packages (under internal/):
//
//   - internal/query: Immutable filter values and their fingerprints
//   - internal/atom: trsst Atom model and urn helpers
//   - internal/gateway: HTTP client for the feed service
//   - internal/feedcache: SQLite cache of feed headers
//   - internal/poller: Task store and adaptive scheduler
//   - internal/render: Timeline merging, threading and lazy layout
//   - internal/store: In-memory storage with pub/sub for real-time updates
//   - internal/server: HTTP server with REST API and Server-Sent Events
//   - dashboard: Embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package pollster
