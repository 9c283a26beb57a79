package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/feedcache"
	"github.com/jpalmerr/pollster/internal/query"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// atomDoc renders a minimal trsst feed page.
func atomDoc(feedID, next string, entryIDs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<feed xmlns="http://www.w3.org/2005/Atom"><id>urn:feed:%s</id><title>%s</title><updated>2014-06-01T10:00:00Z</updated>`, feedID, feedID)
	if next != "" {
		fmt.Fprintf(&b, `<link rel="next" href="%s"/>`, strings.ReplaceAll(next, "&", "&amp;"))
	}
	for _, id := range entryIDs {
		fmt.Fprintf(&b, `<entry><id>urn:entry:%s:%s</id><title>%s</title><updated>2014-06-01T10:00:00Z</updated></entry>`, feedID, id, id)
	}
	b.WriteString(`</feed>`)
	return b.String()
}

// pagedServer serves feed "abc" as three pages keyed by the before cursor.
func pagedServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.URL.RequestURI())
		mu.Unlock()

		w.Header().Set("Content-Type", "application/atom+xml")
		switch r.URL.Query().Get("before") {
		case "":
			fmt.Fprint(w, atomDoc("abc", "/feed/abc?before=0a", "0c", "0b"))
		case "0a":
			fmt.Fprint(w, atomDoc("abc", "/feed/abc?before=08"))
		case "08":
			fmt.Fprint(w, atomDoc("abc", "", "07"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), requests...)
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithLogger(testLogger())}, opts...)
	c, err := NewClient(srv.URL+"/feed", opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, raw := range []string{"ftp://host/feed", "http://", "::nope"} {
		if _, err := NewClient(raw); err == nil {
			t.Errorf("NewClient(%q) expected error", raw)
		}
	}
}

func TestClient_URL(t *testing.T) {
	c, err := NewClient("http://localhost:8181/feed/")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		q    query.Query
		want string
	}{
		{"feed urn", query.ForFeed("urn:feed:abc"), "http://localhost:8181/feed/abc"},
		{"entry", query.ForEntry("abc", "00ff"), "http://localhost:8181/feed/abc/00ff?count=1"},
		{"global search", query.New().With(query.KeyTag, "go"), "http://localhost:8181/feed?tag=go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.URL(tt.q); got != tt.want {
				t.Errorf("URL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClient_Fetch(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r.Clone(context.Background())
		fmt.Fprint(w, atomDoc("abc", "", "0c", "05"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page, err := c.Fetch(context.Background(), query.ForFeed("urn:feed:abc").WithCount(3))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	r := <-reqs
	if r.URL.Path != "/feed/abc" || r.URL.Query().Get("count") != "3" {
		t.Errorf("request = %s", r.URL.RequestURI())
	}
	if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
		t.Errorf("User-Agent = %q", ua)
	}
	if len(page.Entries()) != 2 || !page.Final() {
		t.Errorf("page entries = %d final = %v", len(page.Entries()), page.Final())
	}
}

func TestClient_FetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Fetch(context.Background(), query.ForFeed("missing"))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Fetch() error = %v, want StatusError 404", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false")
	}
}

func TestClient_FetchParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not a feed</html>")
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv).Fetch(context.Background(), query.ForFeed("abc")); err == nil {
		t.Error("Fetch() expected parse error")
	}
}

func TestPull_PartialContinuesUntilFinal(t *testing.T) {
	srv, requests := pagedServer(t)
	c := newTestClient(t, srv)

	var partials int
	var final *Page
	finals := 0
	Pull(context.Background(), c, query.ForFeed("abc"), Callbacks{
		Partial: func(p *Page) bool {
			partials++
			return true
		},
		Final: func(p *Page) {
			finals++
			final = p
		},
	}, testLogger())

	if partials != 2 || finals != 1 {
		t.Errorf("partials = %d finals = %d, want 2 and 1", partials, finals)
	}
	if final == nil || len(final.Entries()) != 1 || final.Entries()[0].EntryID() != "07" {
		t.Errorf("final page = %+v", final)
	}
	if got := requests(); len(got) != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
}

func TestPull_PartialStops(t *testing.T) {
	srv, requests := pagedServer(t)
	c := newTestClient(t, srv)

	finalCalled := false
	Pull(context.Background(), c, query.ForFeed("abc"), Callbacks{
		Partial: func(p *Page) bool { return false },
		Final:   func(p *Page) { finalCalled = true },
	}, testLogger())

	if finalCalled {
		t.Error("Final called after Partial returned false")
	}
	if got := requests(); len(got) != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}

func TestPull_SingleCallbackGetsEveryPage(t *testing.T) {
	srv, _ := pagedServer(t)
	c := newTestClient(t, srv)

	var pages int
	Pull(context.Background(), c, query.ForFeed("abc"), Callbacks{
		Final: func(p *Page) { pages++ },
	}, testLogger())

	if pages != 3 {
		t.Errorf("Final calls = %d, want 3", pages)
	}
}

func TestPull_FailureDeliversNil(t *testing.T) {
	failing := FetcherFunc(func(ctx context.Context, q query.Query) (*Page, error) {
		return nil, errors.New("boom")
	})

	called := false
	Pull(context.Background(), failing, query.ForFeed("abc"), Callbacks{
		Partial: func(p *Page) bool {
			t.Error("Partial called on failure")
			return true
		},
		Final: func(p *Page) {
			called = true
			if p != nil {
				t.Errorf("Final page = %+v, want nil", p)
			}
		},
	}, testLogger())

	if !called {
		t.Error("Final not called on failure")
	}
}

func TestPages(t *testing.T) {
	srv, _ := pagedServer(t)
	c := newTestClient(t, srv)

	var ids []string
	seq := Pages(context.Background(), c, query.ForFeed("abc"), testLogger())
	for page := range seq {
		for _, e := range page.Entries() {
			ids = append(ids, e.EntryID())
		}
	}
	if got := strings.Join(ids, ","); got != "0c,0b,07" {
		t.Errorf("entries = %s, want 0c,0b,07", got)
	}

	// the sequence restarts from the original query
	first := 0
	for range seq {
		first++
		break
	}
	if first != 1 {
		t.Errorf("restart yielded %d pages", first)
	}
}

func TestPages_FailureYieldsNil(t *testing.T) {
	failing := FetcherFunc(func(ctx context.Context, q query.Query) (*Page, error) {
		return nil, errors.New("boom")
	})

	var got []*Page
	for page := range Pages(context.Background(), failing, query.ForFeed("abc"), testLogger()) {
		got = append(got, page)
	}
	if len(got) != 1 || got[0] != nil {
		t.Errorf("Pages() = %v, want [nil]", got)
	}
}

func TestPage_NextQuery(t *testing.T) {
	q := query.ForFeed("abc").WithCount(5)
	page := NewPage(&atom.Feed{Next: "/feed/abc?count=5&before=0a"})

	next, ok := page.NextQuery(q)
	if !ok {
		t.Fatal("NextQuery() ok = false")
	}
	if next.Get(query.KeyBefore) != "0a" || next.FeedID() != "abc" {
		t.Errorf("NextQuery() = %s", next)
	}

	// a cursor that does not move is treated as the end
	if _, ok := NewPage(&atom.Feed{Next: "/feed/abc?count=5"}).NextQuery(q); ok {
		t.Error("NextQuery() ok = true for a cursor that does not change the query")
	}
	if _, ok := NewPage(&atom.Feed{}).NextQuery(q); ok {
		t.Error("NextQuery() ok = true without cursor")
	}
}

type memoryCache struct {
	mu    sync.Mutex
	feeds map[string]*atom.Feed
}

func (m *memoryCache) Put(_ context.Context, f *atom.Feed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[atom.FeedIDFromFeedURN(f.ID)] = f
	return nil
}

func (m *memoryCache) Get(_ context.Context, id string) (feedcache.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[atom.FeedIDFromFeedURN(id)]
	if !ok {
		return feedcache.Record{}, feedcache.ErrNotFound
	}
	return feedcache.Record{Feed: f}, nil
}

func TestClient_Feed(t *testing.T) {
	var hits atomic.Int32
	counts := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		counts <- r.URL.Query().Get("count")
		fmt.Fprint(w, atomDoc("abc", ""))
	}))
	defer srv.Close()

	cache := &memoryCache{feeds: map[string]*atom.Feed{}}
	c := newTestClient(t, srv, WithHeaderCache(cache))

	f, err := c.Feed(context.Background(), "urn:feed:abc")
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if count := <-counts; f.Title != "abc" || count != "0" {
		t.Errorf("Feed() = %+v count=%s", f, count)
	}

	// second lookup is served from the cache
	if _, err := c.Feed(context.Background(), "abc"); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}

func TestClient_RateLimitRespectsContext(t *testing.T) {
	srv, _ := pagedServer(t)
	c := newTestClient(t, srv, WithRateLimit(0.001))

	// the first request consumes the burst
	if _, err := c.Fetch(context.Background(), query.ForFeed("abc")); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Fetch(ctx, query.ForFeed("abc")); err == nil {
		t.Error("Fetch() expected error when limiter wait is cancelled")
	}
}
