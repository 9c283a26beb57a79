package render

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/poller"
	"github.com/jpalmerr/pollster/internal/query"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testFeed = "abc"

func post(id string) *atom.Entry {
	return &atom.Entry{
		ID:      atom.EntryURN(testFeed, id),
		Summary: "entry " + id,
		Verb:    atom.VerbPost,
		Updated: "2014-06-01T11:00:00Z",
	}
}

func reply(id, parentID string) *atom.Entry {
	e := post(id)
	e.Verb = atom.VerbReply
	e.Mentions = []string{"urn:feed:someone", atom.EntryURN(testFeed, parentID)}
	return e
}

func urn(id string) string {
	return atom.EntryURN(testFeed, id)
}

func pageOf(next string, entries ...*atom.Entry) *gateway.Page {
	return gateway.NewPage(&atom.Feed{
		ID:      atom.FeedURNPrefix + testFeed,
		Title:   "Test feed",
		Updated: "2014-06-01T11:00:00Z",
		Next:    next,
		Entries: entries,
	})
}

// testFactory builds fixed height cards and suppresses encrypted entries.
func testFactory(_ *atom.Feed, e *atom.Entry) *Card {
	if e.IsEncrypted() {
		return nil
	}
	return &Card{Height: 100, View: e.ID}
}

// fakeRegistry records subscriptions without polling.
type fakeRegistry struct {
	mu           sync.Mutex
	subscribed   []query.Query
	unsubscribed int
}

func (r *fakeRegistry) Subscribe(q query.Query, _ poller.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, q)
}

func (r *fakeRegistry) Unsubscribe(poller.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribed++
}

func (r *fakeRegistry) Subscribed() []query.Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]query.Query(nil), r.subscribed...)
}

func (r *fakeRegistry) Unsubscribed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribed
}

// fakeFetcher records every query and answers through respond.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []query.Query
	respond func(ctx context.Context, q query.Query) (*gateway.Page, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, q query.Query) (*gateway.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return pageOf(""), nil
	}
	return respond(ctx, q)
}

func (f *fakeFetcher) Calls() []query.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]query.Query(nil), f.calls...)
}

func testOptions() Options {
	return Options{
		Name:         "test",
		EntryFactory: testFactory,
		Logger:       testLogger(),
		// passes only run through Flush
		RenderDelay: time.Hour,
		ScrollDelay: time.Hour,
	}
}

func newTestRenderer(t *testing.T, f gateway.Fetcher, opts Options) (*EntryRenderer, *fakeRegistry) {
	t.Helper()
	reg := &fakeRegistry{}
	r := NewEntryRenderer(reg, f, opts)
	t.Cleanup(r.Dispose)
	return r, reg
}

func assertURNs(t *testing.T, got []string, wantIDs ...string) {
	t.Helper()
	if len(got) != len(wantIDs) {
		t.Fatalf("URNs() = %v, want %d items", got, len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i] != urn(id) {
			t.Errorf("URNs()[%d] = %s, want %s", i, got[i], urn(id))
		}
	}
}
