package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeController records calls from the API.
type fakeController struct {
	mu        sync.Mutex
	viewports map[string]store.Viewport
	notified  []string
	feeds     map[string]*atom.Feed
	feedErr   error
}

func newFakeController(timelines ...string) *fakeController {
	c := &fakeController{
		viewports: make(map[string]store.Viewport),
		feeds:     make(map[string]*atom.Feed),
	}
	for _, name := range timelines {
		c.viewports[name] = store.Viewport{}
	}
	return c
}

func (c *fakeController) SetViewport(name string, vp store.Viewport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.viewports[name]; !ok {
		return fmt.Errorf("set viewport %q: %w", name, ErrUnknownTimeline)
	}
	c.viewports[name] = vp
	return nil
}

func (c *fakeController) NotifyChanged(feedID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, feedID)
}

func (c *fakeController) Feed(_ context.Context, feedID string) (*atom.Feed, error) {
	if c.feedErr != nil {
		return nil, c.feedErr
	}
	if feed, ok := c.feeds[feedID]; ok {
		return feed, nil
	}
	return nil, &gateway.StatusError{URL: "http://trsst/" + feedID, StatusCode: http.StatusNotFound}
}

func newTestServer(st store.Store, ctl Controller) *Server {
	return NewServer(st, ctl, 0, nil, "", testLogger())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- REST API ---

func TestHandleTimelines(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Timeline{Name: "replies", Kind: "entries"})
	st.Update(store.Timeline{Name: "home", Kind: "entries", Total: 2})
	h := newTestServer(st, newFakeController()).Handler()

	rec := do(t, h, http.MethodGet, "/api/timelines", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got []store.Timeline
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 || got[0].Name != "home" || got[0].Total != 2 {
		t.Errorf("timelines = %+v", got)
	}
}

func TestHandleTimeline(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Timeline{Name: "home", Items: []store.Item{{URN: "urn:entry:abc:01"}}})
	h := newTestServer(st, newFakeController()).Handler()

	rec := do(t, h, http.MethodGet, "/api/timelines/home", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "urn:entry:abc:01") {
		t.Errorf("body = %s", rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/api/timelines/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing timeline status = %d, want 404", rec.Code)
	}
}

func TestHandleViewport(t *testing.T) {
	ctl := newFakeController("home")
	h := newTestServer(store.NewMemoryStore(), ctl).Handler()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"ok", "/api/timelines/home/viewport", `{"top":400,"height":800}`, http.StatusNoContent},
		{"unknown timeline", "/api/timelines/missing/viewport", `{"top":0,"height":800}`, http.StatusNotFound},
		{"malformed", "/api/timelines/home/viewport", `{"top":`, http.StatusBadRequest},
		{"unknown field", "/api/timelines/home/viewport", `{"top":0,"height":1,"width":2}`, http.StatusBadRequest},
		{"zero height", "/api/timelines/home/viewport", `{"top":0,"height":0}`, http.StatusBadRequest},
		{"negative top", "/api/timelines/home/viewport", `{"top":-1,"height":10}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	if got := ctl.viewports["home"]; got.Top != 400 || got.Height != 800 {
		t.Errorf("viewport = %+v, want {400 800}", got)
	}
}

func TestHandleViewport_MethodNotAllowed(t *testing.T) {
	h := newTestServer(store.NewMemoryStore(), newFakeController("home")).Handler()
	rec := do(t, h, http.MethodPost, "/api/timelines/home/viewport", `{"top":0,"height":1}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleNotify(t *testing.T) {
	ctl := newFakeController()
	h := newTestServer(store.NewMemoryStore(), ctl).Handler()

	if rec := do(t, h, http.MethodPost, "/api/notify", `{"feed_id":"urn:feed:abc"}`); rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/notify", `{"feed_id":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank feed_id status = %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/notify", `nope`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed status = %d, want 400", rec.Code)
	}

	if len(ctl.notified) != 1 || ctl.notified[0] != "urn:feed:abc" {
		t.Errorf("notified = %v, want [urn:feed:abc]", ctl.notified)
	}
}

func TestHandleFeed(t *testing.T) {
	ctl := newFakeController()
	ctl.feeds["abc"] = &atom.Feed{ID: "urn:feed:abc", Title: "Alice", Authors: []string{"alice"}}
	h := newTestServer(store.NewMemoryStore(), ctl).Handler()

	rec := do(t, h, http.MethodGet, "/api/feeds/abc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got feedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.ID != "urn:feed:abc" || got.Title != "Alice" {
		t.Errorf("feed = %+v", got)
	}

	if rec := do(t, h, http.MethodGet, "/api/feeds/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing feed status = %d, want 404", rec.Code)
	}

	ctl.feedErr = errors.New("connection refused")
	if rec := do(t, h, http.MethodGet, "/api/feeds/abc", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d, want 502", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(store.NewMemoryStore(), newFakeController()).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}

// --- SSE ---

func TestHandleSSE_BasicFlow(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Timeline{Name: "home"})
	st.Update(store.Timeline{Name: "replies"})
	srv := newTestServer(st, newFakeController())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	body := rec.Body.String()
	for _, name := range []string{`"name":"home"`, `"name":"replies"`} {
		if !strings.Contains(body, name) {
			t.Errorf("response should contain %s, got: %s", name, body)
		}
	}
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(st, newFakeController())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)
	st.Update(store.Timeline{Name: "streamed", Total: 7})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 1 || events[0].Name != "streamed" || events[0].Total != 7 {
		t.Errorf("events = %+v, want one streamed update", events)
	}
}

func TestHandleSSE_ConcurrentClientsShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Timeline{Name: "home"})
	srv := newTestServer(st, newFakeController())

	serverCtx, serverCancel := context.WithCancel(context.Background())

	numClients := 10
	var wg sync.WaitGroup
	started := make(chan struct{})
	var startedCount atomic.Int32

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(serverCtx)
			rec := httptest.NewRecorder()

			if startedCount.Add(1) == int32(numClients) {
				close(started)
			}
			srv.handleSSE(rec, req)
		}()
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("clients did not start in time")
	}
	time.Sleep(100 * time.Millisecond)

	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all handlers exited after shutdown")
	}
}

type nonFlushWriter struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func (n *nonFlushWriter) Header() http.Header         { return n.header }
func (n *nonFlushWriter) Write(b []byte) (int, error) { return n.body.Write(b) }
func (n *nonFlushWriter) WriteHeader(statusCode int)  { n.statusCode = statusCode }

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore(), newFakeController())

	w := &nonFlushWriter{header: make(http.Header)}
	srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/api/sse", nil))

	if w.statusCode != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.statusCode)
	}
}

func TestHandleSSE_Headers(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore(), newFakeController())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	expectedHeaders := map[string]string{
		"Content-Type":                "text/event-stream",
		"Cache-Control":               "no-cache",
		"Connection":                  "keep-alive",
		"Access-Control-Allow-Origin": "*",
	}
	for key, expected := range expectedHeaders {
		if got := rec.Header().Get(key); got != expected {
			t.Errorf("header %s = %q, want %q", key, got, expected)
		}
	}
}

// TestHandleSSE_ServerShutdownIntegration checks that an SSE stream over a
// real connection closes when the server context is cancelled.
func TestHandleSSE_ServerShutdownIntegration(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Timeline{Name: "home"})
	srv := newTestServer(st, newFakeController())

	serverCtx, serverCancel := context.WithCancel(context.Background())
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// simulates BaseContext
		srv.handleSSE(w, r.WithContext(serverCtx))
	})

	ts := httptest.NewServer(handler)
	defer ts.Close()

	connDone := make(chan error, 1)
	go func() {
		resp, err := ts.Client().Get(ts.URL)
		if err != nil {
			connDone <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()
		_, err = io.Copy(io.Discard, resp.Body)
		connDone <- err
	}()

	time.Sleep(100 * time.Millisecond)
	serverCancel()

	select {
	case <-connDone:
	case <-time.After(3 * time.Second):
		t.Fatal("SSE connection did not close after server shutdown")
	}
}

// parseSSEEvents extracts timelines from "data: {...}\n\n" frames.
func parseSSEEvents(body string) []store.Timeline {
	var events []store.Timeline
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var t store.Timeline
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &t); err == nil {
			events = append(events, t)
		}
	}
	return events
}

// --- Start ---

func TestStart_AvailablePort_ReturnsNil(t *testing.T) {
	// port 0 = OS assigns available port
	srv := newTestServer(store.NewMemoryStore(), newFakeController())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Errorf("Start() on available port returned error: %v", err)
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	srv := NewServer(store.NewMemoryStore(), newFakeController(), port, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

// --- Dashboard ---

func dashboardFS(content string) fstest.MapFS {
	return fstest.MapFS{"assets/index.html": &fstest.MapFile{Data: []byte(content)}}
}

func TestHandleDashboard_Title(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"custom", "Home timeline", "<title>Home timeline</title>"},
		{"default", "", "<title>pollster</title>"},
		{"escaped", "<script>alert('xss')</script>", "<title>&lt;script&gt;"},
		{"ampersand", "News & Replies", "<title>News &amp; Replies</title>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(store.NewMemoryStore(), newFakeController(), 0, dashboardFS("<title>{{.Title}}</title>"), tt.title, testLogger())
			rec := do(t, srv.Handler(), http.MethodGet, "/", "")
			if body := rec.Body.String(); !strings.Contains(body, tt.want) {
				t.Errorf("body = %s, want %s", body, tt.want)
			}
		})
	}
}

func TestHandleDashboard_Errors(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), newFakeController(), 0, nil, "", testLogger())
	rec := httptest.NewRecorder()
	srv.handleDashboard(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("nil assets status = %d, want 500", rec.Code)
	}

	srv = NewServer(store.NewMemoryStore(), newFakeController(), 0, dashboardFS("x"), "", testLogger())
	if rec := do(t, srv.Handler(), http.MethodGet, "/other", ""); rec.Code != http.StatusNotFound {
		t.Errorf("non-root status = %d, want 404", rec.Code)
	}
}
