package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"sync/atomic"
	"testing"

	"github.com/jpalmerr/pollster/internal/query"
)

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, atomDoc("abc", "", "01"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestClient_ConnectionReuse verifies that sequential fetches against the
// same service reuse pooled connections.
func TestClient_ConnectionReuse(t *testing.T) {
	client := newTestClient(t, feedServer(t))

	var reusedCount atomic.Int32
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				reusedCount.Add(1)
			}
		},
	}

	const numRequests = 5

	for i := 0; i < numRequests; i++ {
		ctx := httptrace.WithClientTrace(context.Background(), trace)
		if _, err := client.Fetch(ctx, query.ForFeed("abc")); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	// all requests after the first should reuse the connection
	expectedMinReuse := int32(numRequests - 2) // allow some tolerance
	if got := reusedCount.Load(); got < expectedMinReuse {
		t.Errorf("expected at least %d reused connections, got %d out of %d requests",
			expectedMinReuse, got, numRequests)
	}
}

// TestClient_Close verifies that Close() is safe to call and idempotent.
func TestClient_Close(t *testing.T) {
	client, err := NewClient("http://localhost:8181/feed")
	if err != nil {
		t.Fatal(err)
	}

	client.Close()
	client.Close()
}

// TestClient_Close_NilClient verifies that Close() handles nil receiver safely.
func TestClient_Close_NilClient(t *testing.T) {
	var client *Client
	client.Close()
}

// TestClient_UsableAfterClose verifies that Close only drops idle
// connections and the client keeps working.
func TestClient_UsableAfterClose(t *testing.T) {
	client := newTestClient(t, feedServer(t))

	for i := 0; i < 3; i++ {
		if _, err := client.Fetch(context.Background(), query.ForFeed("abc")); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	client.Close()

	if _, err := client.Fetch(context.Background(), query.ForFeed("abc")); err != nil {
		t.Errorf("request after Close failed: %v", err)
	}
}
