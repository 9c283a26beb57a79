package pollster

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testTimeline(t *testing.T, name string) Timeline {
	t.Helper()
	tl, err := NewTimeline(name, WithFeeds("urn:feed:abc"))
	if err != nil {
		t.Fatalf("NewTimeline() error = %v", err)
	}
	return tl
}

func TestNew_Valid(t *testing.T) {
	pb, err := New(WithTimeline(testTimeline(t, "home")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if len(pb.Timelines()) != 1 {
		t.Errorf("len(Timelines()) = %v, want %v", len(pb.Timelines()), 1)
	}
}

func TestNew_NoTimelines(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Error("New() expected error for no timelines, got nil")
	}
}

func TestNew_ZeroTimeline(t *testing.T) {
	_, err := New(WithTimeline(Timeline{}))
	if err == nil {
		t.Error("New() expected error for zero Timeline, got nil")
	}
}

func TestNew_DuplicateTimelineNames(t *testing.T) {
	_, err := New(
		WithTimelines(testTimeline(t, "home"), testTimeline(t, "mentions"), testTimeline(t, "home")),
	)
	if err == nil {
		t.Fatal("New() expected error for duplicate timeline names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate timeline name") {
		t.Errorf("New() error = %v, want error containing 'duplicate timeline name'", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	pb, err := New(WithTimeline(testTimeline(t, "home")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if pb.Port() != 8080 {
		t.Errorf("Port() = %v, want %v", pb.Port(), 8080)
	}
	if pb.ServiceURL() != "http://localhost:8181/feed" {
		t.Errorf("ServiceURL() = %v, want %v", pb.ServiceURL(), "http://localhost:8181/feed")
	}
	if pb.TickInterval() != time.Second {
		t.Errorf("TickInterval() = %v, want %v", pb.TickInterval(), time.Second)
	}
	if pb.maxConcurrency != 5 {
		t.Errorf("maxConcurrency = %v, want %v", pb.maxConcurrency, 5)
	}
	if pb.firstFetchCount != 3 || pb.firstFetchDelay != 15*time.Second {
		t.Errorf("first fetch = %d/%v, want 3/15s", pb.firstFetchCount, pb.firstFetchDelay)
	}
	if pb.requestTimeout != 10*time.Second {
		t.Errorf("requestTimeout = %v, want 10s", pb.requestTimeout)
	}
	if pb.logger != slog.Default() {
		t.Error("logger should default to slog.Default()")
	}
}

func TestNew_AllOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	pb, err := New(
		WithTimeline(testTimeline(t, "home")),
		WithServiceURL("https://trsst.example.com/feed"),
		WithPort(9090),
		WithTickInterval(250*time.Millisecond),
		WithMaxConcurrency(2),
		WithFirstFetchCount(7),
		WithFirstFetchDelay(time.Minute),
		WithRequestTimeout(3*time.Second),
		WithRateLimit(4),
		WithCachePath("/tmp/feeds.db"),
		WithLogger(logger),
		WithTitle("Home"),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if pb.ServiceURL() != "https://trsst.example.com/feed" {
		t.Errorf("ServiceURL() = %v", pb.ServiceURL())
	}
	if pb.Port() != 9090 {
		t.Errorf("Port() = %v, want 9090", pb.Port())
	}
	if pb.TickInterval() != 250*time.Millisecond {
		t.Errorf("TickInterval() = %v, want 250ms", pb.TickInterval())
	}
	if pb.maxConcurrency != 2 || pb.firstFetchCount != 7 || pb.firstFetchDelay != time.Minute {
		t.Errorf("scheduler config = %d/%d/%v", pb.maxConcurrency, pb.firstFetchCount, pb.firstFetchDelay)
	}
	if pb.requestTimeout != 3*time.Second || pb.rateLimit != 4 {
		t.Errorf("client config = %v/%v", pb.requestTimeout, pb.rateLimit)
	}
	if pb.cachePath != "/tmp/feeds.db" {
		t.Errorf("cachePath = %q", pb.cachePath)
	}
	if pb.logger != logger {
		t.Error("logger not applied")
	}
	if pb.title != "Home" {
		t.Errorf("title = %q, want Home", pb.title)
	}
}

func TestOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"port zero", WithPort(0)},
		{"port too high", WithPort(70000)},
		{"tick too short", WithTickInterval(10 * time.Millisecond)},
		{"zero concurrency", WithMaxConcurrency(0)},
		{"zero first fetch count", WithFirstFetchCount(0)},
		{"zero first fetch delay", WithFirstFetchDelay(0)},
		{"zero request timeout", WithRequestTimeout(0)},
		{"negative rate limit", WithRateLimit(-1)},
		{"nil logger", WithLogger(nil)},
		{"service url without scheme", WithServiceURL("localhost:8181/feed")},
		{"service url ftp", WithServiceURL("ftp://example.com/feed")},
		{"service url without host", WithServiceURL("http:///feed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithTimeline(testTimeline(t, "home")), tt.opt)
			if err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestWithSnapshotCallback_NilIgnored(t *testing.T) {
	pb, err := New(
		WithTimeline(testTimeline(t, "home")),
		WithSnapshotCallback(nil),
		WithSnapshotCallback(func(Snapshot) {}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(pb.snapshotCallbacks) != 1 {
		t.Errorf("len(snapshotCallbacks) = %d, want 1", len(pb.snapshotCallbacks))
	}
}

func TestTimelines_ReturnsCopy(t *testing.T) {
	pb, err := New(WithTimelines(testTimeline(t, "a"), testTimeline(t, "b")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := pb.Timelines()
	got[0] = testTimeline(t, "modified")

	if pb.Timelines()[0].Name() != "a" {
		t.Error("modifying Timelines() result affected the Pollster")
	}
}
