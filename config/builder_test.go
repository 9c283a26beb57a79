package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jpalmerr/pollster"
)

func TestBuildTimelines_Single(t *testing.T) {
	cfg := &Config{
		Timelines: []TimelineConfig{
			{Name: "home", Feeds: []string{"urn:feed:abc"}},
		},
	}

	timelines, err := BuildTimelines(cfg)
	if err != nil {
		t.Fatalf("BuildTimelines() error = %v", err)
	}
	if len(timelines) != 1 {
		t.Fatalf("len(timelines) = %d, want 1", len(timelines))
	}

	tl := timelines[0]
	if tl.Name() != "home" {
		t.Errorf("Name() = %q, want %q", tl.Name(), "home")
	}
	if tl.Kind() != pollster.KindEntries || tl.Order() != pollster.OrderDescending {
		t.Errorf("Kind()/Order() = %s/%s, want defaults", tl.Kind(), tl.Order())
	}
	if !reflect.DeepEqual(tl.Feeds(), []string{"urn:feed:abc"}) {
		t.Errorf("Feeds() = %v", tl.Feeds())
	}
}

func TestBuildTimelines_AllOptions(t *testing.T) {
	cfg := &Config{
		Timelines: []TimelineConfig{
			{
				Name:          "home",
				Kind:          "feeds",
				Order:         "ascending",
				Feeds:         []string{"a", "b"},
				FollowsOf:     "urn:feed:me",
				FollowsLimit:  20,
				BackfillCount: 8,
				Queries: []QueryConfig{
					{
						FeedID:  "urn:feed:abc",
						Verb:    "reply",
						Author:  "alice",
						Search:  "hello",
						Mention: StringList{"urn:feed:me"},
						Tag:     StringList{"go", "atom"},
					},
				},
			},
		},
	}

	timelines, err := BuildTimelines(cfg)
	if err != nil {
		t.Fatalf("BuildTimelines() error = %v", err)
	}

	tl := timelines[0]
	if tl.Kind() != pollster.KindFeeds {
		t.Errorf("Kind() = %s, want feeds", tl.Kind())
	}
	if tl.Order() != pollster.OrderAscending {
		t.Errorf("Order() = %s, want ascending", tl.Order())
	}
	if tl.FollowsOf() != "urn:feed:me" || tl.FollowsLimit() != 20 {
		t.Errorf("follows = %q/%d", tl.FollowsOf(), tl.FollowsLimit())
	}
	if tl.BackfillCount() != 8 {
		t.Errorf("BackfillCount() = %d, want 8", tl.BackfillCount())
	}

	want := pollster.Query{
		FeedID:   "urn:feed:abc",
		Verb:     "reply",
		Author:   "alice",
		Search:   "hello",
		Mentions: []string{"urn:feed:me"},
		Tags:     []string{"go", "atom"},
	}
	if got := tl.Queries(); len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Errorf("Queries() = %+v, want [%+v]", got, want)
	}
}

func TestBuildTimelines_PreservesOrder(t *testing.T) {
	cfg := &Config{
		Timelines: []TimelineConfig{
			{Name: "c", Feeds: []string{"x"}},
			{Name: "a", Feeds: []string{"x"}},
			{Name: "b", Feeds: []string{"x"}},
		},
	}

	timelines, err := BuildTimelines(cfg)
	if err != nil {
		t.Fatalf("BuildTimelines() error = %v", err)
	}

	var names []string
	for _, tl := range timelines {
		names = append(names, tl.Name())
	}
	if !reflect.DeepEqual(names, []string{"c", "a", "b"}) {
		t.Errorf("names = %v, want configuration order", names)
	}
}

func TestBuildTimelines_InvalidTimeline(t *testing.T) {
	// bypasses Parse validation
	cfg := &Config{
		Timelines: []TimelineConfig{
			{Name: "ok", Feeds: []string{"x"}},
			{Name: "bad", Kind: "grid", Feeds: []string{"x"}},
		},
	}

	_, err := BuildTimelines(cfg)
	if err == nil {
		t.Fatal("BuildTimelines() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "timelines[1]") {
		t.Errorf("error = %v, want it to name timelines[1]", err)
	}
}

func TestBuildTimelines_QueryIsolation(t *testing.T) {
	cfg := &Config{
		Timelines: []TimelineConfig{
			{Name: "home", Queries: []QueryConfig{{Tag: StringList{"go"}}}},
		},
	}

	timelines, err := BuildTimelines(cfg)
	if err != nil {
		t.Fatalf("BuildTimelines() error = %v", err)
	}

	cfg.Timelines[0].Queries[0].Tag[0] = "modified"
	if got := timelines[0].Queries()[0].Tags[0]; got != "go" {
		t.Errorf("Tags[0] = %q, config mutation leaked into timeline", got)
	}
}

func TestOptions_BuildsPollster(t *testing.T) {
	yaml := `
title: Home
port: 9191
service_url: https://trsst.example.com/feed
tick_interval: 250ms
max_concurrency: 3
first_fetch_count: 6
first_fetch_delay: 30s
request_timeout: 2s
rate_limit: 5
cache_path: /tmp/pollster-feeds.db
timelines:
  - name: home
    feeds: [abc]
  - name: people
    kind: feeds
    feeds: [abc]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts, err := Options(cfg)
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}

	pb, err := pollster.New(opts...)
	if err != nil {
		t.Fatalf("pollster.New() error = %v", err)
	}
	if pb.Port() != 9191 {
		t.Errorf("Port() = %d, want 9191", pb.Port())
	}
	if pb.ServiceURL() != "https://trsst.example.com/feed" {
		t.Errorf("ServiceURL() = %q", pb.ServiceURL())
	}
	if pb.TickInterval().String() != "250ms" {
		t.Errorf("TickInterval() = %v, want 250ms", pb.TickInterval())
	}
	if len(pb.Timelines()) != 2 {
		t.Errorf("len(Timelines()) = %d, want 2", len(pb.Timelines()))
	}
}

func TestOptions_MinimalUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("timelines:\n  - name: home\n    feeds: [abc]\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts, err := Options(cfg)
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	pb, err := pollster.New(opts...)
	if err != nil {
		t.Fatalf("pollster.New() error = %v", err)
	}
	if pb.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", pb.Port())
	}
	if pb.TickInterval().String() != "1s" {
		t.Errorf("TickInterval() = %v, want 1s", pb.TickInterval())
	}
}
