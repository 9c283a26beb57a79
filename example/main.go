package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pollster"
	"github.com/jpalmerr/pollster/example/mocktrsst"
)

func main() {
	// start mock trsst service (see mocktrsst)
	mock := mocktrsst.New(slog.Default())
	stopMock := make(chan struct{})
	defer close(stopMock)
	go mock.Run(stopMock)
	go func() {
		if err := http.ListenAndServe(":8181", mock); err != nil {
			slog.Error("mock server error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	// everyone "me" follows, newest first
	home, err := pollster.NewTimeline("home",
		pollster.WithFollowsOf("urn:feed:me", 0),
	)
	if err != nil {
		slog.Error("failed to create timeline", "error", err)
		os.Exit(1)
	}

	// alice's replies, oldest first
	replies, _ := pollster.NewTimeline("alice-replies",
		pollster.WithQuery(pollster.Query{FeedID: "urn:feed:alice", Verb: "reply"}),
		pollster.WithOrder(pollster.OrderAscending),
	)

	// one card per followed feed
	people, _ := pollster.NewTimeline("people",
		pollster.WithKind(pollster.KindFeeds),
		pollster.WithFollowsOf("urn:feed:me", 0),
	)

	pb, err := pollster.New(
		pollster.WithTimelines(home, replies, people),
		pollster.WithServiceURL("http://localhost:8181/feed"),
		pollster.WithFirstFetchDelay(10*time.Second),
		pollster.WithPort(8080),
		pollster.WithSnapshotCallback(func(s pollster.Snapshot) {
			slog.Info("timeline rendered", "timeline", s.Timeline, "items", len(s.Items), "total", s.Total)
		}),
	)
	if err != nil {
		slog.Error("failed to create pollster", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   pollster Demo                                       ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Timelines:                                          ║")
	fmt.Println("  ║   • home (follows of urn:feed:me)                     ║")
	fmt.Println("  ║   • alice-replies (query, ascending)                  ║")
	fmt.Println("  ║   • people (feed cards)                               ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pb.Start(ctx); err != nil {
		slog.Error("pollster error", "error", err)
		os.Exit(1)
	}
}
