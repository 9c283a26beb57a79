// Standalone mock trsst service for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pollster serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jpalmerr/pollster/example/mocktrsst"
)

func main() {
	fmt.Println("Mock trsst service starting on :8181")
	fmt.Println("Feeds: urn:feed:alice, urn:feed:bob, urn:feed:me (follows alice and bob)")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	mock := mocktrsst.New(slog.Default())
	go mock.Run(make(chan struct{}))

	if err := http.ListenAndServe(":8181", mock); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
