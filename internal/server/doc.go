// Package server provides the HTTP surface of pollster.
//
// It serves the rendered timelines from the [store] package as JSON and as a
// Server-Sent Events stream, accepts viewport updates that drive lazy
// attachment and backfill, accepts mutation notifications, looks up feed
// headers and exposes Prometheus metrics. An embedded dashboard is served at
// "/" when assets are provided.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
