// Package store provides storage and pub/sub for rendered timelines.
//
// Renderers publish a snapshot after every render pass; the SDK converts it
// into a [Timeline] and stores it here. The HTTP server reads timelines for
// the REST API and streams updates to SSE clients.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Timeline]: Storage representation of a rendered timeline
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers miss updates rather than block rendering).
package store
