// Package feedcache persists feed headers in SQLite so that feed lookups
// survive restarts without a round trip to the trsst server.
//
// The schema is managed with golang-migrate using migrations embedded in
// the binary. Only headers are cached; entries always come from the server.
package feedcache
