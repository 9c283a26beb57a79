// Package query provides the immutable filter value used to address feed
// data, and its canonical fingerprint.
//
// The fingerprint is the deduplication key used everywhere in pollster: the
// scheduler keeps one polling task per fingerprint, the subscription
// registry fans results out per fingerprint, and renderers key scroll
// triggers by the fingerprint of a query's [Query.Base].
package query
