// Package dashboard provides the embedded web UI assets for pollster.
//
// The dashboard renders the published timelines, follows updates over
// Server-Sent Events and reports its scroll position back as the viewport
// of each timeline, which drives lazy attachment and backfill.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Timeline page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
