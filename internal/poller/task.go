package poller

import (
	"time"

	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/query"
)

// task is the scheduling state for one query fingerprint.
type task struct {
	query       query.Query
	fingerprint query.Fingerprint

	lastUpdate    time.Time // content freshness of the latest success
	lastFetchedAt time.Time
	noFetchBefore time.Time
	latestEntryID string
	latest        *gateway.Page
	successes     int

	seq     uint64 // insertion order, higher is more recent
	index   int    // heap index, -1 when not queued
	running bool
	boosted bool // notified while running
}

func newTask(q query.Query) *task {
	return &task{
		query:       q,
		fingerprint: q.Fingerprint(),
		index:       -1,
	}
}

func (t *task) queued() bool {
	return t.index >= 0
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		Query:         t.query,
		Fingerprint:   t.fingerprint,
		LastUpdate:    t.lastUpdate,
		LastFetchedAt: t.lastFetchedAt,
		NoFetchBefore: t.noFetchBefore,
		LatestEntryID: t.latestEntryID,
		Latest:        t.latest,
		Successes:     t.successes,
		Queued:        t.queued(),
		Running:       t.running,
	}
}

// TaskInfo is a point-in-time copy of a task's scheduling state.
type TaskInfo struct {
	Query         query.Query
	Fingerprint   query.Fingerprint
	LastUpdate    time.Time
	LastFetchedAt time.Time
	NoFetchBefore time.Time
	LatestEntryID string
	Latest        *gateway.Page
	Successes     int
	Queued        bool
	Running       bool
}
