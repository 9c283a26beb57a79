package poller

import (
	"math"
	"time"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/gateway"
)

const (
	// MinDelay is the floor of every computed reschedule delay.
	MinDelay = 6 * time.Second

	// DefaultStaleness is assumed when content freshness is unknown or in
	// the future.
	DefaultStaleness = time.Hour

	backoffUnit = 20 * time.Second
)

// Backoff returns the reschedule delay for content that was last updated
// staleness ago: the cube root of the elapsed minutes times 20 seconds,
// never more than the staleness itself and never less than [MinDelay].
// Non-positive staleness is treated as [DefaultStaleness].
func Backoff(staleness time.Duration) time.Duration {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	d := time.Duration(math.Cbrt(staleness.Minutes()) * float64(backoffUnit))
	d = min(staleness, d.Truncate(time.Millisecond))
	return max(MinDelay, d)
}

// contentUpdated returns the freshness time of a page, falling back to an
// hour before now when it cannot be parsed.
func contentUpdated(page *gateway.Page, now time.Time) time.Time {
	if page != nil {
		if t, ok := atom.ContentTime(page.Feed); ok {
			return t
		}
	}
	return now.Add(-DefaultStaleness)
}
