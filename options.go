package pollster

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// pollsterConfig holds mutable state during Pollster construction.
type pollsterConfig struct {
	title             string
	serviceURL        string
	timelines         []Timeline
	port              int
	tickInterval      time.Duration
	maxConcurrency    int
	firstFetchCount   int
	firstFetchDelay   time.Duration
	requestTimeout    time.Duration
	rateLimit         float64
	cachePath         string
	logger            *slog.Logger
	snapshotCallbacks []func(Snapshot)
}

// Option is a function that configures a [Pollster] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*pollsterConfig) error

// WithTimeline adds a single [Timeline].
//
// Can be called multiple times. At least one timeline must be configured
// for [New] to succeed, and timeline names must be unique.
func WithTimeline(t Timeline) Option {
	return func(cfg *pollsterConfig) error {
		cfg.timelines = append(cfg.timelines, t)
		return nil
	}
}

// WithTimelines adds multiple [Timeline] values. Equivalent to calling
// [WithTimeline] multiple times.
func WithTimelines(timelines ...Timeline) Option {
	return func(cfg *pollsterConfig) error {
		cfg.timelines = append(cfg.timelines, timelines...)
		return nil
	}
}

// WithServiceURL sets the base URL of the trsst feed service, for example
// "http://localhost:8181/feed". Defaults to that URL if not specified.
//
// Returns an error if the URL is not an absolute http or https URL.
func WithServiceURL(rawURL string) Option {
	return func(cfg *pollsterConfig) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("invalid service URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("service URL must have a scheme (http:// or https://)")
		}
		if u.Host == "" {
			return errors.New("service URL must have a host")
		}
		cfg.serviceURL = rawURL
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
//
// The dashboard UI and API will be available at http://localhost:<port>.
// Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *pollsterConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithTickInterval sets how often the scheduler scans for due fetches.
//
// The tick bounds how quickly new subscriptions and change notifications
// are served, not how often each feed is fetched: feeds back off on their
// own as their content ages. Defaults to 1 second.
//
// Returns an error if the interval is below 100 milliseconds.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *pollsterConfig) error {
		if d < minTickInterval {
			return fmt.Errorf("tick interval must be at least %s", minTickInterval)
		}
		cfg.tickInterval = d
		return nil
	}
}

// WithMaxConcurrency sets the maximum number of fetches in flight.
// Defaults to 5 if not specified.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *pollsterConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithFirstFetchCount sets the page size of the first fetch of every query.
// Small first pages keep startup fast; later fetches only ask for entries
// newer than the latest one seen. Defaults to 3.
//
// Returns an error if the value is zero or negative.
func WithFirstFetchCount(n int) Option {
	return func(cfg *pollsterConfig) error {
		if n <= 0 {
			return errors.New("first fetch count must be positive")
		}
		cfg.firstFetchCount = n
		return nil
	}
}

// WithFirstFetchDelay sets the delay before a query is fetched again after
// its first successful fetch. Defaults to 15 seconds.
//
// Returns an error if the duration is zero or negative.
func WithFirstFetchDelay(d time.Duration) Option {
	return func(cfg *pollsterConfig) error {
		if d <= 0 {
			return errors.New("first fetch delay must be positive")
		}
		cfg.firstFetchDelay = d
		return nil
	}
}

// WithRequestTimeout sets the per-request timeout of feed fetches.
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *pollsterConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithRateLimit caps outgoing requests to the feed service, in requests per
// second. Zero, the default, means unlimited.
//
// Returns an error if the rate is negative.
func WithRateLimit(perSecond float64) Option {
	return func(cfg *pollsterConfig) error {
		if perSecond < 0 {
			return errors.New("rate limit cannot be negative")
		}
		cfg.rateLimit = perSecond
		return nil
	}
}

// WithCachePath enables the SQLite feed header cache at path. Cached
// headers survive restarts and serve GET /api/feeds/{id} without a fetch.
// An empty path, the default, disables the cache.
func WithCachePath(path string) Option {
	return func(cfg *pollsterConfig) error {
		cfg.cachePath = path
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Pollster instance.
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pollsterConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithSnapshotCallback registers a function to be called after every render
// pass of every timeline.
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run on the renderer's
// render goroutine, so a blocking callback delays the next pass of that
// timeline. Panics within callbacks are recovered and logged.
//
// Example:
//
//	pb, err := pollster.New(
//	    pollster.WithTimeline(tl),
//	    pollster.WithSnapshotCallback(func(s pollster.Snapshot) {
//	        log.Printf("%s: %d items", s.Timeline, s.Total)
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithSnapshotCallback(cb func(Snapshot)) Option {
	return func(cfg *pollsterConfig) error {
		if cb == nil {
			return nil
		}
		cfg.snapshotCallbacks = append(cfg.snapshotCallbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to "pollster".
func WithTitle(title string) Option {
	return func(cfg *pollsterConfig) error {
		cfg.title = title
		return nil
	}
}
