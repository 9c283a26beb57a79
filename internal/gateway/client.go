package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jpalmerr/pollster/internal/atom"
	"github.com/jpalmerr/pollster/internal/feedcache"
	"github.com/jpalmerr/pollster/internal/query"
)

const maxResponseBodySize = 4 << 20 // 4MB

// connection pooling limits; every request goes to the same service host
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

const (
	// DefaultTimeout is the per-request timeout when none is configured.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent identifies pollster to trsst servers.
	DefaultUserAgent = "pollster/1.0"
)

// StatusError is returned by [Client.Fetch] for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// ErrNotFound matches a [StatusError] with status 404.
var ErrNotFound = errors.New("not found")

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// HeaderCache stores feed headers between fetches. [feedcache.Cache]
// implements it.
type HeaderCache interface {
	Put(ctx context.Context, f *atom.Feed) error
	Get(ctx context.Context, feedID string) (feedcache.Record, error)
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. The burst equals the rate,
// with a minimum of one. Zero or a negative rate disables limiting.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		} else {
			c.limiter = nil
		}
	}
}

// WithHeaderCache enables the feed header cache.
func WithHeaderCache(cache HeaderCache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger used for cache failures.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client fetches Atom pages from a trsst server.
//
// Client uses per-request timeouts via context rather than a global client
// timeout. Response bodies are limited to 4MB.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      HeaderCache
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a [Client] for the service at serviceURL, for example
// "http://localhost:8181/feed". Feed ids are appended to the service path, so
// feed "urn:feed:abc" is fetched from "http://localhost:8181/feed/abc".
//
// serviceURL must be an absolute http or https URL with a host; anything else
// is rejected with an error. Without options the client uses a 10 second
// per-request timeout, no rate limit and no header cache.
//
// Connection pooling configuration:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewClient(serviceURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid service url %q: scheme must be http or https", serviceURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid service url %q: missing host", serviceURL)
	}

	c := &Client{
		base: base,
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the request URL for q: the service URL, the feed id without
// its urn prefix, the entry id if any, and the remaining fields as query
// parameters.
func (c *Client) URL(q query.Query) string {
	u := *c.base
	path := strings.TrimSuffix(u.Path, "/")
	if feedID := atom.FeedIDFromFeedURN(q.FeedID()); feedID != "" {
		path += "/" + feedID
		if entryID := q.Get(query.KeyEntryID); entryID != "" {
			path += "/" + entryID
		}
	}
	u.Path = path
	u.RawPath = ""
	u.RawQuery = q.Params().Encode()
	return u.String()
}

// Fetch performs one GET for q and parses the response as Atom.
//
// The request waits for the rate limiter when one is configured, then runs
// under the client timeout derived from ctx. Bodies are read up to 4MB.
// Non-2xx responses are reported as [*StatusError]; transport and parse
// failures are wrapped errors. On success the feed header is written to the
// header cache, and cache failures are logged rather than returned.
//
// Fetch implements [Fetcher] and is safe for concurrent use.
func (c *Client) Fetch(ctx context.Context, q query.Query) (*Page, error) {
	start := time.Now()
	page, err := c.fetch(ctx, q)
	observeRequest(start, err)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && page.Feed.ID != "" {
		if err := c.cache.Put(ctx, page.Feed.Header()); err != nil {
			c.logger.Warn("feed cache write failed", "feed_id", page.Feed.ID, "error", err)
		}
	}
	return page, nil
}

func (c *Client) fetch(ctx context.Context, q query.Query) (*Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.URL(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	feed, err := atom.Parse(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return NewPage(feed), nil
}

// Feed returns the header of a feed (id, title, icon, authors and updated
// time) without its entries.
//
// The header cache is consulted first. On a miss, or when no cache is
// configured, the feed is fetched with count=0 and the result is cached by
// [Client.Fetch]. Cache read failures other than a miss are logged and
// treated as a miss.
func (c *Client) Feed(ctx context.Context, feedID string) (*atom.Feed, error) {
	if c.cache != nil {
		rec, err := c.cache.Get(ctx, feedID)
		if err == nil {
			return rec.Feed, nil
		}
		if !errors.Is(err, feedcache.ErrNotFound) {
			c.logger.Warn("feed cache read failed", "feed_id", feedID, "error", err)
		}
	}

	page, err := c.Fetch(ctx, query.ForFeed(feedID).WithCount(0))
	if err != nil {
		return nil, err
	}
	return page.Feed.Header(), nil
}

// Close closes all idle connections in the client's connection pool.
//
// This should be called when the client is no longer needed to release
// resources immediately rather than waiting for the idle connection timeout.
// Safe to call multiple times and on a nil client. After Close, the client
// remains usable but new connections will be established as needed. The
// header cache is owned by the caller and is not closed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
