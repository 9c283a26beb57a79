// Package config provides YAML configuration parsing for pollster.
//
// This package enables running pollster as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	service_url: ${TRSST_URL:-http://localhost:8181/feed}
//	tick_interval: 1s
//
//	timelines:
//	  - name: home
//	    feeds: [urn:feed:abc]
//	    follows_of: urn:feed:me
//	  - name: mentions
//	    queries:
//	      - mention: urn:feed:me
//	        verb: reply
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// minTickInterval is the minimum allowed scheduler tick. Ticks only scan the
// queue, but a tight loop still burns CPU for nothing.
const minTickInterval = 100 * time.Millisecond

const (
	defaultPort       = 8080
	defaultServiceURL = "http://localhost:8181/feed"
)

// Config is the root configuration structure for pollster.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "pollster" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// ServiceURL is the base URL of the trsst feed service.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	// Defaults to http://localhost:8181/feed.
	ServiceURL string `yaml:"service_url"`

	// TickInterval is the time between scheduler queue scans.
	// Accepts duration strings like "1s", "500ms". Defaults to 1s.
	TickInterval Duration `yaml:"tick_interval"`

	// MaxConcurrency caps the number of fetches in flight. Defaults to 5.
	MaxConcurrency int `yaml:"max_concurrency"`

	// FirstFetchCount is the page size of each query's first fetch.
	// Defaults to 3.
	FirstFetchCount int `yaml:"first_fetch_count"`

	// FirstFetchDelay is the delay before a query's second fetch.
	// Defaults to 15s.
	FirstFetchDelay Duration `yaml:"first_fetch_delay"`

	// RequestTimeout is the per-request timeout. Defaults to 10s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// RateLimit caps requests per second to the feed service.
	// Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit"`

	// CachePath is the SQLite feed header cache file. Empty disables the
	// cache. Supports environment variable substitution.
	CachePath string `yaml:"cache_path"`

	// Timelines defines the rendered timelines.
	Timelines []TimelineConfig `yaml:"timelines"`
}

// TimelineConfig defines a single rendered timeline.
type TimelineConfig struct {
	// Name identifies the timeline in the dashboard and API.
	Name string `yaml:"name"`

	// Kind is "entries" (default) or "feeds".
	Kind string `yaml:"kind"`

	// Order is "descending" (default) or "ascending".
	Order string `yaml:"order"`

	// Feeds lists feed ids to follow directly.
	Feeds []string `yaml:"feeds"`

	// FollowsOf adds every feed followed by this feed.
	FollowsOf string `yaml:"follows_of"`

	// FollowsLimit caps the number of follows added. Zero means no limit.
	FollowsLimit int `yaml:"follows_limit"`

	// BackfillCount is the page size of scroll backfills. Zero uses the
	// renderer default.
	BackfillCount int `yaml:"backfill_count"`

	// Queries lists additional filtered queries.
	Queries []QueryConfig `yaml:"queries"`
}

// QueryConfig defines a filtered query.
//
// Multi-valued fields accept a single string or a list:
//
//	mention: urn:feed:me
//	tag: [golang, atom]
type QueryConfig struct {
	FeedID  string     `yaml:"feed_id"`
	Verb    string     `yaml:"verb"`
	Author  string     `yaml:"author"`
	Search  string     `yaml:"q"`
	Mention StringList `yaml:"mention"`
	Tag     StringList `yaml:"tag"`
}

// isZero reports whether no field is set.
func (q QueryConfig) isZero() bool {
	return q.FeedID == "" && q.Verb == "" && q.Author == "" && q.Search == "" &&
		len(q.Mention) == 0 && len(q.Tag) == 0
}

// StringList is a list of strings that also accepts a single scalar in YAML.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler for StringList.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	default:
		return fmt.Errorf("expected a string or a list of strings, got %v", node.Kind)
	}
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in ServiceURL, CachePath, feed ids and
// follows_of. Defaults are applied for Port (8080) and ServiceURL; the
// scheduler and client defaults apply to every other zero value.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = defaultServiceURL
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	expanded, err := expandEnvVars(c.ServiceURL)
	if err != nil {
		return fmt.Errorf("service_url: %w", err)
	}
	c.ServiceURL = expanded

	parsedURL, err := url.Parse(c.ServiceURL)
	if err != nil {
		return fmt.Errorf("invalid service_url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("service_url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("service_url must have a host, got %q", c.ServiceURL)
	}

	if c.TickInterval != 0 && c.TickInterval.Duration() < minTickInterval {
		return fmt.Errorf("tick_interval must be at least %s, got %s", minTickInterval, c.TickInterval.Duration())
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.FirstFetchCount < 0 {
		return fmt.Errorf("first_fetch_count must be at least 1, got %d", c.FirstFetchCount)
	}
	if c.FirstFetchDelay.Duration() < 0 {
		return fmt.Errorf("first_fetch_delay cannot be negative, got %s", c.FirstFetchDelay.Duration())
	}
	if c.RequestTimeout != 0 && c.RequestTimeout.Duration() < 100*time.Millisecond {
		return fmt.Errorf("request_timeout must be at least 100ms if specified, got %s", c.RequestTimeout.Duration())
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative, got %v", c.RateLimit)
	}

	if c.CachePath != "" {
		expanded, err := expandEnvVars(c.CachePath)
		if err != nil {
			return fmt.Errorf("cache_path: %w", err)
		}
		c.CachePath = expanded
	}

	if len(c.Timelines) == 0 {
		return errors.New("at least one timeline must be defined")
	}

	seen := make(map[string]int, len(c.Timelines))
	for i := range c.Timelines {
		tl := &c.Timelines[i]

		if tl.Name == "" {
			return fmt.Errorf("timelines[%d]: name is required", i)
		}
		if prev, dup := seen[tl.Name]; dup {
			return fmt.Errorf("timelines[%d] (%s): duplicate name, first defined at timelines[%d]", i, tl.Name, prev)
		}
		seen[tl.Name] = i

		switch tl.Kind {
		case "", "entries", "feeds":
		default:
			return fmt.Errorf("timelines[%d] (%s): kind must be entries or feeds, got %q", i, tl.Name, tl.Kind)
		}
		switch tl.Order {
		case "", "descending", "ascending":
		default:
			return fmt.Errorf("timelines[%d] (%s): order must be descending or ascending, got %q", i, tl.Name, tl.Order)
		}

		for j, feed := range tl.Feeds {
			expanded, err := expandEnvVars(feed)
			if err != nil {
				return fmt.Errorf("timelines[%d] (%s): feeds[%d]: %w", i, tl.Name, j, err)
			}
			if expanded == "" {
				return fmt.Errorf("timelines[%d] (%s): feeds[%d] is empty", i, tl.Name, j)
			}
			tl.Feeds[j] = expanded
		}

		if tl.FollowsOf != "" {
			expanded, err := expandEnvVars(tl.FollowsOf)
			if err != nil {
				return fmt.Errorf("timelines[%d] (%s): follows_of: %w", i, tl.Name, err)
			}
			tl.FollowsOf = expanded
		}
		if tl.FollowsLimit < 0 {
			return fmt.Errorf("timelines[%d] (%s): follows_limit cannot be negative, got %d", i, tl.Name, tl.FollowsLimit)
		}
		if tl.FollowsLimit > 0 && tl.FollowsOf == "" {
			return fmt.Errorf("timelines[%d] (%s): follows_limit requires follows_of", i, tl.Name)
		}
		if tl.BackfillCount < 0 {
			return fmt.Errorf("timelines[%d] (%s): backfill_count cannot be negative, got %d", i, tl.Name, tl.BackfillCount)
		}

		for j, q := range tl.Queries {
			if q.isZero() {
				return fmt.Errorf("timelines[%d] (%s): queries[%d]: at least one field is required", i, tl.Name, j)
			}
		}

		if len(tl.Feeds) == 0 && len(tl.Queries) == 0 && tl.FollowsOf == "" {
			return fmt.Errorf("timelines[%d] (%s): at least one of feeds, queries or follows_of is required", i, tl.Name)
		}
	}

	return nil
}
