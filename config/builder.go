package config

import (
	"fmt"

	"github.com/jpalmerr/pollster"
)

// BuildTimelines converts parsed configuration into SDK Timeline objects,
// in configuration order.
func BuildTimelines(cfg *Config) ([]pollster.Timeline, error) {
	timelines := make([]pollster.Timeline, 0, len(cfg.Timelines))
	for i, tc := range cfg.Timelines {
		tl, err := buildTimeline(tc)
		if err != nil {
			return nil, fmt.Errorf("timelines[%d]: %w", i, err)
		}
		timelines = append(timelines, tl)
	}
	return timelines, nil
}

// buildTimeline converts a single TimelineConfig to an SDK Timeline.
func buildTimeline(tc TimelineConfig) (pollster.Timeline, error) {
	var opts []pollster.TimelineOption

	if tc.Kind != "" {
		opts = append(opts, pollster.WithKind(pollster.Kind(tc.Kind)))
	}
	if tc.Order != "" {
		opts = append(opts, pollster.WithOrder(pollster.Order(tc.Order)))
	}
	if len(tc.Feeds) > 0 {
		opts = append(opts, pollster.WithFeeds(tc.Feeds...))
	}
	if tc.FollowsOf != "" {
		opts = append(opts, pollster.WithFollowsOf(tc.FollowsOf, tc.FollowsLimit))
	}
	if tc.BackfillCount > 0 {
		opts = append(opts, pollster.WithBackfillCount(tc.BackfillCount))
	}
	for _, qc := range tc.Queries {
		opts = append(opts, pollster.WithQuery(buildQuery(qc)))
	}

	return pollster.NewTimeline(tc.Name, opts...)
}

func buildQuery(qc QueryConfig) pollster.Query {
	return pollster.Query{
		FeedID:   qc.FeedID,
		Verb:     qc.Verb,
		Author:   qc.Author,
		Search:   qc.Search,
		Mentions: append([]string(nil), qc.Mention...),
		Tags:     append([]string(nil), qc.Tag...),
	}
}

// Options converts the global settings and timelines of cfg into SDK
// options for [pollster.New]. Zero values are left to the SDK defaults.
func Options(cfg *Config) ([]pollster.Option, error) {
	timelines, err := BuildTimelines(cfg)
	if err != nil {
		return nil, err
	}

	opts := []pollster.Option{
		pollster.WithTimelines(timelines...),
		pollster.WithPort(cfg.Port),
		pollster.WithServiceURL(cfg.ServiceURL),
		pollster.WithTitle(cfg.Title),
	}
	if cfg.TickInterval != 0 {
		opts = append(opts, pollster.WithTickInterval(cfg.TickInterval.Duration()))
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, pollster.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if cfg.FirstFetchCount > 0 {
		opts = append(opts, pollster.WithFirstFetchCount(cfg.FirstFetchCount))
	}
	if cfg.FirstFetchDelay > 0 {
		opts = append(opts, pollster.WithFirstFetchDelay(cfg.FirstFetchDelay.Duration()))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, pollster.WithRequestTimeout(cfg.RequestTimeout.Duration()))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, pollster.WithRateLimit(cfg.RateLimit))
	}
	if cfg.CachePath != "" {
		opts = append(opts, pollster.WithCachePath(cfg.CachePath))
	}
	return opts, nil
}
