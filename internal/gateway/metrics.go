package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollster_gateway_requests_total",
		Help: "Feed requests issued to the trsst server, by outcome",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pollster_gateway_request_duration_seconds",
		Help:    "Duration of feed requests including parsing",
		Buckets: prometheus.DefBuckets,
	})
)

func observeRequest(start time.Time, err error) {
	requestDuration.Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
