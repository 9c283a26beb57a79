package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollster_task_fetches_total",
		Help: "Task executions by outcome (entries, empty, error)",
	}, []string{"outcome"})

	tasksGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pollster_tasks",
		Help: "Number of polling tasks in the task store",
	})

	queueGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pollster_queue_length",
		Help: "Number of tasks waiting in the schedule queue",
	})

	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pollster_fetches_in_flight",
		Help: "Number of task fetches currently in flight",
	})

	delayHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pollster_reschedule_delay_seconds",
		Help:    "Delay until a task's next execution",
		Buckets: []float64{6, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	subscriberPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollster_subscriber_panics_total",
		Help: "Number of recovered panics in subscriber callbacks",
	})
)
