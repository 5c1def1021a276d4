package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted counts jobs accepted by an engine.
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appjob_jobs_started_total",
			Help: "Total number of jobs handed to an engine",
		},
		[]string{"engine"},
	)

	// JobsFinished counts jobs that reached a terminal state, by engine and state.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appjob_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"engine", "state"},
	)

	// RunDuration tracks the duration of a single Run invocation in seconds.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appjob_run_duration_seconds",
			Help:    "Duration of job Run invocations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
		},
		[]string{"engine"},
	)

	// WorkersActive tracks the number of pool workers currently inside Run.
	WorkersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appjob_workers_active",
			Help: "Number of worker goroutines currently running a job",
		},
		[]string{"engine"},
	)

	// QueueDepth tracks tasks waiting for an engine to pick them up.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appjob_queue_depth",
			Help: "Number of tasks waiting in an engine queue",
		},
		[]string{"engine"},
	)

	// NotificationsDelivered counts notifications handed to listeners.
	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appjob_notifications_delivered_total",
			Help: "Total number of notifications delivered to listeners",
		},
		[]string{"state"},
	)

	// NotificationsDropped counts notifications for deleted jobs or full sinks.
	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appjob_notifications_dropped_total",
			Help: "Total number of notifications that were not delivered",
		},
		[]string{"reason"},
	)

	// ListenerPanics counts recovered listener panics.
	ListenerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appjob_listener_panics_total",
			Help: "Total number of panics recovered from listeners",
		},
	)

	// EngineErrors counts engine internal errors (not job failures).
	EngineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appjob_engine_errors_total",
			Help: "Total number of engine internal errors",
		},
		[]string{"engine"},
	)
)
