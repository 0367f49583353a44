package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the refresh pipeline, exposed on /metrics by cmd/api and
// registered once at init.
var (
	RefreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evacuation_refresh_cycles_total",
		Help: "Completed refresh cycles by result.",
	}, []string{"result"})

	RefreshSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evacuation_refresh_skipped_total",
		Help: "Refresh triggers rejected because a cycle was already running.",
	})

	ListFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evacuation_list_failures_total",
		Help: "Per-list pipeline failures that were isolated and skipped.",
	})

	RecordsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evacuation_records_upserted_total",
		Help: "Status records written to the store.",
	})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evacuation_refresh_duration_seconds",
		Help:    "Wall-clock duration of full refresh cycles.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
