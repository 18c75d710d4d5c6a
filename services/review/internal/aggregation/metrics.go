package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_recompute_total",
			Help: "Rating recomputes by outcome (applied, stale, read_error, write_error)",
		},
		[]string{"result"},
	)

	recomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "review_recompute_duration_seconds",
			Help:    "Duration of a full rating recompute",
			Buckets: prometheus.DefBuckets,
		},
	)

	quarantinedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_quarantined_records_total",
			Help: "Stored reviews skipped during aggregation because they failed validation",
		},
	)

	recomputeCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_recompute_coalesced_total",
			Help: "Recompute requests merged into an already scheduled run",
		},
	)

	recomputePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_recompute_pending_coaches",
			Help: "Coaches with a recompute scheduled or running",
		},
	)
)
