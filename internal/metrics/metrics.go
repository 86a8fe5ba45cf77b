package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irr_queries_submitted_total",
		Help: "Queries submitted to the IRR server",
	})
	QueriesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irr_queries_completed_total",
		Help: "Query responses received from the IRR server",
	})
	ObjectsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irr_objects_downloaded_total",
		Help: "IRR objects successfully downloaded",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irr_result_cache_hits_total",
		Help: "Queries answered from the per-run result cache",
	})

	InputPrefixes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregate_input_prefixes_total",
		Help: "Prefixes fed into aggregation",
	}, []string{"family"})
	OutputPrefixes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregate_output_prefixes_total",
		Help: "Prefix entries emitted by aggregation",
	}, []string{"family"})

	RouterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_generation_duration_seconds",
		Help:    "Time taken to generate one router's filters",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"router"})
	RouterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_generation_failures_total",
		Help: "Router filter generations that failed",
	}, []string{"router"})
)
