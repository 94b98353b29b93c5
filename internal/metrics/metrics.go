// Package metrics registers the Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ThreadResolveSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tangle_thread_resolve_seconds",
		Help:    "Time spent resolving a thread, by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	ThreadSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tangle_thread_messages",
		Help:    "Number of messages in resolved threads.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	EnrichFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tangle_enrich_failures_total",
		Help: "Messages dropped because enrichment failed.",
	})

	PopularRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tangle_popular_requests_total",
		Help: "Popularity rankings computed, by period.",
	}, []string{"period"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tangle_http_requests_total",
		Help: "HTTP requests served, by route and status code.",
	}, []string{"route", "status"})
)
