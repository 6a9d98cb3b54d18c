package imagestack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackviz_imagestack_cache_lookups_total",
		Help: "Bundle cache lookups by resource kind and result (hit, miss, unavailable).",
	}, []string{"kind", "result"})

	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackviz_imagestack_fetch_attempts_total",
		Help: "Fetch attempts by resource kind and outcome (ok, error).",
	}, []string{"kind", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trackviz_imagestack_fetch_duration_seconds",
		Help:    "Duration of one fetch attempt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
