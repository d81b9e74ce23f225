// Package metrics defines the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BalanceComputeDuration observes how long a full group balance
	// computation takes, including storage reads and conversions.
	BalanceComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "divvy",
		Name:      "balance_compute_duration_seconds",
		Help:      "Duration of group balance computations.",
		Buckets:   prometheus.DefBuckets,
	})

	// SettlementOps counts settlement lifecycle operations by op and outcome.
	SettlementOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "divvy",
		Name:      "settlement_operations_total",
		Help:      "Settlement lifecycle operations by operation and outcome.",
	}, []string{"op", "outcome"})

	// RateCacheHits / RateCacheMisses / RateFallbacks track the
	// conversion port's cache tiers.
	RateCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "divvy",
		Name:      "rate_cache_hits_total",
		Help:      "Exchange-rate lookups served from cache.",
	})
	RateCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "divvy",
		Name:      "rate_cache_misses_total",
		Help:      "Exchange-rate lookups that missed the cache.",
	})
	RateFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "divvy",
		Name:      "rate_fallbacks_total",
		Help:      "Exchange-rate lookups served from the last-known persisted rate.",
	})
)
