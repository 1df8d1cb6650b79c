// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "island"

var (
	BuildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "build_total",
		Help:      "World builds by result (ok, error)",
	}, []string{"result"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "build_duration_seconds",
		Help:      "Wall time of a world build",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	ScoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "score_total",
		Help:      "Scored texts by decision (ACCEPT, REVIEW, REJECT, error)",
	}, []string{"decision"})

	ScoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "score_duration_seconds",
		Help:      "Latency of scoring one text",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	WorldCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "world_cache",
		Name:      "events_total",
		Help:      "World cache hits, misses and evictions",
	}, []string{"event"})

	EmbedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embed_batches_total",
		Help:      "Batches sent to the embedding collaborator",
	})
)

// Cache event labels.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheEvict = "evict"
)
