package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tokensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edgelm",
		Subsystem: "engine",
		Name:      "tokens_total",
		Help:      "Total content tokens emitted",
	})

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelm",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Generations by terminal outcome",
		},
		[]string{"outcome"},
	)

	generationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "edgelm",
		Subsystem: "engine",
		Name:      "generation_duration_seconds",
		Help:      "Wall time of generations",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	poolAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelm",
			Subsystem: "engine",
			Name:      "pool_acquire_total",
			Help:      "Resource pool acquisitions by kind and source (pooled or dynamic)",
		},
		[]string{"kind", "source"},
	)

	forcedTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelm",
			Subsystem: "engine",
			Name:      "forced_terminations_total",
			Help:      "Forced terminations by the escalation step that resolved them",
		},
		[]string{"step"},
	)
)

func init() {
	prometheus.MustRegister(tokensTotal, generationsTotal, generationSeconds, poolAcquireTotal, forcedTerminationsTotal)
}
