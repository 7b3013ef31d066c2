package hpl

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eliminationSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hpl",
			Name:      "elimination_steps",
			Help:      "Count of elimination steps completed",
		},
		[]string{"rank"},
	)
	rowSwaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hpl",
			Name:      "row_swaps",
			Help:      "Count of pivot row exchanges, by whether they crossed ranks",
		},
		[]string{"kind"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hpl",
			Name:      "phase_duration_seconds",
			Help:      "Duration of solver phases",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 4, 12),
		},
		[]string{"phase"},
	)
	normalizedResidual = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hpl",
			Name:      "normalized_residual",
			Help:      "Normalized residual of the latest verified solution",
		},
	)
)

var metricsRegister sync.Once

func registerMetrics() {
	metricsRegister.Do(func() {
		prometheus.MustRegister(eliminationSteps)
		prometheus.MustRegister(rowSwaps)
		prometheus.MustRegister(phaseDuration)
		prometheus.MustRegister(normalizedResidual)
	})
}

func recordPhase(phase string, d time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
