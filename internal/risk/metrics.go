package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	computations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donwatcher_risk_computations_total",
		Help: "Risk pipeline runs by outcome",
	}, []string{"result"})

	computeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "donwatcher_risk_computation_duration_seconds",
		Help:    "Time spent computing a domain snapshot, collaborator calls included",
		Buckets: prometheus.DefBuckets,
	})

	collaboratorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donwatcher_collaborator_failures_total",
		Help: "Collaborator calls that failed after retries",
	}, []string{"op"})

	globalScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "donwatcher_global_risk_score",
		Help: "Latest computed global risk score per domain",
	}, []string{"domain"})
)
