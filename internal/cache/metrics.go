package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donwatcher_cache_requests_total",
		Help: "Risk cache lookups by result (hit, miss, l2_hit)",
	}, []string{"cache", "result"})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donwatcher_cache_evictions_total",
		Help: "Risk cache entries removed by capacity or expiry",
	}, []string{"cache", "reason"})

	backendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donwatcher_cache_backend_errors_total",
		Help: "Second tier cache failures by operation",
	}, []string{"cache", "op"})
)
