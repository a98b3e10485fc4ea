package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolMatchSearches = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "pool_match_searches_total", Help: "Total pool match searches"})
	PoolJoinsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "pool_joins_total", Help: "Total successful pool joins"})
	AcceptsTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "accepts_total", Help: "Total successful booking accepts"})
	ConflictsTotal    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridepool", Name: "conflicts_total", Help: "Guard failures by operation"},
		[]string{"op"},
	)
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "rides_completed_total", Help: "Total completed rides"})
	DriversOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridepool", Name: "drivers_online", Help: "Number of online drivers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridepool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridepool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
