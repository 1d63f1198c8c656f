package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntriesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharebin_entries_submitted_total",
			Help: "no. of entries submitted",
		},
		[]string{"kind"},
	)
	EntriesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharebin_entries_resolved_total",
			Help: "no. of successful resolutions",
		},
		[]string{"kind"},
	)
	ResolveNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_resolve_not_found_total",
		Help: "no. of resolutions for unknown or expired ids",
	})
	SubmittedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharebin_submitted_bytes",
		Help:    "payload size of submitted entries",
		Buckets: prometheus.ExponentialBuckets(64, 4, 10),
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_cache_hits_total",
		Help: "no. of content cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_cache_misses_total",
		Help: "no. of content cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharebin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharebin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_sweep_cycles_total",
		Help: "no. of expiration sweeps",
	})
	EntriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_entries_swept_total",
		Help: "no. of expired entries removed by sweeps",
	})
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharebin_sweep_duration_seconds",
		Help:    "duration of expiration sweeps",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharebin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
