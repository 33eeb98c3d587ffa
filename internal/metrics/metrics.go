// Package metrics объявляет Prometheus-коллекторы сервиса
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP-запросы по методу, маршруту и статусу
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Попадания в кэш по уровню (memory, redis, durable)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_cache_hits_total",
			Help: "Preview cache hits partitioned by tier",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "preview_cache_misses_total",
			Help: "Preview lookups that missed every cache tier",
		},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_cache_errors_total",
			Help: "Cache tier failures treated as misses",
		},
		[]string{"tier", "op"},
	)

	// Запросы, присоединившиеся к уже идущей загрузке того же URL
	SharedFlights = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "preview_shared_flights_total",
			Help: "Resolutions served by an in-flight load for the same URL",
		},
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_resolutions_total",
			Help: "Preview resolutions by outcome",
		},
		[]string{"outcome"},
	)

	ExtractDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "preview_extract_duration_seconds",
			Help:    "Time spent fetching and parsing target pages",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	SecurityScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "preview_security_score",
			Help:    "Distribution of computed security scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	ImageOptimizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_image_optimizations_total",
			Help: "Image optimization attempts by result",
		},
		[]string{"result"},
	)

	AnalyticsEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_analytics_events_total",
			Help: "Analytics events by type and result",
		},
		[]string{"event_type", "result"},
	)
)
