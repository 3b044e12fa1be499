package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_cache_operations_total",
		Help: "Total geo cache lookups by operation type and result (hit, semantic_hit, spatial_hit, miss)",
	}, []string{"operation", "result"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_provider_requests_total",
		Help: "Total requests issued to external geo providers",
	}, []string{"provider", "operation", "status"})

	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geo_provider_request_duration_seconds",
		Help:    "Duration of external geo provider requests",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"provider", "operation"})

	mapsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linear_maps_generated_total",
		Help: "Total linear maps generated, by outcome",
	}, []string{"status"})

	mapGenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linear_map_generation_duration_seconds",
		Help:    "End-to-end duration of linear map generation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
	})

	segmentsReusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_segments_reused_total",
		Help: "Total route segments satisfied from the shared segment pool instead of a provider call",
	})

	segmentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_segments_created_total",
		Help: "Total new route segments persisted to the shared segment pool",
	})

	asyncOperationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "async_operations_active",
		Help: "Number of map generation operations currently in progress",
	})

	maintenanceItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_items_total",
		Help: "Items touched by maintenance tasks, by task and action",
	}, []string{"task", "action"})
)

// RecordCacheLookup records the outcome of a cache lookup
func RecordCacheLookup(operation, result string) {
	cacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordProviderRequest records a provider call outcome and duration
func RecordProviderRequest(provider, operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	providerRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	providerRequestDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordMapGenerated records a completed (or failed) map generation
func RecordMapGenerated(status string, duration time.Duration) {
	mapsGeneratedTotal.WithLabelValues(status).Inc()
	if status == "completed" {
		mapGenerationDuration.Observe(duration.Seconds())
	}
}

// RecordSegmentReused increments the reused segment counter
func RecordSegmentReused() { segmentsReusedTotal.Inc() }

// RecordSegmentCreated increments the created segment counter
func RecordSegmentCreated() { segmentsCreatedTotal.Inc() }

// IncActiveOperations tracks an operation entering the in_progress state
func IncActiveOperations() { asyncOperationsActive.Inc() }

// DecActiveOperations tracks an operation leaving the in_progress state
func DecActiveOperations() { asyncOperationsActive.Dec() }

// RecordMaintenance records items touched by a maintenance task
func RecordMaintenance(task, action string, count int) {
	maintenanceItemsTotal.WithLabelValues(task, action).Add(float64(count))
}
