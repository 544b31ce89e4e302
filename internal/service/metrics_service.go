package service

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry for HTTP, booking engine and cache instrumentation.
// A nil *MetricsService is valid and records nothing.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	bookingOutcomes *prometheus.CounterVec
	lockDuration    *prometheus.HistogramVec
	storeRetries    *prometheus.CounterVec
	invariantErrors prometheus.Counter
	eventsPublished *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	bookingOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_engine_outcomes_total",
		Help: "Outcomes of seat engine operations",
	}, []string{"operation", "outcome"})

	lockDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seat_engine_atomic_unit_seconds",
		Help:    "Time spent inside the per-class atomic unit including lock wait",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation"})

	storeRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_engine_transient_retries_total",
		Help: "Retries caused by lock contention or store unavailability",
	}, []string{"operation"})

	invariantErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seat_engine_invariant_violations_total",
		Help: "Seat count invariant violations detected and aborted",
	})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_events_total",
		Help: "Booking events handed to the broker",
	}, []string{"type", "result"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_lookups_total",
		Help: "Catalog cache lookups by result",
	}, []string{"result"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_cache_latency_seconds",
		Help:    "Latency for catalog cache operations",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, bookingOutcomes, lockDuration, storeRetries, invariantErrors, eventsPublished, cacheLookups, cacheLatency, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		bookingOutcomes: bookingOutcomes,
		lockDuration:    lockDuration,
		storeRetries:    storeRetries,
		invariantErrors: invariantErrors,
		eventsPublished: eventsPublished,
		cacheLookups:    cacheLookups,
		cacheLatency:    cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordOutcome counts one engine operation result, e.g. ("request_booking", "waiting").
func (m *MetricsService) RecordOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveAtomicUnit records the time an operation spent acquiring and holding a class.
func (m *MetricsService) ObserveAtomicUnit(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.lockDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreRetry counts a transient failure that is about to be retried.
func (m *MetricsService) RecordStoreRetry(operation string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(operation).Inc()
}

// RecordInvariantViolation counts an aborted transaction that would have corrupted seat counts.
func (m *MetricsService) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantErrors.Inc()
}

// RecordEvent counts a publish attempt.
func (m *MetricsService) RecordEvent(eventType string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, result).Inc()
}

// TrackEventBacklog exports the number of booking events waiting for a publishing worker.
func (m *MetricsService) TrackEventBacklog(depth func() int) {
	if m == nil || depth == nil {
		return
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "booking_events_pending",
		Help: "Booking events buffered for publishing",
	}, func() float64 {
		return float64(depth())
	})
	if err := m.registry.Register(gauge); err != nil {
		var exists prometheus.AlreadyRegisteredError
		if !errors.As(err, &exists) {
			panic(err)
		}
	}
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheLatency.Observe(duration.Seconds())
}
