package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	autogradeTotal       *prometheus.CounterVec
	regradeTotal         *prometheus.CounterVec
	validationSeconds    *prometheus.HistogramVec
	propagationTotal     *prometheus.CounterVec
	recycledTotal        prometheus.Counter
	specCacheLookupTotal *prometheus.CounterVec
	gradeEventsTotal     *prometheus.CounterVec
	feedClientsActive    prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the grader.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grader_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		autogradeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_autograde_total",
			Help: "Automatic grading outcomes by activity kind and resulting status.",
		}, []string{"kind", "status"})

		regradeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_regrade_total",
			Help: "Regrade calls by method and whether the submission changed.",
		}, []string{"method", "changed"})

		validationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grader_answer_key_validation_seconds",
			Help:    "Duration of answer key validations.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"language", "outcome"})

		propagationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_score_propagations_total",
			Help: "Score tree propagation walks by flavour and outcome.",
		}, []string{"flavour", "outcome"})

		recycledTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grader_recycled_submissions_total",
			Help: "Submissions answered with an identical earlier attempt.",
		})

		specCacheLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_spec_cache_lookups_total",
			Help: "Expanded specification cache lookups by result.",
		}, []string{"result"})

		gradeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_grade_events_published_total",
			Help: "Grade events fanned out to brokers and live subscribers.",
		}, []string{"type"})

		feedClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grader_feed_clients_active",
			Help: "Open grade feed streams.",
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			autogradeTotal, regradeTotal, validationSeconds,
			propagationTotal, recycledTotal, specCacheLookupTotal,
			gradeEventsTotal, feedClientsActive,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// Autogrades exposes the autograde outcome counter.
func Autogrades() *prometheus.CounterVec {
	RegisterMetrics()
	return autogradeTotal
}

// Regrades exposes the regrade outcome counter.
func Regrades() *prometheus.CounterVec {
	RegisterMetrics()
	return regradeTotal
}

// ValidationDuration exposes the answer key validation histogram.
func ValidationDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return validationSeconds
}

// Propagations exposes the score propagation counter.
func Propagations() *prometheus.CounterVec {
	RegisterMetrics()
	return propagationTotal
}

// Recycled exposes the recycled submission counter.
func Recycled() prometheus.Counter {
	RegisterMetrics()
	return recycledTotal
}

// SpecCacheLookups exposes the expanded specification cache counter.
func SpecCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return specCacheLookupTotal
}

// GradeEvents exposes the published grade event counter.
func GradeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return gradeEventsTotal
}

// FeedClientsActive exposes the gauge of open grade feed streams.
func FeedClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return feedClientsActive
}
