package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// MetricsRecorder receives measurements from the estimation pipeline
type MetricsRecorder interface {
	ObserveEstimate(method risk.Method, duration time.Duration, err error)
	ObserveRun(duration time.Duration, failures int)
	ObserveCache(hit bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveEstimate(risk.Method, time.Duration, error) {}
func (noopMetrics) ObserveRun(time.Duration, int)                    {}
func (noopMetrics) ObserveCache(bool)                                {}

// NoopMetrics returns a recorder that discards every measurement
func NoopMetrics() MetricsRecorder {
	return noopMetrics{}
}

// PrometheusMetrics holds the Prometheus collectors of the VaR pipeline
type PrometheusMetrics struct {
	EstimateDuration *prometheus.HistogramVec
	EstimateFailures *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RunsTotal        prometheus.Counter
	MethodsSkipped   prometheus.Counter
	CacheLookups     *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		EstimateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "varlab_estimate_duration_seconds",
				Help:    "Duration of a single VaR estimation in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method", "result"},
		),

		EstimateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varlab_estimate_failures_total",
				Help: "Total number of failed VaR estimations by method and error code",
			},
			[]string{"method", "code"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "varlab_run_duration_seconds",
				Help:    "Duration of a full analysis run in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		RunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "varlab_runs_total",
				Help: "Total number of analysis runs",
			},
		),

		MethodsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "varlab_methods_skipped_total",
				Help: "Total number of methods left out of a run because they failed",
			},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varlab_cache_lookups_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.EstimateDuration,
			m.EstimateFailures,
			m.RunDuration,
			m.RunsTotal,
			m.MethodsSkipped,
			m.CacheLookups,
		)
	}
	return m
}

// ObserveEstimate records one estimation
func (m *PrometheusMetrics) ObserveEstimate(method risk.Method, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
		code := string(risk.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		m.EstimateFailures.WithLabelValues(string(method), code).Inc()
	}
	m.EstimateDuration.WithLabelValues(string(method), result).Observe(duration.Seconds())
}

// ObserveRun records one analysis run
func (m *PrometheusMetrics) ObserveRun(duration time.Duration, failures int) {
	m.RunsTotal.Inc()
	m.MethodsSkipped.Add(float64(failures))
	m.RunDuration.Observe(duration.Seconds())
}

// ObserveCache records a cache lookup
func (m *PrometheusMetrics) ObserveCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}
