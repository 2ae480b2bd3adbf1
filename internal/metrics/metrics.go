package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollAttempts    *prometheus.HistogramVec
	pollOutcomes    *prometheus.CounterVec
	statSummaries   *prometheus.GaugeVec
	runsTotal       *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadcore_requests_total",
				Help: "REST calls issued to the middleware and agents",
			},
			[]string{"target", "method", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadcore_request_duration_seconds",
				Help:    "REST call latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"target", "method"},
		),
		pollAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadcore_poll_attempts",
				Help:    "Attempts used by a poll loop before it finished",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"operation"},
		),
		pollOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadcore_poll_outcomes_total",
				Help: "Poll loop results by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		statSummaries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loadcore_stat_summary",
				Help: "Summarised statistic column of the last run",
			},
			[]string{"view", "column", "summary"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadcore_runs_total",
				Help: "Orchestrated runs by final status",
			},
			[]string{"status"},
		),
	}
}

// ObserveRequest records one REST call. status 0 means a transport error.
func (m *Metrics) ObserveRequest(target, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(target, method, code).Inc()
	m.requestDuration.WithLabelValues(target, method).Observe(elapsed.Seconds())
}

// ObservePoll records the attempts and outcome of a finished poll loop.
func (m *Metrics) ObservePoll(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(operation).Observe(float64(attempts))
	m.pollOutcomes.WithLabelValues(operation, outcome).Inc()
}

// SetStat publishes a summarised statistic.
func (m *Metrics) SetStat(view, column, summary string, value float64) {
	if m == nil {
		return
	}
	m.statSummaries.WithLabelValues(view, column, summary).Set(value)
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes all metrics to path for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
