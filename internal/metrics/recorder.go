// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements analysis.Recorder and lifecycle.Recorder using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	analysesTotal   *prometheus.CounterVec
	analysisLatency *prometheus.HistogramVec
	tradeEvents     *prometheus.CounterVec
	uploadsSwept    prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New creates a recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		analysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_analyses_total",
				Help: "Total number of chart analyses by result source and failure kind",
			},
			[]string{"source", "failure_kind"},
		),
		analysisLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chart_analysis_duration_seconds",
				Help:    "Duration of chart analyses in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
			},
			[]string{"source"},
		),
		tradeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_lifecycle_events_total",
				Help: "Trade lifecycle events by type",
			},
			[]string{"event"},
		),
		uploadsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "uploads_swept_batches_total",
				Help: "Orphaned upload batches removed by the sweeper",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route", "method", "class"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.analysesTotal,
		r.analysisLatency,
		r.tradeEvents,
		r.uploadsSwept,
		r.httpRequests,
		r.httpLatency,
	)
	return r
}

// ObserveAnalysis records one finished analysis
func (r *Recorder) ObserveAnalysis(source, failureKind string, elapsed time.Duration) {
	if failureKind == "" {
		failureKind = "none"
	}
	r.analysesTotal.WithLabelValues(source, failureKind).Inc()
	r.analysisLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveTradeEvent counts a lifecycle event such as "pre_trade_created"
func (r *Recorder) ObserveTradeEvent(event string) {
	r.tradeEvents.WithLabelValues(event).Inc()
}

// ObserveSweep counts removed orphan batches
func (r *Recorder) ObserveSweep(removed int) {
	if removed > 0 {
		r.uploadsSwept.Add(float64(removed))
	}
}

// ObserveHTTP records one request. route should be the templated path.
func (r *Recorder) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(route, method, statusClass(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
