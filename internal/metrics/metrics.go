// Package metrics exports ledger, report and job counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvloznov/proforma/internal/ledger"
)

const namespace = "proforma"

// Collector holds all proforma metrics on a private registry. It implements
// ledger.Observer so a ledger can report each materialization.
type Collector struct {
	// Counters
	Materializations *prometheus.CounterVec
	SeriesConverted  prometheus.Counter
	RowsConverted    prometheus.Counter
	MetricEvals      *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec

	// Gauges
	CommittedRows prometheus.Gauge
	ActiveJobs    prometheus.Gauge

	// Histograms
	MaterializeDuration prometheus.Histogram
	HTTPDuration        *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ ledger.Observer = (*Collector)(nil)

// New creates a collector with every metric registered.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.Materializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_materializations_total",
			Help:      "Materialize calls that converted pending input",
		},
		[]string{"status"}, // "success", "error"
	)
	c.SeriesConverted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_series_converted_total",
		Help:      "Series converted into ledger rows",
	})
	c.RowsConverted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_rows_converted_total",
		Help:      "Ledger rows committed",
	})
	c.MetricEvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_metric_evaluations_total",
			Help:      "Named metric evaluations by outcome",
		},
		[]string{"metric", "status"}, // "ok", "empty", "failed"
	)
	c.Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Analysis runs by final status",
		},
		[]string{"status"},
	)
	c.HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern and status code",
		},
		[]string{"route", "code"},
	)

	c.CommittedRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ledger_committed_rows",
		Help:      "Rows in the most recently materialized ledger",
	})
	c.ActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "Analysis jobs currently running",
	})

	c.MaterializeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ledger_materialize_duration_seconds",
		Help:      "Time spent converting pending input",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
	c.HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency; report routes rebuild a run snapshot",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	c.registry.MustRegister(
		c.Materializations,
		c.SeriesConverted,
		c.RowsConverted,
		c.MetricEvals,
		c.Runs,
		c.HTTPRequests,
		c.CommittedRows,
		c.ActiveJobs,
		c.MaterializeDuration,
		c.HTTPDuration,
	)
	c.registry.MustRegister(prometheus.NewGoCollector())
	c.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return c
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveMaterialize records one materialization.
func (c *Collector) ObserveMaterialize(ev ledger.MaterializeEvent) {
	if c == nil {
		return
	}
	c.MaterializeDuration.Observe(ev.Duration.Seconds())
	if ev.Err != nil {
		c.Materializations.WithLabelValues("error").Inc()
		return
	}
	c.Materializations.WithLabelValues("success").Inc()
	c.SeriesConverted.Add(float64(ev.SeriesConverted))
	c.RowsConverted.Add(float64(ev.RowsAppended))
	c.CommittedRows.Set(float64(ev.TotalRows))
}

// RecordMetricEval counts one named metric evaluation.
func (c *Collector) RecordMetricEval(metric, status string) {
	if c == nil {
		return
	}
	c.MetricEvals.WithLabelValues(metric, status).Inc()
}

// RecordRun counts a finished analysis run.
func (c *Collector) RecordRun(status string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(status).Inc()
}

// RecordRequest counts one served API request under its route pattern.
func (c *Collector) RecordRequest(route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// JobStarted and JobFinished track the number of running jobs.
func (c *Collector) JobStarted() {
	if c != nil {
		c.ActiveJobs.Inc()
	}
}

func (c *Collector) JobFinished() {
	if c != nil {
		c.ActiveJobs.Dec()
	}
}
