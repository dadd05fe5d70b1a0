// Package metrics exposes execution and HTTP counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pyrunner"

// Collector holds the service's metrics. All methods are safe for
// concurrent use.
type Collector struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	peakMemory        prometheus.Histogram
	rejectionsTotal   prometheus.Counter
	internalErrors    prometheus.Counter
	inFlight          prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the collectors on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		executionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished executions by outcome status.",
		}, []string{"status"}),
		executionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of finished executions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		peakMemory: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_peak_memory_megabytes",
			Help:      "Peak resident memory observed per execution.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 9),
		}),
		rejectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Submissions rejected by static validation.",
		}),
		internalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "internal_errors_total",
			Help:      "Executions that failed for infrastructure reasons.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Executions currently running.",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordExecution records a finished execution.
func (c *Collector) RecordExecution(status string, elapsed time.Duration, peakMB *float64) {
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if peakMB != nil {
		c.peakMemory.Observe(*peakMB)
	}
}

// RecordRejection records a submission refused before execution.
func (c *Collector) RecordRejection() { c.rejectionsTotal.Inc() }

// RecordInternalError records an execution that could not be carried out.
func (c *Collector) RecordInternalError() { c.internalErrors.Inc() }

// TrackInFlight marks an execution as started and returns the func that
// marks it finished.
func (c *Collector) TrackInFlight() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
