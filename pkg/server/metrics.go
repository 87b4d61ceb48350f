package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracelane/tracelane/pkg/timeline"
)

const namespace = "tracelane"

// Metrics holds the Prometheus collectors of the server.
type Metrics struct {
	registry *prometheus.Registry

	Runs     *prometheus.CounterVec
	Jobs     prometheus.Gauge
	Lanes    prometheus.Gauge
	Peak     prometheus.Gauge
	Warnings *prometheus.CounterVec
	Duration prometheus.Histogram
	Requests *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Analysis runs by outcome.",
		}, []string{"status"}),
		Jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs in the latest analysis.",
		}),
		Lanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lanes",
			Help:      "Lanes in the latest analysis.",
		}),
		Peak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_active_jobs",
			Help:      "Peak concurrently active jobs in the latest analysis.",
		}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Analysis warnings by kind.",
		}, []string{"kind"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of load plus analysis.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(m.Runs, m.Jobs, m.Lanes, m.Peak, m.Warnings, m.Duration, m.Requests)
	return m
}

// ObserveRun records the outcome of one analysis.
func (m *Metrics) ObserveRun(res *timeline.Result, err error, elapsed time.Duration) {
	m.Duration.Observe(elapsed.Seconds())
	if err != nil {
		m.Runs.WithLabelValues("error").Inc()
		return
	}
	m.Runs.WithLabelValues("ok").Inc()
	m.Jobs.Set(float64(len(res.Jobs)))
	m.Lanes.Set(float64(res.LaneCount()))
	m.Peak.Set(float64(res.Peak().Active))
	for _, w := range res.Warnings {
		m.Warnings.WithLabelValues(w.Kind.String()).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
