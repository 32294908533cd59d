// Package metrics exposes Prometheus instrumentation for the estimation
// service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons for the regions-skipped counter.
const (
	ReasonEmptySeries      = "empty_series"
	ReasonDegenerate       = "degenerate_posterior"
	ReasonIntervalNotFound = "interval_not_found"
	ReasonOther            = "other"
)

// Collector provides application metrics collection
type Collector struct {
	RunsTotal           *prometheus.CounterVec
	RegionsSkippedTotal *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	LastRunTimestamp    prometheus.Gauge
	RegionsEstimated    prometheus.Gauge
	EstimatesTotal      prometheus.Counter
}

// NewCollector creates a new metrics collector registered on the default
// registry.
func NewCollector(namespace string) *Collector {
	return &Collector{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of estimation cycles by status (ok, error, skipped)",
			},
			[]string{"status"},
		),

		RegionsSkippedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regions_skipped_total",
				Help:      "Total number of regions skipped during estimation, by reason",
			},
			[]string{"reason"},
		),

		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of full estimation cycles in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),

		LastRunTimestamp: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the most recent completed estimation cycle",
			},
		),

		RegionsEstimated: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "regions_estimated",
				Help:      "Number of regions with estimates in the most recent cycle",
			},
		),

		EstimatesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "estimates_total",
				Help:      "Total number of (region, date) estimates produced",
			},
		),
	}
}

// RecordRun updates the per-cycle metrics in one place.
func (c *Collector) RecordRun(status string, duration time.Duration, regions, estimates int) {
	c.RunsTotal.WithLabelValues(status).Inc()
	c.RunDuration.Observe(duration.Seconds())
	c.LastRunTimestamp.SetToCurrentTime()
	c.RegionsEstimated.Set(float64(regions))
	c.EstimatesTotal.Add(float64(estimates))
}
