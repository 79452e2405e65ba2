// Package metrics counts what a harvesting run did and exports it for the
// Prometheus node exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Window outcomes
const (
	OutcomeCheckpoint  = "skipped_checkpoint"
	OutcomeCoverage    = "skipped_coverage"
	OutcomeCollected   = "collected"
	OutcomeMergeFailed = "merge_failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeCancelled   = "cancelled"
)

// Record stages
const (
	StageAggregated = "aggregated"
	StageMerged     = "merged"
)

// Recorder owns a private registry so repeated runs in one process never collide.
// A nil *Recorder accepts every call and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	windows        *prometheus.CounterVec
	pages          *prometheus.CounterVec
	records        *prometheus.CounterVec
	rateLimitWaits prometheus.Counter
	rateLimitWait  prometheus.Histogram
	runDuration    prometheus.Gauge
	lastRun        *prometheus.GaugeVec
}

// NewRecorder creates and registers all collectors
func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wmharvest_windows_total",
			Help: "Collection windows processed partitioned by outcome.",
		}, []string{"outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wmharvest_pages_total",
			Help: "Query analytics pages requested partitioned by indicator and result.",
		}, []string{"indicator", "result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wmharvest_records_total",
			Help: "Statistic records partitioned by pipeline stage.",
		}, []string{"stage"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wmharvest_rate_limit_waits_total",
			Help: "Times the API quota was exhausted and the run waited for the next quantum.",
		}),
		rateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wmharvest_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the API quota to reset.",
			Buckets: []float64{60, 300, 600, 1200, 1800, 2700, 3600},
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wmharvest_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wmharvest_last_run_timestamp_seconds",
			Help: "Unix time the last run finished partitioned by result.",
		}, []string{"result"}),
	}

	for _, collector := range []prometheus.Collector{
		r.windows,
		r.pages,
		r.records,
		r.rateLimitWaits,
		r.rateLimitWait,
		r.runDuration,
		r.lastRun,
	} {
		if err := r.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register run collector: %w", err)
		}
	}
	return r, nil
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WindowDone counts a finished window
func (r *Recorder) WindowDone(outcome string) {
	if r == nil {
		return
	}
	r.windows.WithLabelValues(outcome).Inc()
}

// PageFetched counts one page request
func (r *Recorder) PageFetched(indicator string, failed bool) {
	if r == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	r.pages.WithLabelValues(indicator, result).Inc()
}

// Records adds n records at a stage
func (r *Recorder) Records(stage string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.records.WithLabelValues(stage).Add(float64(n))
}

// RateLimited records one quota wait
func (r *Recorder) RateLimited(wait time.Duration) {
	if r == nil {
		return
	}
	r.rateLimitWaits.Inc()
	r.rateLimitWait.Observe(wait.Seconds())
}

// RunFinished records the run duration and completion time
func (r *Recorder) RunFinished(start, end time.Time, success bool) {
	if r == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	r.runDuration.Set(end.Sub(start).Seconds())
	r.lastRun.WithLabelValues(result).Set(float64(end.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
