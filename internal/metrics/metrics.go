// Package metrics exposes Prometheus counters for uploads, ticks and the
// per-image pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultOK       = "ok"
	ResultFailed   = "failed"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	uploads          *prometheus.CounterVec
	pipelineFiles    *prometheus.CounterVec
	ticks            *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	stragglersMoved  prometheus.Counter
	windowsCompleted prometheus.Counter
	uptime           prometheus.GaugeFunc
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	started := time.Now()
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skymosaic_uploads_total",
			Help: "Total number of uploaded files by result",
		}, []string{"result"}),
		pipelineFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skymosaic_pipeline_files_total",
			Help: "Total number of images processed by the pipeline by result",
		}, []string{"result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skymosaic_ticks_total",
			Help: "Total number of scheduler ticks by outcome",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skymosaic_tick_duration_seconds",
			Help:    "Duration of scheduler ticks",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		stragglersMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skymosaic_stragglers_moved_total",
			Help: "Total number of unprocessed files carried forward to the next window",
		}),
		windowsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skymosaic_windows_completed_total",
			Help: "Total number of windows whose tiles were produced",
		}),
		uptime: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "skymosaic_uptime_seconds",
			Help: "Seconds since the process started collecting metrics",
		}, func() float64 {
			return time.Since(started).Seconds()
		}),
	}

	registry.MustRegister(
		m.uploads,
		m.pipelineFiles,
		m.ticks,
		m.tickDuration,
		m.stragglersMoved,
		m.windowsCompleted,
		m.uptime,
	)
	return m
}

// Upload counts an upload with the given result.
func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

// PipelineFile counts one image handled by the pipeline.
func (m *Metrics) PipelineFile(result string) {
	if m == nil {
		return
	}
	m.pipelineFiles.WithLabelValues(result).Inc()
}

// Tick records a finished tick.
func (m *Metrics) Tick(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(elapsed.Seconds())
}

// StragglersMoved adds n carried-forward files.
func (m *Metrics) StragglersMoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stragglersMoved.Add(float64(n))
}

// WindowCompleted counts a window appended to the record.
func (m *Metrics) WindowCompleted() {
	if m == nil {
		return
	}
	m.windowsCompleted.Inc()
}
