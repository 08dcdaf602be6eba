// Package metrics provides Prometheus metrics for analysis dispatch and batch saves.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics contains the Prometheus metrics of the analysis pipeline.
type DispatchMetrics struct {
	dispatchOutcomes *prometheus.CounterVec
	aiAttempts       prometheus.Histogram
	analysisDuration prometheus.Histogram
	queueDepth       prometheus.Gauge
	saveOutcomes     *prometheus.CounterVec
	stuckRecovered   prometheus.Counter
}

var _ prometheus.Collector = (*DispatchMetrics)(nil)

// NewDispatchMetrics creates the metrics and registers them with registry.
func NewDispatchMetrics(registry prometheus.Registerer) (*DispatchMetrics, error) {
	m := &DispatchMetrics{
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medstock_analysis_dispatch_total",
			Help: "Total number of analysis dispatches by final entry status",
		}, []string{"status"}),
		aiAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medstock_ai_call_attempts",
			Help:    "Number of vision model attempts per analysis",
			Buckets: prometheus.LinearBuckets(1, 1, 6),
		}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medstock_analysis_duration_seconds",
			Help:    "Wall-clock duration of an analysis from claim to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medstock_analysis_queue_depth",
			Help: "Number of analysis tasks waiting in the queue",
		}),
		saveOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medstock_batch_save_entries_total",
			Help: "Total number of approved entries processed by batch saves by outcome",
		}, []string{"outcome"}),
		stuckRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medstock_analysis_stuck_recovered_total",
			Help: "Total number of entries failed by the stuck analysis monitor",
		}),
	}

	if registry != nil {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register dispatch metrics: %w", err)
		}
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *DispatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.dispatchOutcomes.Describe(ch)
	m.aiAttempts.Describe(ch)
	m.analysisDuration.Describe(ch)
	m.queueDepth.Describe(ch)
	m.saveOutcomes.Describe(ch)
	m.stuckRecovered.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *DispatchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.dispatchOutcomes.Collect(ch)
	m.aiAttempts.Collect(ch)
	m.analysisDuration.Collect(ch)
	m.queueDepth.Collect(ch)
	m.saveOutcomes.Collect(ch)
	m.stuckRecovered.Collect(ch)
}

// RecordDispatch records one finished analysis.
func (m *DispatchMetrics) RecordDispatch(status string, attempts int, duration time.Duration) {
	m.dispatchOutcomes.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.aiAttempts.Observe(float64(attempts))
	}
	m.analysisDuration.Observe(duration.Seconds())
}

// SetQueueDepth updates the queue depth gauge.
func (m *DispatchMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// RecordSave records the per-entry outcomes of a batch save.
func (m *DispatchMetrics) RecordSave(succeeded, failed int) {
	m.saveOutcomes.WithLabelValues("saved").Add(float64(succeeded))
	m.saveOutcomes.WithLabelValues("failed").Add(float64(failed))
}

// RecordStuckRecovered counts entries failed by the stuck monitor.
func (m *DispatchMetrics) RecordStuckRecovered(n int) {
	m.stuckRecovered.Add(float64(n))
}
