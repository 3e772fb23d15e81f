// Package metrics provides custom Prometheus metrics for entityindex.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectorMetrics contains Prometheus metrics for the detector ensemble.
type DetectorMetrics struct {
	DetectionsTotal *prometheus.CounterVec
	InvokeTotal     *prometheus.CounterVec
	InvokeDuration  *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
	InitTotal       *prometheus.CounterVec
	EnabledGauge    *prometheus.GaugeVec
}

// NewDetectorMetrics creates and registers detector metrics.
func NewDetectorMetrics(registry *prometheus.Registry) (*DetectorMetrics, error) {
	m := &DetectorMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detector metrics: %w", err)
	}
	return m, nil
}

func (m *DetectorMetrics) initMetrics() {
	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindex_detections_total",
			Help: "Total number of detections emitted, partitioned by source.",
		},
		[]string{"source"},
	)
	m.InvokeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindex_detector_invocations_total",
			Help: "Total number of detector invocations by source and status.",
		},
		[]string{"source", "status"},
	)
	m.InvokeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entityindex_detector_invoke_duration_seconds",
			Help:    "Time taken by one detector on one frame.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"source"},
	)
	m.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindex_detector_errors_total",
			Help: "Total number of detector errors by source and error category.",
		},
		[]string{"source", "error_type"},
	)
	m.InitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindex_detector_init_total",
			Help: "Detector initialization attempts by detector and status.",
		},
		[]string{"detector", "status"},
	)
	m.EnabledGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entityindex_detector_enabled",
			Help: "Whether a detector is active in the ensemble (1) or disabled (0).",
		},
		[]string{"detector"},
	)
}

// RecordInvoke records one detector call on one frame.
func (m *DetectorMetrics) RecordInvoke(source string, seconds float64, detections int, err error) {
	if err != nil {
		m.InvokeTotal.WithLabelValues(source, StatusError).Inc()
		m.ErrorsTotal.WithLabelValues(source, categorizeError(err)).Inc()
		return
	}
	m.InvokeTotal.WithLabelValues(source, StatusSuccess).Inc()
	m.InvokeDuration.WithLabelValues(source).Observe(seconds)
	m.DetectionsTotal.WithLabelValues(source).Add(float64(detections))
}

// RecordInit records a detector initialization attempt.
func (m *DetectorMetrics) RecordInit(detector string, err error) {
	if err != nil {
		m.InitTotal.WithLabelValues(detector, StatusError).Inc()
		m.EnabledGauge.WithLabelValues(detector).Set(0)
		return
	}
	m.InitTotal.WithLabelValues(detector, StatusSuccess).Inc()
	m.EnabledGauge.WithLabelValues(detector).Set(1)
}

// Describe implements the prometheus.Collector interface.
func (m *DetectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DetectionsTotal.Describe(ch)
	m.InvokeTotal.Describe(ch)
	m.InvokeDuration.Describe(ch)
	m.ErrorsTotal.Describe(ch)
	m.InitTotal.Describe(ch)
	m.EnabledGauge.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DetectorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DetectionsTotal.Collect(ch)
	m.InvokeTotal.Collect(ch)
	m.InvokeDuration.Collect(ch)
	m.ErrorsTotal.Collect(ch)
	m.InitTotal.Collect(ch)
	m.EnabledGauge.Collect(ch)
}
