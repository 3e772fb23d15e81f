package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics contains Prometheus metrics for video processing jobs.
type JobMetrics struct {
	JobsTotal      *prometheus.CounterVec
	ActiveJobs     prometheus.Gauge
	JobDuration    prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	FramesAnalyzed prometheus.Histogram
	EntitiesFound  prometheus.Histogram
}

// NewJobMetrics creates and registers job metrics.
func NewJobMetrics(registry *prometheus.Registry) (*JobMetrics, error) {
	m := &JobMetrics{
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityindex_jobs_total",
				Help: "Total number of finished jobs by terminal status.",
			},
			[]string{"status"},
		),
		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "entityindex_jobs_active",
				Help: "Number of jobs currently being processed.",
			},
		),
		JobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entityindex_job_duration_seconds",
				Help:    "Wall time of a video job from start to terminal state.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entityindex_stage_duration_seconds",
				Help:    "Time spent in each job stage.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"stage"},
		),
		FramesAnalyzed: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entityindex_job_frames_analyzed",
				Help:    "Frames analyzed per job.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		EntitiesFound: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entityindex_job_entities_found",
				Help:    "Unique entities reported per job.",
				Buckets: prometheus.LinearBuckets(0, 5, 12),
			},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register job metrics: %w", err)
	}
	return m, nil
}

// JobStarted marks a job as running.
func (m *JobMetrics) JobStarted() {
	m.ActiveJobs.Inc()
}

// JobFinished records a terminal job.
func (m *JobMetrics) JobFinished(status string, seconds float64) {
	m.ActiveJobs.Dec()
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(seconds)
}

// RecordStage records the duration of one stage.
func (m *JobMetrics) RecordStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordResult records the size of a completed job's output.
func (m *JobMetrics) RecordResult(frames, entities int) {
	m.FramesAnalyzed.Observe(float64(frames))
	m.EntitiesFound.Observe(float64(entities))
}

// Describe implements the prometheus.Collector interface.
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.JobsTotal.Describe(ch)
	ch <- m.ActiveJobs.Desc()
	ch <- m.JobDuration.Desc()
	m.StageDuration.Describe(ch)
	ch <- m.FramesAnalyzed.Desc()
	ch <- m.EntitiesFound.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	m.JobsTotal.Collect(ch)
	ch <- m.ActiveJobs
	ch <- m.JobDuration
	m.StageDuration.Collect(ch)
	ch <- m.FramesAnalyzed
	ch <- m.EntitiesFound
}
