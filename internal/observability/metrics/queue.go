package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics contains Prometheus metrics for the job queue.
type QueueMetrics struct {
	Pending  prometheus.Gauge
	Running  prometheus.Gauge
	Enqueued prometheus.Counter
	Dropped  prometheus.Counter
	Retries  prometheus.Counter
	Results  *prometheus.CounterVec
}

// NewQueueMetrics creates and registers queue metrics.
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entityindex_queue_pending",
			Help: "Jobs waiting for a worker.",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entityindex_queue_running",
			Help: "Jobs currently held by a worker.",
		}),
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entityindex_queue_enqueued_total",
			Help: "Jobs accepted by the queue.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entityindex_queue_dropped_total",
			Help: "Jobs rejected because the queue was full or stopping.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entityindex_queue_retries_total",
			Help: "Job attempts that were retried.",
		}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entityindex_queue_results_total",
			Help: "Finished queue tasks by result.",
		}, []string{"result"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register queue metrics: %w", err)
	}
	return m, nil
}

// Describe implements the prometheus.Collector interface.
func (m *QueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Pending.Desc()
	ch <- m.Running.Desc()
	ch <- m.Enqueued.Desc()
	ch <- m.Dropped.Desc()
	ch <- m.Retries.Desc()
	m.Results.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *QueueMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Pending
	ch <- m.Running
	ch <- m.Enqueued
	ch <- m.Dropped
	ch <- m.Retries
	m.Results.Collect(ch)
}
