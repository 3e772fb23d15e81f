package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/errors"
)

func gather(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func counterValue(f *dto.MetricFamily, labels map[string]string) float64 {
	if f == nil {
		return 0
	}
	for _, metric := range f.GetMetric() {
		match := true
		for _, lp := range metric.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

// TestNewMetricsConcurrency verifies that each call gets its own registry
// and that concurrent construction does not collide.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			assert.NoError(t, err)
			if assert.NotNil(t, m) {
				assert.NotNil(t, m.Jobs)
				assert.NotNil(t, m.Detector)
				assert.NotNil(t, m.Queue)
				assert.NotNil(t, m.HTTP)
			}
		})
	}
	wg.Wait()
}

func TestDetectorMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Detector.RecordInvoke("object", 0.02, 3, nil)
	m.Detector.RecordInvoke("object", 0.03, 2, nil)
	m.Detector.RecordInvoke("ocr", 0, 0, errors.New(errors.NewStd("tesseract failed")).
		Category(errors.CategoryCommandExecution).Build())
	m.Detector.RecordInvoke("ocr", 0, 0, errors.NewStd("plain"))

	assert.InDelta(t, 5, counterValue(gather(t, m, "entityindex_detections_total"),
		map[string]string{"source": "object"}), 1e-9)

	errs := gather(t, m, "entityindex_detector_errors_total")
	assert.InDelta(t, 1, counterValue(errs,
		map[string]string{"source": "ocr", "error_type": string(errors.CategoryCommandExecution)}), 1e-9)
	assert.InDelta(t, 1, counterValue(errs,
		map[string]string{"source": "ocr", "error_type": "unknown"}), 1e-9)
}

func TestJobMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Jobs.JobStarted()
	m.Jobs.RecordStage("detecting_entities", 1.5)
	m.Jobs.RecordResult(120, 7)
	m.Jobs.JobFinished("completed", 30)

	assert.InDelta(t, 1, counterValue(gather(t, m, "entityindex_jobs_total"),
		map[string]string{"status": "completed"}), 1e-9)

	active := gather(t, m, "entityindex_jobs_active")
	require.NotNil(t, active)
	assert.InDelta(t, 0, active.GetMetric()[0].GetGauge().GetValue(), 1e-9)

	frames := gather(t, m, "entityindex_job_frames_analyzed")
	require.NotNil(t, frames)
	assert.Equal(t, uint64(1), frames.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Queue.Enqueued.Inc()
	m.HTTP.RecordRequest(http.MethodGet, "/api/health", http.StatusOK, 0.001)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "entityindex_queue_enqueued_total 1")
	assert.True(t, strings.Contains(body, `route="/api/health"`))
	assert.Contains(t, body, "go_goroutines")
}
