package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderFields(t *testing.T) {
	ee := Newf("ffmpeg exited with %d", 1).
		Component("frames").
		Category(CategoryFrameExtraction).
		Priority(PriorityHigh).
		Context("operation", "extract_frames").
		FileContext("/data/videos/a.mp4", 2048).
		Build()

	assert.Equal(t, "frames", ee.GetComponent())
	assert.Equal(t, CategoryFrameExtraction, ee.Category)
	assert.Equal(t, PriorityHigh, ee.Priority)

	ctx := ee.GetContext()
	assert.Equal(t, "extract_frames", ctx["operation"])
	assert.Equal(t, "mp4", ctx["file_extension"])
	assert.Equal(t, "absolute-path", ctx["file_type"])
	assert.Equal(t, "small", ctx["file_size_category"])

	ctx["operation"] = "mutated"
	assert.Equal(t, "extract_frames", ee.GetContext()["operation"], "context copy must not alias")
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestCategoryHelpers(t *testing.T) {
	base := NewStd("sentinel")
	ee := New(base).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("lookup: %w", ee)

	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryNotFound))
	assert.False(t, IsCategory(wrapped, CategoryDatabase))
	assert.True(t, Is(wrapped, base))

	var target *EnhancedError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "sentinel", target.Error())
}

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCategory
	}{
		{"context canceled", CategoryCancellation},
		{"context deadline exceeded", CategoryTimeout},
		{"open /x: no such file or directory", CategoryFileIO},
		{"dial tcp: connection refused", CategoryNetwork},
		{"something odd", CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, New(NewStd(tt.msg)).Build().Category)
		})
	}
}

func TestReporterReceivesErrorsWhenActive(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("boom")).Category(CategoryDetection).Build()

	require.Len(t, rec.reported, 1)
	assert.Same(t, ee, rec.reported[0])
	assert.True(t, ee.IsReported())
}

func TestGenerateErrorTitle(t *testing.T) {
	ee := New(NewStd("x")).
		Component("jobs").
		Category(CategoryJobQueue).
		Context("operation", "enqueue_video").
		Build()
	assert.Equal(t, "Jobs Job Queue Error Enqueue Video", generateErrorTitle(ee.GetComponent(), ee))
}

func buildDatabaseError() error {
	return Newf("disk I/O error").
		Component("datastore").
		Category(CategoryDatabase).
		Context("table", "videos").
		Context("operation", "update").
		Build()
}

func TestTrace(t *testing.T) {
	t.Parallel()

	t.Run("plain errors have no trace", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, Trace(fmt.Errorf("boom")))
		assert.Empty(t, Trace(nil))
	})

	t.Run("innermost enhanced error wins", func(t *testing.T) {
		t.Parallel()
		outer := New(fmt.Errorf("saving progress: %w", buildDatabaseError())).
			Component("jobs").
			Category(CategoryJobQueue).
			Build()

		trace := Trace(outer)
		assert.Contains(t, trace, "origin: database in datastore (operation=update, table=videos)\n")
		assert.Contains(t, trace, "errors.buildDatabaseError")
	})

	t.Run("joined errors are searched", func(t *testing.T) {
		t.Parallel()
		trace := Trace(Join(fmt.Errorf("first"), buildDatabaseError()))
		assert.Contains(t, trace, "origin: database")
	})
}
