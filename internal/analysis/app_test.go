package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/buildinfo"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/toolexec"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Main.DataDir = t.TempDir()
	s.Database.SQLite.Enabled = true
	s.Database.SQLite.Path = "jobs.db"
	s.Sampling.IntervalSec = 5
	s.Sampling.FfmpegPath = "ffmpeg"
	s.Sampling.FfprobePath = "ffprobe"
	s.Detection.OCR.Enabled = true
	s.Detection.OCR.TesseractPath = "tesseract"
	s.Aggregation.MinRun = 2
	s.Aggregation.OpenVocabMinRun = 2
	s.Aggregation.DiscoveryMinRun = 2
	s.Aggregation.MinScore = 0.2
	s.LabelIndex.Enabled = true
	s.LabelIndex.Backend = "file"
	s.Queue.Workers = 1
	s.Queue.MaxPending = 4
	s.Queue.ShutdownTimeout = time.Second
	return s
}

// brokenTools fails every external command.
var brokenTools = toolexec.RunnerFunc(func(_ context.Context, name string, _ ...string) ([]byte, error) {
	return nil, errors.Newf("%s: not installed", name).Category(errors.CategoryCommandExecution).Build()
})

func newTestApp(t *testing.T, s *conf.Settings) *App {
	t.Helper()
	app, err := New(t.Context(), s, buildinfo.New("test", "today"), WithRunner(brokenTools))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })
	return app
}

func TestNewWiresComponents(t *testing.T) {
	app := newTestApp(t, testSettings(t))

	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Orchestrator)
	assert.NotNil(t, app.Queue)
	assert.NotNil(t, app.Search)
	assert.NotNil(t, app.Index, "label index is enabled")
	assert.Nil(t, app.Transcriber, "transcription is disabled")
	assert.Equal(t, []string{"ocr"}, app.Ensemble.Active())

	for _, dir := range []string{"videos", "frames", "reports"} {
		assert.DirExists(t, filepath.Join(app.Settings.Main.DataDir, dir))
	}
}

func TestNewRejectsUnknownIndexBackend(t *testing.T) {
	s := testSettings(t)
	s.LabelIndex.Backend = "redis"

	_, err := New(t.Context(), s, buildinfo.New("test", "today"), WithRunner(brokenTools))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewWithoutDatabase(t *testing.T) {
	s := testSettings(t)
	s.Database.SQLite.Enabled = false

	_, err := New(t.Context(), s, buildinfo.New("test", "today"))
	require.Error(t, err)
}

func TestProcessFileRecordsFailure(t *testing.T) {
	app := newTestApp(t, testSettings(t))

	video := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not really a video"), 0o644))

	v, err := app.ProcessFile(t.Context(), video, "", 0)
	require.NoError(t, err, "job failures are recorded, not returned")
	assert.Equal(t, datastore.StatusFailed, v.Status)
	assert.Equal(t, datastore.StageFailed, v.CurrentStage)
	assert.InDelta(t, 100, v.Progress, 1e-9)
	assert.Equal(t, 5, v.IntervalSec, "zero interval uses the configured default")
	assert.Equal(t, video, v.OriginalPath)
	assert.NotEmpty(t, v.Error)
}

func TestServeRecoversQueuedJobs(t *testing.T) {
	app := newTestApp(t, testSettings(t))

	v := &datastore.Video{Filename: "left.mp4", OriginalPath: "/nonexistent/left.mp4", IntervalSec: 5}
	require.NoError(t, app.Store.Create(t.Context(), v))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	require.Eventually(t, func() bool {
		got, err := app.Store.Get(t.Context(), v.ID)
		return err == nil && got.Status == datastore.StatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	stats := app.Queue.Stats()
	assert.True(t, stats.Stopped)
	assert.Equal(t, int64(1), stats.Enqueued)
}
