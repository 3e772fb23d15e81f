package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/detection"
	"github.com/tphakala/entityindex/internal/frames"
)

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	l := New("/data")
	assert.Equal(t, "/data/videos/abc", l.VideoDir("abc"))
	assert.Equal(t, "/data/frames/abc/frames.json", l.FramesIndexPath("abc"))
	assert.Equal(t, "/data/reports/abc/report.json", l.ReportPath("abc"))
	assert.Equal(t, "/data/reports/abc/transcript.json", l.TranscriptPath("abc"))
	assert.Equal(t, "/data/index/labels.json", l.IndexPath())
	assert.Equal(t, "/data/frames/abc/annotated", l.AnnotatedDir("abc"))
}

func TestEnsureAndRemove(t *testing.T) {
	t.Parallel()

	l := New(t.TempDir())
	require.NoError(t, l.Ensure())
	for _, dir := range []string{"videos", "frames", "reports", "index"} {
		assert.DirExists(t, filepath.Join(l.Root(), dir))
	}

	require.NoError(t, WriteJSON(l.ReportPath("v1"), map[string]int{"a": 1}))
	require.NoError(t, os.MkdirAll(l.FramesDir("v1"), 0o755))
	require.NoError(t, os.MkdirAll(l.FramesDir("v2"), 0o755))

	require.NoError(t, l.Remove("v1"))
	assert.NoDirExists(t, l.ReportsDir("v1"))
	assert.NoDirExists(t, l.FramesDir("v1"))
	assert.DirExists(t, l.FramesDir("v2"))

	require.NoError(t, l.Remove("v1"), "removing twice is fine")
	assert.Error(t, l.Remove("../etc"))
	assert.Error(t, l.Remove(""))
}

func TestWriteReadJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "report.json")
	in := map[string]any{"unique_entities": 2.0, "entities": map[string]any{}}
	require.NoError(t, WriteJSON(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"entities\"", "indented output")

	var out map[string]any
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	err = ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	assert.Error(t, ReadJSON(bad, &out))
}

func TestBuildFramesIndex(t *testing.T) {
	t.Parallel()

	fds := []detection.FrameDetections{
		{
			Frame: frames.Frame{Index: 0, TimestampSec: 0, Path: "/f/frame_000001.jpg"},
			Detections: []detection.Detection{
				{Label: "tank", RawLabel: "Tank", Confidence: 0.8, Source: detection.SourceObject},
			},
		},
		{Frame: frames.Frame{Index: 1, TimestampSec: 5, Path: "/f/frame_000002.jpg"}},
	}

	idx := BuildFramesIndex(fds, map[int]string{0: "frame_000001.jpg"})
	require.Len(t, idx.Frames, 2)
	assert.Equal(t, "frame_000001.jpg", idx.Frames[0].Filename)
	assert.Equal(t, "frame_000001.jpg", idx.Frames[0].AnnotatedFilename)
	assert.Empty(t, idx.Frames[1].AnnotatedFilename)
	assert.InDelta(t, 5.0, idx.Frames[1].TimestampSec, 1e-9)

	data, err := json.Marshal(idx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections":[]`, "frames without hits encode an empty list")
	assert.Contains(t, string(data), `"frame_index":1`)
}

func TestFramesIndexPage(t *testing.T) {
	t.Parallel()

	idx := FramesIndex{Frames: make([]FrameEntry, 7)}
	for i := range idx.Frames {
		idx.Frames[i].FrameIndex = i
	}

	assert.Len(t, idx.Page(1, 3), 3)
	last := idx.Page(3, 3)
	require.Len(t, last, 1)
	assert.Equal(t, 6, last[0].FrameIndex)
	assert.Empty(t, idx.Page(4, 3))
	assert.Len(t, idx.Page(0, 0), 7)
}
