package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
)

func createTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Main.DataDir = t.TempDir()
	s.Database.SQLite.Enabled = true
	s.Database.SQLite.Path = filepath.Join("db", "test.db")
	return s
}

func createDatabase(t *testing.T, settings *conf.Settings) Interface {
	t.Helper()
	ds, err := New(settings)
	require.NoError(t, err)
	if s, ok := ds.(*SQLiteStore); ok {
		s.Logger = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	}
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func TestCreateAssignsDefaults(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t, createTestSettings(t))

	v := &Video{Filename: "clip.mp4", IntervalSec: 5}
	require.NoError(t, ds.Create(t.Context(), v))
	assert.Len(t, v.ID, 36)

	got, err := ds.Get(t.Context(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, StageQueued, got.CurrentStage)
	assert.Equal(t, "clip.mp4", got.Filename)
	assert.Zero(t, got.Progress)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t, createTestSettings(t))

	_, err := ds.Get(t.Context(), "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t, createTestSettings(t))
	ctx := t.Context()

	v := &Video{Filename: "a.mp4"}
	require.NoError(t, ds.Create(ctx, v))

	err := ds.Update(ctx, v.ID, Fields{
		ColStatus:         StatusProcessing,
		ColStage:          StageDetectingEntities,
		ColProgress:       42.5,
		ColFramesAnalyzed: 12,
	})
	require.NoError(t, err)

	got, err := ds.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, StageDetectingEntities, got.CurrentStage)
	assert.InDelta(t, 42.5, got.Progress, 1e-9)
	assert.Equal(t, 12, got.FramesAnalyzed)
	assert.Equal(t, "a.mp4", got.Filename, "untouched columns keep their values")

	t.Run("unknown column", func(t *testing.T) {
		err := ds.Update(ctx, v.ID, Fields{"filename": "evil"})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	})

	t.Run("missing row", func(t *testing.T) {
		err := ds.Update(ctx, "nope", Fields{ColProgress: 1.0})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty update", func(t *testing.T) {
		assert.NoError(t, ds.Update(ctx, "nope", nil))
	})
}

func TestListPagination(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t, createTestSettings(t))
	ctx := t.Context()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		v := &Video{Filename: "v.mp4", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if i%2 == 0 {
			v.Status = StatusCompleted
		}
		require.NoError(t, ds.Create(ctx, v))
	}

	page, err := ds.List(ctx, ListOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt), "newest first")

	page, err = ds.List(ctx, ListOptions{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	page, err = ds.List(ctx, ListOptions{Status: StatusCompleted})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, defaultPageSize, page.PageSize)
	for _, v := range page.Items {
		assert.Equal(t, StatusCompleted, v.Status)
	}

	page, err = ds.List(ctx, ListOptions{Page: 10})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestListByStatusAndDelete(t *testing.T) {
	t.Parallel()
	ds := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	statuses := []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed}
	ids := make(map[Status]string)
	for _, s := range statuses {
		v := &Video{Filename: string(s) + ".mp4", Status: s}
		require.NoError(t, ds.Create(ctx, v))
		ids[s] = v.ID
	}

	pending, err := ds.ListByStatus(ctx, StatusQueued, StatusProcessing)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, ds.Delete(ctx, ids[StatusFailed]))
	assert.ErrorIs(t, ds.Delete(ctx, ids[StatusFailed]), ErrNotFound)

	_, err = ds.Get(ctx, ids[StatusFailed])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRequiresBackend(t *testing.T) {
	t.Parallel()
	_, err := New(&conf.Settings{})
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusQueued.Valid())
	assert.False(t, Status("paused").Valid())
}
