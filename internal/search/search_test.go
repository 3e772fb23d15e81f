package search

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/aggregate"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/labelindex"
	"github.com/tphakala/entityindex/internal/logger"
)

type fakeVideos []datastore.Video

func (f fakeVideos) ListByStatus(_ context.Context, statuses ...datastore.Status) ([]datastore.Video, error) {
	var out []datastore.Video
	for _, v := range f {
		for _, s := range statuses {
			if v.Status == s {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

type fakeIndex struct {
	similar []labelindex.Similar
	err     error
	queries []string
}

func (f *fakeIndex) FindSimilar(_ context.Context, q string, _ float64) ([]labelindex.Similar, error) {
	f.queries = append(f.queries, q)
	return f.similar, f.err
}

func entitiesJSON(t *testing.T, recs map[string]aggregate.EntityRecord) string {
	t.Helper()
	data, err := json.Marshal(recs)
	require.NoError(t, err)
	return string(data)
}

func testVideos(t *testing.T) fakeVideos {
	t.Helper()
	return fakeVideos{
		{
			ID: "v1", Filename: "harbor.mp4", Status: datastore.StatusCompleted, DurationSec: 60,
			EntitiesJSON: entitiesJSON(t, map[string]aggregate.EntityRecord{
				"aircraft carrier": {Count: 8, Presence: 0.8},
				"warship":          {Count: 2, Presence: 0.2},
				"CVN-72":           {Count: 3, Presence: 0.3},
			}),
		},
		{
			ID: "v2", Filename: "convoy.mp4", Status: datastore.StatusCompleted, DurationSec: 30,
			EntitiesJSON: entitiesJSON(t, map[string]aggregate.EntityRecord{
				"tank":             {Count: 5, Presence: 0.5},
				"military vehicle": {Count: 6, Presence: 0.6},
			}),
		},
		{
			ID: "v3", Filename: "pending.mp4", Status: datastore.StatusProcessing,
			EntitiesJSON: entitiesJSON(t, map[string]aggregate.EntityRecord{"tank": {Count: 9, Presence: 0.9}}),
		},
		{ID: "v4", Filename: "broken.mp4", Status: datastore.StatusCompleted, EntitiesJSON: "{not json"},
	}
}

func quiet() logger.Logger { return logger.NewSlogLogger(nil, logger.LogLevelError, nil) }

func TestParseQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"tank", "aircraft carrier"}, ParseQuery(" Tank , Aircraft Carrier ,, "))
	assert.Nil(t, ParseQuery(" , "))
	assert.Equal(t, []string{"cvn-72"}, ParseQuery("CVN-72"))
}

func TestSearchExactAndSimilar(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{similar: []labelindex.Similar{
		{Label: "military vehicle", Score: 0.812345},
	}}
	s := NewService(testVideos(t), idx, quiet())

	resp, err := s.Search(t.Context(), "tank, cvn-72", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"tank, cvn-72"}, idx.queries, "the raw query is embedded")
	assert.Equal(t, 2, resp.ExactMatchesCount)
	assert.Equal(t, 1, resp.AIEnhancementsCount)
	assert.Equal(t, 2, resp.TotalUniqueVideos)
	assert.Equal(t, []SimilarEntity{{Label: "military vehicle", Similarity: 0.8123}}, resp.SimilarEntities)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "v1", resp.Results[0].VideoID)
	assert.Equal(t, []MatchedEntity{{Label: "CVN-72", Presence: 0.3, Frames: 3, Exact: true}}, resp.Results[0].MatchedEntities)

	convoy := resp.Results[1]
	require.Len(t, convoy.MatchedEntities, 2)
	assert.Equal(t, "military vehicle", convoy.MatchedEntities[0].Label)
	assert.False(t, convoy.MatchedEntities[0].Exact)
	assert.Equal(t, "tank", convoy.MatchedEntities[1].Label)
}

func TestSearchFilters(t *testing.T) {
	t.Parallel()

	s := NewService(testVideos(t), nil, quiet())

	resp, err := s.Search(t.Context(), "warship, aircraft carrier", Options{MinPresence: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []MatchedEntity{{Label: "aircraft carrier", Presence: 0.8, Frames: 8, Exact: true}}, resp.Results[0].MatchedEntities)
	assert.Equal(t, 1, resp.ExactMatchesCount)

	resp, err = s.Search(t.Context(), "tank", Options{MinFrames: 6})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	s := NewService(testVideos(t), idx, quiet())
	resp, err := s.Search(t.Context(), "  ", Options{})
	require.NoError(t, err)
	assert.Zero(t, resp.TotalUniqueVideos)
	assert.Empty(t, idx.queries)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exact_matches_count":0,"ai_enhancements_count":0,"total_unique_videos":0,"similar_entities":[],"results":[]}`, string(data))
}

func TestSearchIndexFailureFallsBackToExact(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{err: errors.NewStd("embedding service down")}
	s := NewService(testVideos(t), idx, quiet())

	resp, err := s.Search(t.Context(), "tank", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalUniqueVideos)
	assert.Empty(t, resp.SimilarEntities)
}
