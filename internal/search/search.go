// Package search finds completed videos containing entities that match a
// query, either by exact label or through the label embedding index.
package search

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"strings"

	"github.com/tphakala/entityindex/internal/aggregate"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/labelindex"
	"github.com/tphakala/entityindex/internal/logger"
)

// DefaultSimilarity is the label similarity cut-off when none is given.
const DefaultSimilarity = 0.7

// VideoLister returns videos in the given states.
type VideoLister interface {
	ListByStatus(ctx context.Context, statuses ...datastore.Status) ([]datastore.Video, error)
}

// SimilarLabels ranks indexed labels against free text.
type SimilarLabels interface {
	FindSimilar(ctx context.Context, query string, minSimilarity float64) ([]labelindex.Similar, error)
}

// Options filter a search.
type Options struct {
	Similarity  float64
	MinPresence float64
	MinFrames   int
}

// SimilarEntity is a label suggested by the embedding index.
type SimilarEntity struct {
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

// MatchedEntity is one entity of a video that matched the query.
type MatchedEntity struct {
	Label    string  `json:"label"`
	Presence float64 `json:"presence"`
	Frames   int     `json:"frames"`
	Exact    bool    `json:"exact"`
}

// Result is one matching video.
type Result struct {
	VideoID         string          `json:"video_id"`
	Filename        string          `json:"filename"`
	Status          string          `json:"status"`
	DurationSec     float64         `json:"duration_sec"`
	MatchedEntities []MatchedEntity `json:"matched_entities"`
}

// Response is the search result document.
type Response struct {
	ExactMatchesCount   int             `json:"exact_matches_count"`
	AIEnhancementsCount int             `json:"ai_enhancements_count"`
	TotalUniqueVideos   int             `json:"total_unique_videos"`
	SimilarEntities     []SimilarEntity `json:"similar_entities"`
	Results             []Result        `json:"results"`
}

func emptyResponse() *Response {
	return &Response{SimilarEntities: []SimilarEntity{}, Results: []Result{}}
}

// ParseQuery splits a comma separated query into trimmed lower-case tokens.
func ParseQuery(q string) []string {
	var tokens []string
	for part := range strings.SplitSeq(q, ",") {
		if t := strings.ToLower(strings.TrimSpace(part)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Service runs searches. A nil index limits matching to exact labels.
type Service struct {
	videos VideoLister
	index  SimilarLabels
	log    logger.Logger
}

// NewService returns a search service.
func NewService(videos VideoLister, index SimilarLabels, log logger.Logger) *Service {
	if log == nil {
		log = logger.Global().Module("search")
	}
	return &Service{videos: videos, index: index, log: log}
}

// Search matches q against the entities of every completed video.
func (s *Service) Search(ctx context.Context, q string, opts Options) (*Response, error) {
	tokens := ParseQuery(q)
	if len(tokens) == 0 {
		return emptyResponse(), nil
	}
	if opts.Similarity <= 0 {
		opts.Similarity = DefaultSimilarity
	}

	similar := s.similar(ctx, q, opts.Similarity)
	similarSet := make(map[string]struct{}, len(similar))
	for _, sim := range similar {
		similarSet[sim.Label] = struct{}{}
	}

	videos, err := s.videos.ListByStatus(ctx, datastore.StatusCompleted)
	if err != nil {
		return nil, err
	}

	resp := emptyResponse()
	exactFound := make(map[string]struct{})
	for _, v := range videos {
		if v.EntitiesJSON == "" {
			continue
		}
		var entities map[string]aggregate.EntityRecord
		if err := json.Unmarshal([]byte(v.EntitiesJSON), &entities); err != nil {
			s.log.Warn("skipping video with unreadable entities",
				logger.String("video_id", v.ID),
				logger.Error(err))
			continue
		}

		var matched []MatchedEntity
		for label, rec := range entities {
			lower := strings.ToLower(label)
			exact := slices.Contains(tokens, lower)
			_, near := similarSet[label]
			if !exact && !near {
				continue
			}
			if rec.Presence < opts.MinPresence || rec.Count < opts.MinFrames {
				continue
			}
			if exact {
				exactFound[lower] = struct{}{}
			}
			matched = append(matched, MatchedEntity{
				Label:    label,
				Presence: rec.Presence,
				Frames:   rec.Count,
				Exact:    exact,
			})
		}
		if len(matched) == 0 {
			continue
		}
		slices.SortFunc(matched, func(a, b MatchedEntity) int { return strings.Compare(a.Label, b.Label) })
		resp.Results = append(resp.Results, Result{
			VideoID:         v.ID,
			Filename:        v.Filename,
			Status:          string(v.Status),
			DurationSec:     v.DurationSec,
			MatchedEntities: matched,
		})
	}

	for _, sim := range similar {
		resp.SimilarEntities = append(resp.SimilarEntities, SimilarEntity{
			Label:      sim.Label,
			Similarity: math.Round(sim.Score*10000) / 10000,
		})
	}
	resp.ExactMatchesCount = len(exactFound)
	resp.AIEnhancementsCount = len(resp.SimilarEntities)
	resp.TotalUniqueVideos = len(resp.Results)
	return resp, nil
}

// similar asks the label index for near labels. Index failures degrade
// the search to exact matching.
func (s *Service) similar(ctx context.Context, q string, minSimilarity float64) []labelindex.Similar {
	if s.index == nil {
		return nil
	}
	similar, err := s.index.FindSimilar(ctx, q, minSimilarity)
	if err != nil {
		s.log.Warn("label similarity lookup failed, using exact matches only",
			logger.String("query", q),
			logger.Error(err))
		return nil
	}
	return similar
}
