// Package labelindex keeps an embedding per entity label seen in any
// report and ranks stored labels by similarity to a free text query.
package labelindex

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
)

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Similar is a stored label and its similarity to a query.
type Similar struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Backend stores label vectors.
type Backend interface {
	// Missing returns the labels that have no stored vector.
	Missing(ctx context.Context, labels []string) ([]string, error)
	// Put stores vectors, replacing existing ones.
	Put(ctx context.Context, vectors map[string][]float32) error
	// Nearest returns labels with similarity >= minSimilarity, best first.
	Nearest(ctx context.Context, query []float32, minSimilarity float64) ([]Similar, error)
	Close() error
}

// Index embeds labels on demand and answers similarity queries.
type Index struct {
	backend  Backend
	embedder Embedder
	log      logger.Logger

	updateMu sync.Mutex
	queries  *cache.Cache
	group    singleflight.Group
}

// New returns an index over backend. Query vectors are cached for ttl.
func New(backend Backend, embedder Embedder, ttl time.Duration, log logger.Logger) *Index {
	if log == nil {
		log = logger.Global().Module("labelindex")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Index{
		backend:  backend,
		embedder: embedder,
		log:      log,
		queries:  cache.New(ttl, 2*ttl),
	}
}

// Update embeds and stores the labels that are not indexed yet.
func (i *Index) Update(ctx context.Context, labels []string) error {
	unique := dedupe(labels)
	if len(unique) == 0 {
		return nil
	}

	i.updateMu.Lock()
	defer i.updateMu.Unlock()

	missing, err := i.backend.Missing(ctx, unique)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	vectors, err := i.embedder.EmbedTexts(ctx, missing)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryEmbedding).
			Context("labels", len(missing)).
			Build()
	}
	if len(vectors) != len(missing) {
		return errors.Newf("embedder returned %d vectors for %d labels", len(vectors), len(missing)).
			Category(errors.CategoryEmbedding).
			Build()
	}

	entries := make(map[string][]float32, len(missing))
	for n, label := range missing {
		entries[label] = vectors[n]
	}
	if err := i.backend.Put(ctx, entries); err != nil {
		return err
	}

	i.log.Info("label index updated", logger.Int("added", len(missing)))
	return nil
}

// FindSimilar ranks indexed labels against query. Concurrent identical
// queries share one embedding request.
func (i *Index) FindSimilar(ctx context.Context, query string, minSimilarity float64) ([]Similar, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	vec, err := i.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	return i.backend.Nearest(ctx, vec, minSimilarity)
}

func (i *Index) queryVector(ctx context.Context, query string) ([]float32, error) {
	if v, ok := i.queries.Get(query); ok {
		return v.([]float32), nil
	}

	v, err, _ := i.group.Do(query, func() (any, error) {
		vectors, err := i.embedder.EmbedTexts(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		if len(vectors) != 1 {
			return nil, errors.Newf("embedder returned %d vectors for one query", len(vectors)).
				Category(errors.CategoryEmbedding).
				Build()
		}
		i.queries.SetDefault(query, vectors[0])
		return vectors[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Close releases the backend.
func (i *Index) Close() error {
	return i.backend.Close()
}

func dedupe(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// rank sorts by score descending, then label.
func rank(results []Similar) {
	slices.SortFunc(results, func(a, b Similar) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Label, b.Label)
	})
}
