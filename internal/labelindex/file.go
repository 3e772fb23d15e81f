package labelindex

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/tphakala/entityindex/internal/artifacts"
	"github.com/tphakala/entityindex/internal/embedding"
	"github.com/tphakala/entityindex/internal/errors"
)

type fileEntry struct {
	Label     string    `json:"label"`
	Embedding []float32 `json:"embedding"`
}

type fileDocument struct {
	Labels []fileEntry `json:"labels"`
}

// FileBackend keeps the index in one JSON document, labels sorted.
type FileBackend struct {
	path string

	mu      sync.RWMutex
	loaded  bool
	vectors map[string][]float32
}

// NewFileBackend returns a backend stored at path. The file is read lazily.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) load() error {
	if f.loaded {
		return nil
	}
	var doc fileDocument
	if err := artifacts.ReadJSON(f.path, &doc); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	f.vectors = make(map[string][]float32, len(doc.Labels))
	for _, e := range doc.Labels {
		f.vectors[e.Label] = e.Embedding
	}
	f.loaded = true
	return nil
}

// Missing implements Backend.
func (f *FileBackend) Missing(_ context.Context, labels []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}
	var missing []string
	for _, l := range labels {
		if _, ok := f.vectors[l]; !ok {
			missing = append(missing, l)
		}
	}
	return missing, nil
}

// Put implements Backend and rewrites the file.
func (f *FileBackend) Put(_ context.Context, vectors map[string][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	for label, v := range vectors {
		f.vectors[label] = v
	}

	doc := fileDocument{Labels: make([]fileEntry, 0, len(f.vectors))}
	for label, v := range f.vectors {
		doc.Labels = append(doc.Labels, fileEntry{Label: label, Embedding: v})
	}
	slices.SortFunc(doc.Labels, func(a, b fileEntry) int {
		return strings.Compare(a.Label, b.Label)
	})
	return artifacts.WriteJSON(f.path, doc)
}

// Nearest implements Backend with a linear scan.
func (f *FileBackend) Nearest(_ context.Context, query []float32, minSimilarity float64) ([]Similar, error) {
	f.mu.Lock()
	err := f.load()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Similar
	for label, v := range f.vectors {
		score := embedding.Cosine(query, v)
		if score >= minSimilarity {
			out = append(out, Similar{Label: label, Score: score})
		}
	}
	rank(out)
	return out, nil
}

// Len returns the number of indexed labels.
func (f *FileBackend) Len() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return 0, err
	}
	return len(f.vectors), nil
}

// Close implements Backend.
func (f *FileBackend) Close() error { return nil }
