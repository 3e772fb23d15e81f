package detection

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/entityindex/internal/canon"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/embedding"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/frames"
)

// ImageTextEmbedder embeds images and texts into one vector space.
type ImageTextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImage(ctx context.Context, path string) ([]float32, error)
}

// CachedEmbedder memoizes text and image vectors. Open vocabulary and
// verification share one instance so a frame is embedded once.
type CachedEmbedder struct {
	inner ImageTextEmbedder
	cache *cache.Cache
}

// NewCachedEmbedder wraps inner. Entries expire after ttl.
func NewCachedEmbedder(inner ImageTextEmbedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache.New(ttl, 2*ttl)}
}

// EmbedTexts returns vectors for texts, requesting only uncached ones.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get("text:" + t); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		out[missingIdx[j]] = v
		c.cache.SetDefault("text:"+missing[j], v)
	}
	return out, nil
}

// EmbedImage returns the vector of the image at path. The key includes
// size and modification time so a rewritten frame is embedded again.
func (c *CachedEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	key := "image:" + path
	if fi, err := os.Stat(path); err == nil {
		key = fmt.Sprintf("image:%s:%d:%d", path, fi.Size(), fi.ModTime().UnixNano())
	}
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}

	v, err := c.inner.EmbedImage(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, v)
	return v, nil
}

// prompt fills the label into a template such as "a photo of %s".
func prompt(template, label string) string {
	if template == "" || !strings.Contains(template, "%s") {
		return "a photo of " + label
	}
	return fmt.Sprintf(template, label)
}

// matchLabels scores an image vector against label vectors and emits a
// detection for every label at or above threshold.
func matchLabels(image []float32, labels []string, vectors [][]float32, threshold float64, source Source) []Detection {
	var dets []Detection
	for i, label := range labels {
		score := embedding.Cosine(image, vectors[i])
		if score < threshold {
			continue
		}
		dets = append(dets, Detection{
			Label:      label,
			Confidence: round(score, 4),
			Source:     source,
		})
	}
	return dets
}

// OpenVocabDetector scores each frame against a fixed list of phrases.
type OpenVocabDetector struct {
	settings conf.OpenVocabSettings
	embedder ImageTextEmbedder

	mu      sync.Mutex
	ready   bool
	labels  []string
	vectors [][]float32
}

// NewOpenVocabDetector creates an open vocabulary detector.
func NewOpenVocabDetector(settings conf.OpenVocabSettings, embedder ImageTextEmbedder) *OpenVocabDetector {
	return &OpenVocabDetector{settings: settings, embedder: embedder}
}

func (d *OpenVocabDetector) Name() string   { return "open_vocab" }
func (d *OpenVocabDetector) Source() Source { return SourceOpenVocab }

// Init embeds the candidate phrases. Once embedding succeeds later calls
// return nil; a failure is retried on the next call.
func (d *OpenVocabDetector) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return nil
	}

	var labels, prompts []string
	for _, l := range d.settings.Labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		labels = append(labels, l)
		prompts = append(prompts, prompt(d.settings.Prompt, l))
	}
	if len(labels) > 0 {
		vectors, err := d.embedder.EmbedTexts(ctx, prompts)
		if err != nil {
			return errors.New(fmt.Errorf("failed to embed open vocabulary labels: %w", err)).
				Category(errors.CategoryModelInit).
				Build()
		}
		d.labels, d.vectors = labels, vectors
	}
	d.ready = true
	return nil
}

// Detect emits one detection per phrase similar enough to the frame.
func (d *OpenVocabDetector) Detect(ctx context.Context, frame frames.Frame) ([]Detection, error) {
	if err := d.Init(ctx); err != nil {
		return nil, err
	}
	if len(d.labels) == 0 {
		return nil, nil
	}

	image, err := d.embedder.EmbedImage(ctx, frame.Path)
	if err != nil {
		return nil, err
	}
	return matchLabels(image, d.labels, d.vectors, d.settings.Threshold, SourceOpenVocab), nil
}

// Verifier corroborates labels proposed by other detectors by scoring
// them against the frame.
type Verifier struct {
	settings conf.VerifySettings
	prompt   string
	embedder ImageTextEmbedder
}

// NewVerifier creates a verifier using the open vocabulary prompt template.
func NewVerifier(settings conf.VerifySettings, promptTemplate string, embedder ImageTextEmbedder) *Verifier {
	return &Verifier{settings: settings, prompt: promptTemplate, embedder: embedder}
}

func (v *Verifier) Name() string   { return "verify" }
func (v *Verifier) Source() Source { return SourceVerify }

// Corroborate scores candidates against the frame. Identifier-like labels
// are skipped; they come from text on screen, not from appearance.
func (v *Verifier) Corroborate(ctx context.Context, frame frames.Frame, candidates []string) ([]Detection, error) {
	var labels, prompts []string
	for _, c := range candidates {
		if c == "" || canon.IsCode(c) {
			continue
		}
		labels = append(labels, c)
		prompts = append(prompts, prompt(v.prompt, c))
	}
	if len(labels) == 0 {
		return nil, nil
	}

	vectors, err := v.embedder.EmbedTexts(ctx, prompts)
	if err != nil {
		return nil, err
	}
	image, err := v.embedder.EmbedImage(ctx, frame.Path)
	if err != nil {
		return nil, err
	}
	return matchLabels(image, labels, vectors, v.settings.Threshold, SourceVerify), nil
}
