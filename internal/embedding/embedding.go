// Package embedding wraps an OpenAI compatible embeddings endpoint for
// text and image vectors, and provides the vector math shared by the
// detectors and the label index.
package embedding

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tphakala/entityindex/internal/errors"
)

// batchSize bounds the number of inputs sent in one embeddings request.
const batchSize = 128

// Client talks to an OpenAI compatible API.
type Client struct {
	oa *openai.Client
}

// NewClient creates a client for baseURL. A nil httpClient uses a default
// client with timeout.
func NewClient(apiKey, baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	cfg.HTTPClient = httpClient
	return &Client{oa: openai.NewClientWithConfig(cfg)}
}

// OpenAI exposes the underlying client for chat and audio calls.
func (c *Client) OpenAI() *openai.Client {
	return c.oa
}

// Model returns an embedder bound to one model name.
func (c *Client) Model(name string) *Model {
	return &Model{client: c, name: name}
}

// Model embeds texts and images with a single model so both land in the
// same vector space.
type Model struct {
	client *Client
	name   string
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.name
}

// EmbedTexts returns one vector per input, in input order.
func (m *Model) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for batch := range slices.Chunk(texts, batchSize) {
		vectors, err := m.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedImage embeds the image at path, sent inline as a data URI.
func (m *Model) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}

	uri := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	vectors, err := m.embed(ctx, []string{uri})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *Model) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	start := time.Now()
	resp, err := m.client.oa.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(m.name),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("embedding request failed: %w", err)).
			Category(errors.CategoryEmbedding).
			Context("model", m.name).
			Context("inputs", len(inputs)).
			Timing("embed", time.Since(start)).
			Build()
	}
	if len(resp.Data) != len(inputs) {
		return nil, errors.Newf("embedding response has %d vectors for %d inputs", len(resp.Data), len(inputs)).
			Category(errors.CategoryEmbedding).
			Context("model", m.name).
			Build()
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, errors.Newf("embedding response index %d out of range", d.Index).
				Category(errors.CategoryEmbedding).
				Build()
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Cosine returns the cosine similarity of a and b. Zero vectors and
// mismatched lengths yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
