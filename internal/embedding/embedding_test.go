package embedding

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/errors"
)

const testURL = "https://embed.test/v1"

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// newMockedClient returns a client whose transport is served by httpmock.
func newMockedClient(t *testing.T) *Client {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClient("secret", testURL, time.Second, hc)
}

// echoResponder answers with one two-dimensional vector per input, in
// reverse order so index handling is exercised.
func echoResponder(t *testing.T, requests *[]embeddingRequest) httpmock.Responder {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		var body embeddingRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		*requests = append(*requests, body)

		data := make([]map[string]any, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(body.Input[i])), 1},
			})
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"object": "list",
			"model":  body.Model,
			"data":   data,
		})
	}
}

func TestEmbedTexts(t *testing.T) {
	c := newMockedClient(t)
	var requests []embeddingRequest
	httpmock.RegisterResponder(http.MethodPost, testURL+"/embeddings", echoResponder(t, &requests))

	texts := make([]string, batchSize+2)
	for i := range texts {
		texts[i] = strings.Repeat("x", i%7+1)
	}

	vectors, err := c.Model("clip").EmbedTexts(t.Context(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.InDelta(t, float32(len(texts[i])), v[0], 1e-6, "vector %d out of order", i)
	}

	require.Len(t, requests, 2, "inputs are batched")
	assert.Len(t, requests[0].Input, batchSize)
	assert.Len(t, requests[1].Input, 2)
	assert.Equal(t, "clip", requests[0].Model)
}

func TestEmbedImageSendsDataURI(t *testing.T) {
	c := newMockedClient(t)
	var requests []embeddingRequest
	httpmock.RegisterResponder(http.MethodPost, testURL+"/embeddings", echoResponder(t, &requests))

	path := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10}, 0o644))

	v, err := c.Model("clip").EmbedImage(t.Context(), path)
	require.NoError(t, err)
	assert.Len(t, v, 2)

	require.Len(t, requests, 1)
	require.Len(t, requests[0].Input, 1)
	assert.True(t, strings.HasPrefix(requests[0].Input[0], "data:image/jpeg;base64,"))

	_, err = c.Model("clip").EmbedImage(t.Context(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func TestEmbedErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c := newMockedClient(t)
		httpmock.RegisterResponder(http.MethodPost, testURL+"/embeddings",
			httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":{"message":"boom"}}`))

		_, err := c.Model("clip").EmbedTexts(t.Context(), []string{"tank"})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryEmbedding))
	})

	t.Run("short response", func(t *testing.T) {
		c := newMockedClient(t)
		httpmock.RegisterResponder(http.MethodPost, testURL+"/embeddings",
			httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
				"object": "list",
				"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{1}}},
			}))

		_, err := c.Model("clip").EmbedTexts(t.Context(), []string{"tank", "ship"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 vectors for 2 inputs")
	})
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"scaled", []float32{1, 0}, []float32{3, 4}, 0.6},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Cosine(tt.a, tt.b)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
