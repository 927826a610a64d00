package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cannot receive 2FA SMS code", req.Input)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3],"index":0}],"model":"test-model"}`))
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(Config{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		Model:      "test-model",
		Dimensions: 3,
	})
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), "cannot receive 2FA SMS code")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, embedder.Dimensions())
}

func TestOpenAIEmbedEmptyText(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(Config{APIKey: "k", Dimensions: 4})
	require.NoError(t, err)

	// Empty text short-circuits to a zero vector without an API call.
	vec, err := embedder.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vec)
}

func TestOpenAIEmbedDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2],"index":0}]}`))
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(Config{BaseURL: server.URL, APIKey: "k", Dimensions: 3})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestOpenAIEmbedAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(Config{BaseURL: server.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestOpenAIEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(Config{})
	assert.Error(t, err)
}
