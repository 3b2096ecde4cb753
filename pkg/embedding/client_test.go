package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finpro-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-model", req.Model)
		assert.Equal(t, []string{"revenue growth"}, req.Input)

		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "embed-model"}, srv.Client())
	vec, err := c.CreateEmbedding(context.Background(), "revenue growth")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestCreateEmbeddingErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer empty" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(config.EmbeddingConfig{APIKey: "bad", BaseURL: srv.URL}, srv.Client()).
		CreateEmbedding(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = NewClient(config.EmbeddingConfig{APIKey: "empty", BaseURL: srv.URL}, srv.Client()).
		CreateEmbedding(context.Background(), "q")
	require.Error(t, err)
}
