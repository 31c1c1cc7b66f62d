package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chat-pdf-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEmbedding(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "text-embedding-3-small"})
	vec, err := c.CreateEmbedding(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, "hello world", got.Input)
}

func TestCreateEmbeddingErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-200", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`},
		{"empty data", http.StatusOK, `{"data":[]}`},
		{"bad json", http.StatusOK, `{"data":`},
		{"empty vector", http.StatusOK, `{"data":[{"embedding":[]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Model: "m"})
			_, err := c.CreateEmbedding(context.Background(), "text")
			assert.Error(t, err)
		})
	}
}

func TestCreateEmbeddingUpstreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"This model's maximum context length is 8192 tokens","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Model: "m"})
	_, err := c.CreateEmbedding(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "maximum context length")
	assert.NotContains(t, err.Error(), "invalid_request_error")
}

func TestCreateEmbeddingDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Model: "text-embedding-ada-002", Dimensions: 1536})
	_, err := c.CreateEmbedding(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}
