package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbeddingService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *EmbeddingConfig
		expectError bool
	}{
		{
			name: "Gemini config",
			cfg: &EmbeddingConfig{
				Provider:   "gemini",
				Model:      "text-embedding-004",
				Dimensions: 768,
				APIKey:     "test-key",
			},
		},
		{
			name: "OpenAI config",
			cfg: &EmbeddingConfig{
				Provider:   "openai",
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
				APIKey:     "test-key",
				BaseURL:    "https://api.openai.com/v1",
			},
		},
		{
			name: "Ollama config",
			cfg: &EmbeddingConfig{
				Provider:   "ollama",
				Model:      "nomic-embed-text",
				Dimensions: 768,
			},
		},
		{
			name:        "Unsupported provider",
			cfg:         &EmbeddingConfig{Provider: "unsupported"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewEmbeddingService(tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Dimensions, svc.Dimensions())
			assert.Equal(t, tt.cfg.Model, svc.Model())
		})
	}
}

// mockEmbedder is a mock embedder for testing.
type mockEmbedder struct {
	returnEmpty bool
	reverse     bool
	err         error
	dimensions  int
	lastReq     openai.EmbeddingRequest
}

func (m *mockEmbedder) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	m.lastReq = conv.Convert()
	if m.err != nil {
		return openai.EmbeddingResponse{}, m.err
	}
	if m.returnEmpty {
		return openai.EmbeddingResponse{}, nil
	}
	texts := m.lastReq.Input.([]string)
	resp := openai.EmbeddingResponse{}
	for i := range texts {
		vec := make([]float32, m.dimensions)
		vec[0] = float32(i)
		resp.Data = append(resp.Data, openai.Embedding{Index: i, Embedding: vec})
	}
	if m.reverse {
		for l, r := 0, len(resp.Data)-1; l < r; l, r = l+1, r-1 {
			resp.Data[l], resp.Data[r] = resp.Data[r], resp.Data[l]
		}
	}
	return resp, nil
}

func TestEmbeddingService_EmbedBatch(t *testing.T) {
	mock := &mockEmbedder{dimensions: 4, reverse: true}
	svc := &embeddingService{client: mock, model: "text-embedding-004", dimensions: 4}

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0], "vector %d out of order", i)
	}
	assert.Equal(t, openai.EmbeddingModel("text-embedding-004"), mock.lastReq.Model)
	assert.Equal(t, 4, mock.lastReq.Dimensions)
}

func TestEmbeddingService_Errors(t *testing.T) {
	t.Run("NoTexts", func(t *testing.T) {
		svc := &embeddingService{client: &mockEmbedder{}, dimensions: 4}
		_, err := svc.EmbedBatch(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("EmptyResult", func(t *testing.T) {
		svc := &embeddingService{client: &mockEmbedder{returnEmpty: true}, dimensions: 4}
		_, err := svc.Embed(context.Background(), "test")
		assert.Error(t, err)
	})

	t.Run("ClientError", func(t *testing.T) {
		boom := errors.New("boom")
		svc := &embeddingService{client: &mockEmbedder{err: boom}, dimensions: 4}
		_, err := svc.Embed(context.Background(), "test")
		assert.ErrorIs(t, err, boom)
	})
}

func TestEmbeddingService_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-004", req["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-004"}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&EmbeddingConfig{Provider: "gemini", Model: "text-embedding-004", Dimensions: 3, APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	vec, err := svc.Embed(context.Background(), "Savings Account")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}
