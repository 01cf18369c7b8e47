package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/plugin/ai/timeout"
)

func TestNewConfigFromProfile_Gemini(t *testing.T) {
	prof := &profile.Profile{
		AILLMProvider:         "gemini",
		AILLMModel:            "gemini-2.5-flash",
		AILLMAPIKey:           "llm-key",
		AILLMBaseURL:          "https://generativelanguage.googleapis.com/v1beta/openai/",
		AILLMMaxTokens:        512,
		AIEmbeddingProvider:   "gemini",
		AIEmbeddingModel:      "text-embedding-004",
		AIEmbeddingAPIKey:     "llm-key",
		AIEmbeddingBaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai/",
		AIEmbeddingDimensions: 768,
		AIModelTimeout:        45 * time.Second,
	}

	cfg := NewConfigFromProfile(prof)

	require.True(t, cfg.Enabled)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, "llm-key", cfg.LLM.APIKey)
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
	assert.Equal(t, float32(0), cfg.LLM.Temperature)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "text-embedding-004", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.NoError(t, cfg.Validate())
}

func TestNewConfigFromProfile_Defaults(t *testing.T) {
	prof := &profile.Profile{
		AILLMProvider: "openai",
		AILLMModel:    "gpt-4o-mini",
		AILLMAPIKey:   "key",
	}

	cfg := NewConfigFromProfile(prof)

	require.True(t, cfg.Enabled)
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
	assert.Equal(t, timeout.ModelTimeout, cfg.LLM.Timeout)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
}

func TestNewConfigFromProfile_Disabled(t *testing.T) {
	cfg := NewConfigFromProfile(&profile.Profile{AILLMProvider: "gemini"})

	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.LLM.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestNewConfigFromProfile_Ollama(t *testing.T) {
	prof := &profile.Profile{
		AILLMProvider: "ollama",
		AILLMModel:    "llama3.1",
		AILLMBaseURL:  "http://localhost:11434/v1",
	}

	cfg := NewConfigFromProfile(prof)

	require.True(t, cfg.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "missing provider",
			cfg: Config{
				Enabled: true,
				LLM:     LLMConfig{Model: "m", APIKey: "k"},
			},
			wantErr: "LLM provider is required",
		},
		{
			name: "missing model",
			cfg: Config{
				Enabled: true,
				LLM:     LLMConfig{Provider: "openai", APIKey: "k"},
			},
			wantErr: "LLM model is required",
		},
		{
			name: "missing API key",
			cfg: Config{
				Enabled: true,
				LLM:     LLMConfig{Provider: "openai", Model: "m"},
			},
			wantErr: "LLM API key is required",
		},
		{
			name: "missing embedding API key",
			cfg: Config{
				Enabled:   true,
				LLM:       LLMConfig{Provider: "openai", Model: "m", APIKey: "k"},
				Embedding: EmbeddingConfig{Provider: "openai", Model: "e"},
			},
			wantErr: "embedding API key is required",
		},
		{
			name: "valid",
			cfg: Config{
				Enabled:   true,
				LLM:       LLMConfig{Provider: "openai", Model: "m", APIKey: "k"},
				Embedding: EmbeddingConfig{Provider: "openai", Model: "e", APIKey: "k"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
