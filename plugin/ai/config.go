package ai

import (
	"errors"
	"time"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/plugin/ai/timeout"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	Embedding EmbeddingConfig
	LLM       LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // gemini, openai, ollama
	Model      string // text-embedding-004
	Dimensions int    // 768
	APIKey     string
	BaseURL    string
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // gemini, openai, deepseek, ollama
	Model       string // gemini-2.5-flash
	APIKey      string
	BaseURL     string
	MaxTokens   int           // default: 512
	Temperature float32       // default: 0
	Timeout     time.Duration // default: timeout.ModelTimeout
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
	}

	if !cfg.Enabled {
		return cfg
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		Dimensions: p.AIEmbeddingDimensions,
		APIKey:     p.AIEmbeddingAPIKey,
		BaseURL:    p.AIEmbeddingBaseURL,
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 768
	}

	cfg.LLM = LLMConfig{
		Provider:  p.AILLMProvider,
		Model:     p.AILLMModel,
		APIKey:    p.AILLMAPIKey,
		BaseURL:   p.AILLMBaseURL,
		MaxTokens: p.AILLMMaxTokens,
		Timeout:   p.AIModelTimeout,
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 512
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = timeout.ModelTimeout
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}

	if c.LLM.Model == "" {
		return errors.New("LLM model is required")
	}

	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return errors.New("LLM API key is required")
	}

	if c.Embedding.Model != "" && c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	return nil
}
