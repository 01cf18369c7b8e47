package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hrygo/bankdesk/plugin/ai"
	"github.com/hrygo/bankdesk/plugin/ai/agent"
	"github.com/hrygo/bankdesk/plugin/ai/agent/tools"
)

// ErrAIDisabled is returned when no model endpoint is configured.
var ErrAIDisabled = errors.New("AI is not configured, set BANKDESK_AI_LLM_API_KEY")

// buildDispatcher wires the model, the tool registry and the checkpoint store.
// The manager calls it on the first session and retries it after a failure.
func (s *Server) buildDispatcher(ctx context.Context) (*agent.Dispatcher, error) {
	aiConfig := ai.NewConfigFromProfile(s.Profile)
	if !aiConfig.Enabled {
		return nil, ErrAIDisabled
	}
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	llm, err := ai.NewLLMService(&aiConfig.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM service: %w", err)
	}

	var embedder tools.Embedder
	if aiConfig.Embedding.Model != "" {
		embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
		if err != nil {
			slog.Warn("product search falls back to keywords", "error", err)
		} else {
			embedder = embeddingService
		}
	}

	toolList, err := s.loadTools(ctx, embedder)
	if err != nil {
		return nil, err
	}
	registry, err := tools.NewRegistry(toolList...)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	slog.Info("tool registry ready", "tools", registry.Names())

	return agent.NewDispatcher(agent.DispatcherConfig{
		LLM:           llm,
		Registry:      registry,
		Store:         s.sessionStore,
		Executor:      tools.NewExecutor(tools.WithTimeout(s.Profile.AIToolTimeout)),
		ModelTimeout:  s.Profile.AIModelTimeout,
		MaxIterations: s.Profile.AIMaxIterations,
		Location:      agent.LoadLocation(s.Profile.AITimezone),
	})
}

// loadTools returns the local catalog search plus the toolbox tools named by
// the manifest file and the remote toolset.
func (s *Server) loadTools(ctx context.Context, embedder tools.Embedder) ([]tools.Tool, error) {
	productSearch, err := tools.NewProductSearchTool(s.Store, embedder)
	if err != nil {
		return nil, err
	}
	toolList := []tools.Tool{productSearch}

	if s.Profile.ToolboxManifest == "" && s.Profile.ToolboxToolset == "" {
		return toolList, nil
	}
	client := tools.NewToolboxClient(s.Profile.ToolboxURL)

	if s.Profile.ToolboxManifest != "" {
		manifest, err := tools.LoadManifest(s.Profile.ToolboxManifest)
		if err != nil {
			return nil, err
		}
		toolList = append(toolList, client.ToolsFromManifest(manifest)...)
	}
	if s.Profile.ToolboxToolset != "" {
		remote, err := client.LoadToolset(ctx, s.Profile.ToolboxToolset)
		if err != nil {
			return nil, fmt.Errorf("failed to load toolset %s: %w", s.Profile.ToolboxToolset, err)
		}
		toolList = append(toolList, remote...)
	}
	return toolList, nil
}
