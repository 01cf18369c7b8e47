package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newChatServer returns an OpenAI-compatible test server that records the last request.
func newChatServer(t *testing.T, status int, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		if captured != nil {
			assert.NoError(t, json.Unmarshal(raw, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewLLMService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *LLMConfig
		expectError bool
	}{
		{
			name: "Gemini config",
			cfg: &LLMConfig{
				Provider:  "gemini",
				Model:     "gemini-2.5-flash",
				APIKey:    "test-key",
				BaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
				MaxTokens: 512,
			},
		},
		{
			name: "DeepSeek config",
			cfg: &LLMConfig{
				Provider: "deepseek",
				Model:    "deepseek-chat",
				APIKey:   "test-key",
				BaseURL:  "https://api.deepseek.com",
			},
		},
		{
			name: "Ollama config",
			cfg: &LLMConfig{
				Provider: "ollama",
				Model:    "llama3.1",
			},
		},
		{
			name:        "Unsupported provider",
			cfg:         &LLMConfig{Provider: "unsupported"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMService(tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLLMService_ChatWithTools_ToolCalls(t *testing.T) {
	var req map[string]any
	srv := newChatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gemini-2.5-flash",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "search_products", "arguments": "{\"query\":\"loan\"}"}
				}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25}
	}`, &req)

	svc, err := NewLLMService(&LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash", APIKey: "k", BaseURL: srv.URL, MaxTokens: 512})
	require.NoError(t, err)

	resp, err := svc.ChatWithTools(context.Background(),
		[]Message{
			SystemPrompt("You are a bank assistant."),
			UserMessage("Do you have loans?"),
		},
		[]ToolDescriptor{{
			Name:        "search_products",
			Description: "Search the product catalog.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
			},
		}},
	)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search_products", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"loan"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.PromptTokens)

	assert.Equal(t, "gemini-2.5-flash", req["model"])
	assert.EqualValues(t, 512, req["max_tokens"])
	temperature, ok := req["temperature"].(float64)
	require.True(t, ok, "temperature must be sent")
	assert.Less(t, temperature, 1e-6)

	tools, ok := req["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "search_products", fn["name"])

	messages := req["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestLLMService_ChatWithTools_ToolRoundTrip(t *testing.T) {
	var req map[string]any
	srv := newChatServer(t, http.StatusOK, `{
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "We offer a Home Loan."}, "finish_reason": "stop"}]
	}`, &req)

	svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := svc.ChatWithTools(context.Background(), []Message{
		UserMessage("loans?"),
		AssistantMessage("", ToolCall{ID: "call_1", Name: "search_products", Arguments: `{"query":"loan"}`}),
		ToolMessage("call_1", "search_products", "Home Loan"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "We offer a Home Loan.", resp.Content)
	assert.Empty(t, resp.ToolCalls)

	_, hasTools := req["tools"]
	assert.False(t, hasTools)

	messages := req["messages"].([]any)
	require.Len(t, messages, 3)
	assistant := messages[1].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].(map[string]any)["id"])
	tool := messages[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, "Home Loan", tool["content"])
}

func TestLLMService_Chat(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Sabaidee!"}, "finish_reason": "stop"}]
	}`, nil)

	svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := svc.Chat(context.Background(), []Message{UserMessage("hello")})
	require.NoError(t, err)
	assert.Equal(t, "Sabaidee!", out)
}

func TestLLMService_Errors(t *testing.T) {
	t.Run("EmptyChoices", func(t *testing.T) {
		srv := newChatServer(t, http.StatusOK, `{"choices": []}`, nil)
		svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = svc.ChatWithTools(context.Background(), []Message{UserMessage("hi")}, nil)
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := newChatServer(t, http.StatusInternalServerError, `{"error": {"message": "boom", "type": "server_error"}}`, nil)
		svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = svc.ChatWithTools(context.Background(), []Message{UserMessage("hi")}, nil)
		assert.Error(t, err)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		srv := newChatServer(t, http.StatusOK, `{"choices": []}`, nil)
		svc, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = svc.ChatWithTools(ctx, []Message{UserMessage("hi")}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConvertTools_DefaultParameters(t *testing.T) {
	out := convertTools([]ToolDescriptor{{Name: "ping"}})
	require.Len(t, out, 1)
	params, ok := out[0].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
}
