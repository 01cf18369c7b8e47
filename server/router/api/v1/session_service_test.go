package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/plugin/ai"
	"github.com/hrygo/bankdesk/plugin/ai/agent"
	"github.com/hrygo/bankdesk/plugin/ai/agent/tools"
	"github.com/hrygo/bankdesk/plugin/ai/conversation"
	"github.com/hrygo/bankdesk/plugin/ai/session"
	apierrors "github.com/hrygo/bankdesk/server/internal/errors"
	"github.com/hrygo/bankdesk/server/middleware"
)

// bankLLM asks for the balance tool when the user mentions a balance,
// reports tool results verbatim and echoes everything else.
type bankLLM struct{}

func (bankLLM) Chat(context.Context, []ai.Message) (string, error) {
	return "", errors.New("not used")
}

func (bankLLM) ChatWithTools(_ context.Context, messages []ai.Message, _ []ai.ToolDescriptor) (*ai.ChatResponse, error) {
	last := messages[len(messages)-1]
	switch {
	case last.Role == ai.RoleTool:
		return &ai.ChatResponse{Content: "Your balance: " + last.Content}, nil
	case last.Content == "fail":
		return nil, errors.New("upstream unavailable")
	case strings.Contains(last.Content, "balance"):
		return &ai.ChatResponse{ToolCalls: []ai.ToolCall{{ID: "call-1", Name: "get_balance", Arguments: "{}"}}}, nil
	default:
		return &ai.ChatResponse{Content: "**echo**: " + last.Content}, nil
	}
}

type apiFixture struct {
	echo    *echo.Echo
	service *APIV1Service
	store   session.Store

	mu     sync.Mutex
	tokens []string
}

func newAPIFixture(t *testing.T, limiter *middleware.RateLimiter) *apiFixture {
	t.Helper()

	f := &apiFixture{store: session.NewMemoryStore()}
	balance := tools.NewFuncTool(tools.Descriptor{
		Name:        "get_balance",
		Description: "Returns the account balance of the signed-in user.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Requires:    tools.NewCapabilitySet(tools.CapabilityBankLogin),
	}, func(_ context.Context, _ json.RawMessage, creds tools.Credentials) (*tools.Result, error) {
		token, _ := creds[tools.CapabilityBankLogin]()
		f.mu.Lock()
		f.tokens = append(f.tokens, token)
		f.mu.Unlock()
		return &tools.Result{Content: "1,000,000 LAK"}, nil
	})
	registry, err := tools.NewRegistry(balance)
	require.NoError(t, err)

	manager := agent.NewManager(func(context.Context) (*agent.Dispatcher, error) {
		return agent.NewDispatcher(agent.DispatcherConfig{LLM: bankLLM{}, Registry: registry, Store: f.store})
	})
	if limiter == nil {
		limiter = middleware.NewRateLimiter(1000, 1000)
	}

	f.service = NewAPIV1Service(&profile.Profile{}, manager, limiter, nil)
	f.echo = echo.New()
	f.service.RegisterRoutes(f.echo)
	return f
}

func (f *apiFixture) do(t *testing.T, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var payload string
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(data)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func idToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestCreateSession(t *testing.T) {
	f := newAPIFixture(t, nil)

	t.Run("NewSessionGetsAGreeting", func(t *testing.T) {
		rec := f.do(t, "/api/v1/sessions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[SessionResponse](t, rec)
		assert.NotEmpty(t, resp.ID)
		require.Len(t, resp.History, 1)
		assert.Equal(t, conversation.EntryTypeAI, resp.History[0].Type)
		assert.Equal(t, conversation.DefaultGreeting, resp.History[0].Data.Content)
	})

	t.Run("GivenHistoryIsKept", func(t *testing.T) {
		rec := f.do(t, "/api/v1/sessions", CreateSessionRequest{
			ID: "web-1",
			History: []conversation.HistoryEntry{
				conversation.NewHistoryEntry(conversation.EntryTypeAI, "hi"),
				conversation.NewHistoryEntry(conversation.EntryTypeHuman, "hello"),
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[SessionResponse](t, rec)
		assert.Equal(t, "web-1", resp.ID)
		assert.Len(t, resp.History, 2)
	})

	t.Run("UnknownEntryType", func(t *testing.T) {
		rec := f.do(t, "/api/v1/sessions", CreateSessionRequest{
			History: []conversation.HistoryEntry{conversation.NewHistoryEntry("system", "x")},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apierrors.ErrCodeInvalidArgument, decode[ErrorResponse](t, rec).Code)
	})
}

func TestChat(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, "**echo**: hello", resp.Output)
	assert.Contains(t, resp.OutputHTML, "<strong>echo</strong>: hello")
	assert.Equal(t, agent.StateDone, resp.State)
	assert.NotNil(t, resp.Trace)
	assert.Empty(t, resp.Trace)

	// The unknown session was created with a greeting before the prompt.
	cp, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, cp.Turns, 3)
	assert.Equal(t, conversation.DefaultGreeting, cp.Turns[0].Content)

	rec = f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: strings.Repeat("x", maxPromptLength+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_ModelFailure(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "fail"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, apierrors.ErrCodeLLMUnavailable, decode[ErrorResponse](t, rec).Code)

	// The failed cycle left only the greeting behind.
	cp, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, cp.Turns, 1)
}

func TestChat_LoginFlow(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "what is my balance?"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, agent.StateNeedLogin, resp.State)
	assert.Equal(t, agent.LoginRequiredMessage, resp.Output)
	assert.Empty(t, f.tokens)

	rec = f.do(t, "/api/v1/sessions/s1/login", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := idToken(t, jwt.MapClaims{"name": "Somchai", "email": "somchai@example.com"})
	rec = f.do(t, "/api/v1/sessions/s1/login", nil, echo.HeaderAuthorization, "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[LoginResponse](t, rec)
	require.NotNil(t, login.UserInfo)
	assert.Equal(t, "Somchai", login.UserInfo.Name)
	assert.Equal(t, "somchai@example.com", login.UserInfo.Email)

	rec = f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "what is my balance?"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[ChatResponse](t, rec)
	assert.Equal(t, agent.StateDone, resp.State)
	assert.Equal(t, "Your balance: 1,000,000 LAK", resp.Output)
	require.Len(t, resp.Trace, 1)
	assert.Equal(t, "get_balance", resp.Trace[0].ToolName)
	assert.Equal(t, "call-1", resp.Trace[0].InvocationID)
	assert.Equal(t, []string{token}, f.tokens)

	// Only the capability name is persisted.
	cp, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, string(tools.CapabilityBankLogin), cp.CredentialRef)
}

func TestLogin_OpaqueToken(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, "/api/v1/sessions/s1/login", nil, echo.HeaderAuthorization, "bearer opaque-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[LoginResponse](t, rec).UserInfo)

	token, ok := f.service.Manager.GetCredential("s1")
	assert.True(t, ok)
	assert.Equal(t, "opaque-token", token)
}

func TestResetSession(t *testing.T) {
	f := newAPIFixture(t, nil)

	token := idToken(t, jwt.MapClaims{"name": "Somchai"})
	require.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s1/login", nil, echo.HeaderAuthorization, "Bearer "+token).Code)
	require.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "hello"}).Code)

	rec := f.do(t, "/api/v1/sessions/s1/reset", ResetSessionRequest{UserInfo: &conversation.UserInfo{Name: "Somchai"}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SessionResponse](t, rec)
	require.Len(t, resp.History, 1)
	assert.Contains(t, resp.History[0].Data.Content, "Somchai")

	_, ok := f.service.Manager.GetCredential("s1")
	assert.False(t, ok)
	assert.True(t, f.service.Manager.IsLive("s1"))

	// Reset of an unknown id creates it first.
	rec = f.do(t, "/api/v1/sessions/s2/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conversation.DefaultGreeting, decode[SessionResponse](t, rec).History[0].Data.Content)
}

func TestSignout(t *testing.T) {
	f := newAPIFixture(t, nil)

	require.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "hello"}).Code)

	rec := f.do(t, "/api/v1/sessions/s1/signout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.service.Manager.IsLive("s1"))
	assert.Zero(t, f.service.RateLimiter.Len())

	cp, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, cp.Turns)

	rec = f.do(t, "/api/v1/sessions/s1/signout", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.ErrCodeSessionNotFound, decode[ErrorResponse](t, rec).Code)

	// The id starts over with a greeting.
	rec = f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "again"})
	require.Equal(t, http.StatusOK, rec.Code)
	cp, err = f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, cp.Turns, 3)
}

func TestRateLimitPerSession(t *testing.T) {
	f := newAPIFixture(t, middleware.NewRateLimiter(0.001, 2))

	assert.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "1"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "2"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "3"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s2/chat", ChatRequest{Prompt: "1"}).Code)
}

func TestGetMetrics(t *testing.T) {
	f := newAPIFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "hello"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, "/api/v1/sessions/s1/chat", ChatRequest{Prompt: "balance"}).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metrics struct {
			CycleStates map[string]int64 `json:"cycle_states"`
		} `json:"metrics"`
		Agent struct {
			TotalCycles  int64 `json:"total_cycles"`
			LoginPrompts int64 `json:"login_prompts"`
		} `json:"agent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]int64{"DONE": 1, "NEED_LOGIN": 1}, body.Metrics.CycleStates)
	assert.Equal(t, int64(2), body.Agent.TotalCycles)
	assert.Equal(t, int64(1), body.Agent.LoginPrompts)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		assert.Equal(t, tt.want, got, tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
	}
}
