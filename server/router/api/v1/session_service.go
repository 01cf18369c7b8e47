package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/hrygo/bankdesk/plugin/ai/agent"
	"github.com/hrygo/bankdesk/plugin/ai/conversation"
	apierrors "github.com/hrygo/bankdesk/server/internal/errors"
)

// maxPromptLength bounds a single chat prompt in bytes.
const maxPromptLength = 8 * 1024

// CreateSessionRequest creates or resumes a session.
type CreateSessionRequest struct {
	ID       string                      `json:"id,omitempty"`
	History  []conversation.HistoryEntry `json:"history,omitempty"`
	UserInfo *conversation.UserInfo      `json:"user_info,omitempty"`
}

// SessionResponse describes a session and its history.
type SessionResponse struct {
	ID      string                      `json:"id"`
	History []conversation.HistoryEntry `json:"history"`
}

// ChatRequest carries one user prompt.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// ChatResponse is the outcome of one dispatcher cycle.
type ChatResponse struct {
	Output     string             `json:"output"`
	OutputHTML string             `json:"output_html,omitempty"`
	State      agent.State        `json:"state"`
	Trace      []agent.TraceEntry `json:"trace"`
}

// ResetSessionRequest optionally personalizes the new greeting.
type ResetSessionRequest struct {
	UserInfo *conversation.UserInfo `json:"user_info,omitempty"`
}

// LoginResponse reports the user known from the ID token.
type LoginResponse struct {
	UserInfo *conversation.UserInfo `json:"user_info,omitempty"`
}

// CreateSession creates a session, or resumes the stored one with the same id.
// POST /api/v1/sessions
func (s *APIV1Service) CreateSession(c echo.Context) error {
	req := &CreateSessionRequest{}
	if err := bindOptional(c, req); err != nil {
		return writeError(c, err)
	}

	desc, err := s.Manager.CreateOrResume(c.Request().Context(), &agent.SessionDescriptor{
		ID:       req.ID,
		History:  req.History,
		UserInfo: req.UserInfo,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SessionResponse{ID: desc.ID, History: desc.History})
}

// Chat runs one cycle for the session. Unknown ids are resumed from the
// checkpoint store, or created with a greeting, before the prompt is sent.
// POST /api/v1/sessions/:id/chat
func (s *APIV1Service) Chat(c echo.Context) error {
	id := c.Param("id")
	req := &ChatRequest{}
	if err := c.Bind(req); err != nil {
		return writeError(c, apierrors.InvalidArgument("invalid request body"))
	}
	if len(req.Prompt) > maxPromptLength {
		return writeError(c, apierrors.InvalidArgument("prompt is too long"))
	}

	ctx := c.Request().Context()
	if err := s.ensureLive(ctx, id, nil); err != nil {
		return writeError(c, err)
	}

	result, err := s.Manager.Invoke(ctx, id, strings.TrimSpace(req.Prompt))
	if err != nil {
		return writeError(c, err)
	}
	s.Metrics.RecordCycle(string(result.State))

	trace := result.Trace
	if trace == nil {
		trace = []agent.TraceEntry{}
	}
	return c.JSON(http.StatusOK, ChatResponse{
		Output:     result.Output,
		OutputHTML: s.renderMarkdown(result.Output),
		State:      result.State,
		Trace:      trace,
	})
}

// ResetSession replaces the history with a fresh greeting.
// POST /api/v1/sessions/:id/reset
func (s *APIV1Service) ResetSession(c echo.Context) error {
	id := c.Param("id")
	req := &ResetSessionRequest{}
	if err := bindOptional(c, req); err != nil {
		return writeError(c, err)
	}

	ctx := c.Request().Context()
	if err := s.ensureLive(ctx, id, req.UserInfo); err != nil {
		return writeError(c, err)
	}
	history, err := s.Manager.Reset(ctx, id, req.UserInfo)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SessionResponse{ID: id, History: history})
}

// Login binds the bearer ID token to the session as its bank_login credential.
// The token is forwarded to tools as is; its claims are read without
// verification and only to personalize the session.
// POST /api/v1/sessions/:id/login
func (s *APIV1Service) Login(c echo.Context) error {
	id := c.Param("id")
	token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return writeError(c, apierrors.Unauthorized("a bearer id token is required"))
	}

	user := userInfoFromToken(token)
	ctx := c.Request().Context()
	if err := s.ensureLive(ctx, id, user); err != nil {
		return writeError(c, err)
	}
	if err := s.Manager.SetCredential(ctx, id, token); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, LoginResponse{UserInfo: user})
}

// Signout forgets the session. A later request with the same id starts over.
// POST /api/v1/sessions/:id/signout
func (s *APIV1Service) Signout(c echo.Context) error {
	id := c.Param("id")
	if err := s.Manager.Signout(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	s.RateLimiter.Forget(id)
	return c.NoContent(http.StatusNoContent)
}

// ensureLive loads a session into the manager when it is not live yet.
func (s *APIV1Service) ensureLive(ctx context.Context, id string, user *conversation.UserInfo) error {
	if s.Manager.IsLive(id) {
		return nil
	}
	_, err := s.Manager.CreateOrResume(ctx, &agent.SessionDescriptor{ID: id, UserInfo: user})
	return err
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c echo.Context, dst any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(dst); err != nil {
		return apierrors.InvalidArgument("invalid request body")
	}
	return nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// userInfoFromToken reads display claims from a JWT. Opaque tokens yield nil.
func userInfoFromToken(token string) *conversation.UserInfo {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	user := &conversation.UserInfo{}
	if name, ok := claims["name"].(string); ok {
		user.Name = name
	} else if name, ok := claims["given_name"].(string); ok {
		user.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if user.Name == "" && user.Email == "" {
		return nil
	}
	return user
}
