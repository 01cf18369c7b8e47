package v1

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/plugin/ai/agent"
	apierrors "github.com/hrygo/bankdesk/server/internal/errors"
	"github.com/hrygo/bankdesk/server/internal/observability"
	"github.com/hrygo/bankdesk/server/middleware"
)

type APIV1Service struct {
	Profile     *profile.Profile
	Manager     *agent.Manager
	RateLimiter *middleware.RateLimiter
	Metrics     *observability.Metrics

	markdown goldmark.Markdown
}

func NewAPIV1Service(profile *profile.Profile, manager *agent.Manager, limiter *middleware.RateLimiter, metrics *observability.Metrics) *APIV1Service {
	if limiter == nil {
		limiter = middleware.NewRateLimiter(profile.RateLimitPerSecond, profile.RateLimitBurst)
	}
	if metrics == nil {
		metrics = observability.NewMetrics(0)
	}
	return &APIV1Service{
		Profile:     profile,
		Manager:     manager,
		RateLimiter: limiter,
		Metrics:     metrics,
		// Raw HTML from the model is escaped.
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// RegisterRoutes registers the session API with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	api := echoServer.Group("/api/v1")
	api.GET("/metrics", s.GetMetrics)

	sessions := api.Group("/sessions")
	sessions.POST("", s.CreateSession)

	limited := sessions.Group("/:id", middleware.RateLimit(s.RateLimiter, middleware.SessionKey))
	limited.POST("/chat", s.Chat)
	limited.POST("/reset", s.ResetSession)
	limited.POST("/login", s.Login)
	limited.POST("/signout", s.Signout)
}

// GetMetrics returns request and cycle counters of this process, plus the
// dispatcher statistics once a session has started.
// GET /api/v1/metrics
func (s *APIV1Service) GetMetrics(c echo.Context) error {
	snapshot := s.Metrics.Snapshot()
	body := map[string]any{
		"metrics":      snapshot,
		"success_rate": snapshot.SuccessRate(),
	}
	if dispatcher := s.Manager.Dispatcher(); dispatcher != nil {
		body["agent"] = dispatcher.Metrics().GetSummary()
	}
	return c.JSON(http.StatusOK, body)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    apierrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// writeError maps err to its HTTP status and logs it against the request.
func writeError(c echo.Context, err error) error {
	apiErr := apierrors.FromError(err)
	status := apiErr.Code.HTTPStatus()

	if reqCtx, ok := observability.FromContext(c.Request().Context()); ok {
		attrs := []slog.Attr{slog.String(observability.LogFieldErrorCode, string(apiErr.Code))}
		if status >= http.StatusInternalServerError {
			reqCtx.Error("request error", err, attrs...)
		} else {
			reqCtx.Debug("request error", append(attrs, slog.String("error", err.Error()))...)
		}
	}

	message := apiErr.Message
	if apiErr.Code == apierrors.ErrCodeInternal {
		message = "internal error"
	}
	return c.JSON(status, ErrorResponse{Code: apiErr.Code, Message: message})
}

// renderMarkdown renders model output for HTML clients. Rendering failures
// leave the HTML empty; the plain output is always returned.
func (s *APIV1Service) renderMarkdown(source string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(source), &buf); err != nil {
		slog.Warn("failed to render markdown", "error", err)
		return ""
	}
	return buf.String()
}
