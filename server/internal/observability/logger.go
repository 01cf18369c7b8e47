package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Log field names shared by the HTTP layer.
const (
	LogFieldRequestID = "request_id"
	LogFieldSessionID = "session_id"
	LogFieldRoute     = "route"
	LogFieldDuration  = "duration_ms"
	LogFieldStatus    = "status"
	LogFieldErrorCode = "error_code"
)

// RequestContext carries the identity of one HTTP request. Its Logger is
// already bound to the request id, session id and route.
type RequestContext struct {
	RequestID string
	SessionID string
	Route     string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewRequestContext creates a request context with a fresh request id.
func NewRequestContext(logger *slog.Logger, route, sessionID string) *RequestContext {
	return NewRequestContextWithID(logger, "", route, sessionID)
}

// NewRequestContextWithID creates a request context for a caller-supplied
// request id, generating one when requestID is empty.
func NewRequestContextWithID(logger *slog.Logger, requestID, route, sessionID string) *RequestContext {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestContext{
		RequestID: requestID,
		SessionID: sessionID,
		Route:     route,
		StartTime: time.Now(),
		Logger: logger.With(
			slog.String(LogFieldRequestID, requestID),
			slog.String(LogFieldSessionID, sessionID),
			slog.String(LogFieldRoute, route),
		),
	}
}

func (r *RequestContext) Info(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

func (r *RequestContext) Debug(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (r *RequestContext) Warn(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
}

// Error logs msg at error level with err under the "error" key.
func (r *RequestContext) Error(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	r.Logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Duration returns the elapsed time since the request started.
func (r *RequestContext) Duration() time.Duration {
	return time.Since(r.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (r *RequestContext) DurationMs() int64 {
	return r.Duration().Milliseconds()
}

type ctxKey struct{}

// WithRequestContext adds the request context to ctx.
func WithRequestContext(ctx context.Context, reqCtx *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, reqCtx)
}

// FromContext extracts the request context from ctx.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	reqCtx, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return reqCtx, ok
}
