package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/bankdesk/server/internal/observability"
)

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, float64(DefaultRatePerSecond), float64(rl.limit))
	assert.Equal(t, DefaultBurst, rl.burst)
}

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	// Other keys have their own bucket.
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Len())

	rl.Forget("a")
	assert.Equal(t, 1, rl.Len())
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.NoError(t, rl.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "a"))
}

func newEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mw...)
	e.POST("/sessions/:id/chat", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/open", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	return e
}

func serve(e *echo.Echo, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	e := newEcho(RateLimit(rl, nil))

	assert.Equal(t, http.StatusOK, serve(e, "/sessions/s1/chat").Code)

	rec := serve(e, "/sessions/s1/chat")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, serve(e, "/sessions/s2/chat").Code)

	// Routes without a session id are not limited.
	assert.Equal(t, http.StatusNoContent, serve(e, "/open").Code)
	assert.Equal(t, http.StatusNoContent, serve(e, "/open").Code)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	metrics := observability.NewMetrics(10)

	var seen *observability.RequestContext
	e := echo.New()
	e.Use(RequestLogger(logger, metrics))
	e.POST("/sessions/:id/chat", func(c echo.Context) error {
		seen, _ = observability.FromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/sessions/:id/fail", func(_ echo.Context) error {
		return errors.New("model down")
	})

	rec := serve(e, "/sessions/s1/chat", HeaderRequestID, "req-42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	require.NotNil(t, seen)
	assert.Equal(t, "s1", seen.SessionID)
	assert.Equal(t, "/sessions/:id/chat", seen.Route)
	assert.Contains(t, buf.String(), "request served")

	rec = serve(e, "/sessions/s1/fail")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	assert.Contains(t, buf.String(), "request failed")

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.RequestTotal)
	assert.Equal(t, int64(1), snap.RequestFailed)
}
