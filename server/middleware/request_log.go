package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/bankdesk/server/internal/observability"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-Id"

// RequestLogger attaches an observability.RequestContext to every request,
// echoes the request id back and logs the outcome with its duration.
func RequestLogger(logger *slog.Logger, metrics *observability.Metrics) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reqCtx := observability.NewRequestContextWithID(logger, req.Header.Get(HeaderRequestID), c.Path(), c.Param("id"))
			c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), reqCtx)))
			c.Response().Header().Set(HeaderRequestID, reqCtx.RequestID)

			err := next(c)
			if err != nil {
				// Let echo write the error response so the status is final.
				c.Error(err)
			}

			status := c.Response().Status
			if metrics != nil {
				metrics.RecordRequest(reqCtx.Route)
				metrics.RecordDuration(reqCtx.Route, reqCtx.Duration())
				if status >= 500 || status == 0 {
					metrics.RecordFailure(reqCtx.Route)
				}
			}

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.Int(observability.LogFieldStatus, status),
				slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()),
			}
			switch {
			case err != nil:
				reqCtx.Error("request failed", err, attrs...)
			case status >= 400:
				reqCtx.Warn("request rejected", attrs...)
			default:
				reqCtx.Info("request served", attrs...)
			}
			return nil
		}
	}
}
