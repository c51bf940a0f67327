package api

import (
	"log/slog"
	"net/http"
	"time"

	"picbin/internal/server/ratelimit"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// RateLimit enforces a fixed-window limit per caller, keyed by keyFor.
// Denied requests consume nothing, so hammering a closed window does not
// push it further out.
func RateLimit(limiter *ratelimit.Limiter, max int, window time.Duration, keyFor func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyFor(c)
			ok, err := limiter.Allow(key, max, window)
			if err != nil {
				slog.Error("rate limit check failed", "key", key, "error", err)
				// Fail open; losing the limiter must not take uploads down.
				return next(c)
			}
			if !ok {
				slog.Warn("rate limit exceeded", "key", key, "ip", c.RealIP())
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"ok":    false,
					"error": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}
