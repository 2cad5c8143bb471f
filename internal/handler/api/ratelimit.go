package api

import (
	"github.com/labstack/echo/v4"

	"PatternDesk/internal/service/ratelimit"
	xhttp "PatternDesk/pkg/http"
)

// RateLimitMiddleware rejects clients that exhaust their token bucket with 429.
func RateLimitMiddleware(l *ratelimit.Limiter, rate RateLimit) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP(), rate.Capacity, rate.RefillPerSec) {
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequests())
			}
			return next(c)
		}
	}
}
