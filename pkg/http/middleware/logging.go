package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "PatternDesk/pkg/logger"
)

// RequestLogging logs every request at debug level and 5xx at error level.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			} else if cause, ok := c.Get("error").(error); ok {
				err = cause
			}

			req, res := c.Request(), c.Response()
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", res.Status),
				applogger.Duration("latency", time.Since(start)),
			}
			if res.Status >= 500 {
				l.Error("http request failed", append(fields, applogger.Error(err))...)
			} else {
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
