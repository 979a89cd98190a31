package middleware

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

// Logger renders handler errors, then logs the request and records its
// latency under the matched route.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req := c.Request()
			status := c.Response().Status
			metrics.RecordHTTPRequest(req.Method, c.Path(), status, elapsed)

			log := logger.WithContext(req.Context()).
				WithFields(context.Fields(req.Context())).
				WithFields(map[string]any{
					"status":        status,
					"response_time": elapsed,
					"response_size": c.Response().Size,
					"user_agent":    req.UserAgent(),
				})
			if status >= http.StatusInternalServerError {
				log.Warn("Request failed")
				return nil
			}
			log.Info("Request")
			return nil
		}
	}
}
