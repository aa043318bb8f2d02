package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels requests no admin route claimed, so scanners
// probing random paths cannot grow the metric label set.
const UnmatchedRoute = "unmatched"

func adminRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return UnmatchedRoute
}

// AdminRequestLogger writes one line per admin request. Health and metrics
// scrapes log at debug; actions and failures are raised. Requests aimed at
// one connection carry its id as conn.
func AdminRequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		case c.Request.Method != http.MethodGet:
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		event = event.
			Str("method", c.Request.Method).
			Str("route", adminRoute(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if id := c.Param("id"); id != "" {
			event = event.Str("conn", id)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("admin.request")
	}
}

// AdminRequestMetrics counts admin requests by route pattern.
func AdminRequestMetrics(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, adminRoute(c), c.Writer.Status(), time.Since(start))
	}
}
