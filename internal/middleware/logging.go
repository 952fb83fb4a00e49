package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
)

// Logger middleware logs request details and records request metrics
func Logger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		l := logger
		if id := c.GetString(RequestIDContextKey); id != "" {
			l = l.WithRequestID(id)
		}
		if owner, ok := GetOwnerID(c); ok {
			l = l.WithField("owner_id", owner)
		}
		if len(c.Errors) > 0 {
			l = l.WithField("errors", c.Errors.String())
		}
		l.LogHTTPRequest(c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), latency)

		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), latency.Seconds())
	}
}
