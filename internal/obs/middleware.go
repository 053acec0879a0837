package obs

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs every request with method, path, status and
// latency, and records the same observation into m. Adapted from the
// teacher's plain log.Printf request logger, generalized to structured
// zap fields and a metrics sink.
func RequestLogger(logger *zap.Logger, m Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("trace_id", GinTraceID(c)),
		)
		m.ObserveRequest(route, c.Request.Method, status, elapsed.Seconds())
	}
}

// Recovery recovers panics in handlers, logs them, and returns a
// uniform APIError body instead of crashing the process.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", zap.Any("error", err), zap.String("trace_id", GinTraceID(c)))
				c.AbortWithStatusJSON(http.StatusInternalServerError, NewAPIError(http.StatusInternalServerError, "internal server error"))
			}
		}()
		c.Next()
	}
}
