package middleware

import (
	"time"

	"linktrace/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog logs one line per request. The first request after process start
// carries cold_start=true so invocation latency outliers can be attributed.
func RequestLog(warm *logger.WarmState) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		cold := warm.MarkWarm()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if cold {
			fields = append(fields, zap.Bool("cold_start", true))
		}

		zap.L().Info("http.request", fields...)
	}
}
