package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

const ctxLogger = "logger"

// LoggerMiddleware stores a request-scoped logger on the context and writes
// one access line per request.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger
		if id := c.GetString(ctxRequestID); id != "" {
			reqLogger = logger.With("request_id", id)
		}
		c.Set(ctxLogger, reqLogger)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		reqLogger.Info("http request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"auth", c.GetString(ctxAuthType),
		)
	}
}

// LoggerFrom returns the request logger, or the default logger when the
// middleware did not run.
func LoggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
