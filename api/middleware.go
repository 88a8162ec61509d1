package api

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const loggerContextKey = "logger"

// RequestLogger 以 slog 記錄每個請求，並把帶有請求資訊的 logger 放進 context
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := logger.With(
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)
		c.Set(loggerContextKey, requestLogger)

		c.Next()

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("route", c.FullPath()),
			slog.String("clientIP", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			requestLogger.Error("Request handled", attrs...)
		} else {
			requestLogger.Info("Request handled", attrs...)
		}
	}
}

func loggerFrom(c *gin.Context) *slog.Logger {
	if value, ok := c.Get(loggerContextKey); ok {
		if logger, ok := value.(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}

// LocalOnly 只允許本機 (loopback) 位址存取
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Message: "internal endpoint is only available from loopback"})
			return
		}
		c.Next()
	}
}
