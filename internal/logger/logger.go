// Package logger builds the process zap logger and the request-scoped
// correlation middleware.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader carries the request correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

const (
	correlationKey = "nexusCorrelationID"
	loggerKey      = "nexusLogger"
)

// Init builds a production JSON logger using LOG_LEVEL (debug, info, warn, error).
func Init() (*zap.Logger, error) {
	return New(os.Getenv("LOG_LEVEL"))
}

// New builds a production JSON logger at the given level; unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zapcore.InfoLevel
	if level = strings.TrimSpace(level); level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Middleware assigns a correlation id to each request and stores a child
// logger carrying it. Incoming ids are reused.
func Middleware() gin.HandlerFunc {
	return MiddlewareWith(zap.NewNop())
}

// MiddlewareWith is Middleware plus an access log line on the given logger.
func MiddlewareWith(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationIDHeader, id)

		reqLogger := base.With(zap.String("correlation_id", id))
		c.Set(loggerKey, reqLogger)

		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/metrics" {
			return
		}
		reqLogger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// CorrelationID returns the id assigned by Middleware, or "" outside of it.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// FromContext returns the request logger, falling back to fallback.
func FromContext(c *gin.Context, fallback *zap.Logger) *zap.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}
