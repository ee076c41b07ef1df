package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/entrance/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging. ErrorClassifier maps the last
// handler error to an (error_type, error_code) pair.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware stores correlation identifiers on the request context and
// writes one http_request entry per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithClientIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := routeOf(c)
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
			zap.String("user_agent", c.Request.UserAgent()),
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug && status >= http.StatusInternalServerError {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		FromContext(c.Request.Context()).Log(requestLevel(route, status), "http_request", fields...)
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

func routeOf(c *gin.Context) string {
	if route := strings.TrimSpace(c.FullPath()); route != "" {
		return route
	}
	return "unknown"
}

// requestLevel keeps probes quiet and reserves error level for 5xx.
func requestLevel(route string, status int) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zap.DebugLevel
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case status == http.StatusTooManyRequests:
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}
