package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entrance/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonClientRate = "client-rate"

// SignupRateLimit throttles signups per client address. Limiter failures let
// the request through.
func (s *Server) SignupRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		result, err := s.limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("signup rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if result.Allowed {
			c.Next()
			return
		}

		logger.FromContext(ctx).Warn("signup rate limit exceeded",
			zap.String("reason", rateLimitReasonClientRate),
			zap.String("endpoint", endpoint),
		)
		s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonClientRate)

		retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.Header("X-Rate-Limited-Reason", rateLimitReasonClientRate)
		AbortWithError(c, ErrRateLimited)
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
