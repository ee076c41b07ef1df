package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entrance/internal/config"
	"go.uber.org/zap"
)

const keySignupClient = "signup:client:%s"

// SignupLimiter throttles account creation per client address.
type SignupLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewSignupLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*SignupLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return &SignupLimiter{}, nil
	}
	if client == nil {
		log.Named("ratelimit").Warn("rate limiting enabled without redis; signup requests are not throttled")
		return &SignupLimiter{}, nil
	}
	if limitCfg.SignupRate <= 0 || limitCfg.SignupBurst <= 0 {
		return nil, fmt.Errorf("signup rate limit must be positive: rate=%v burst=%d", limitCfg.SignupRate, limitCfg.SignupBurst)
	}

	return &SignupLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.SignupRate,
		burst:   limitCfg.SignupBurst,
	}, nil
}

func (l *SignupLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow takes one token from the bucket of clientIP.
func (l *SignupLimiter) Allow(ctx context.Context, clientIP string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keySignupClient, clientIP), l.rate, l.burst)
}
