// Package cache provides the shared Redis connection.
package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entrance/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pingTimeout = 3 * time.Second

var Module = fx.Module("cache.redis",
	fx.Provide(NewRedisClient),
)

// NewRedisClient returns nil when no Redis address is configured; consumers
// fall back to in-process behaviour.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}

	log = log.Named("cache.redis")
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}
