package realtime

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entrance/internal/config"
	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("realtime",
	fx.Provide(NewHub),
	fx.Provide(newBroadcaster),
)

func newBroadcaster(lc fx.Lifecycle, cfg config.Config, hub *Hub, client *redis.Client, log *zap.Logger) signupdomain.Broadcaster {
	if !cfg.Realtime.Enabled {
		return NewNoopBroadcaster()
	}
	if !cfg.Realtime.RedisFanout || client == nil {
		return NewLocalBroadcaster(hub)
	}

	relay := NewRelay(client, cfg.Realtime.Channel, hub, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				relay.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})

	return NewRedisBroadcaster(client, cfg.Realtime.Channel)
}
